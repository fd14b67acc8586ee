// Package record writes sweep results as ';' separated text, Parquet, or a
// console table.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/segmentio/parquet-go"
	"go.uber.org/multierr"

	"github.com/gotmc/bode"
)

// Header is the first line of a CSV record.
var Header = []string{"Frequency in Hz", "Gain in dB", "Phase in Degree"}

// Row is one point of a sweep. Undefined values are NaN.
type Row struct {
	Frequency float64 `parquet:"frequency_hz"`
	GainDB    float64 `parquet:"gain_db"`
	Phase     float64 `parquet:"phase_deg"`
	Status    string  `parquet:"status"`
}

// Rows flattens res.
func Rows(res *bode.Result) []Row {
	rows := make([]Row, len(res.Points))
	for i, p := range res.Points {
		rows[i] = Row{
			Frequency: p.Frequency,
			GainDB:    p.GainDB(),
			Phase:     p.Phase,
			Status:    p.Status.String(),
		}
	}
	return rows
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes the header and one "%f;%f;%f" line per point.
func WriteCSV(w io.Writer, res *bode.Result) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range Rows(res) {
		if err := cw.Write([]string{ftoa(r.Frequency), ftoa(r.GainDB), ftoa(r.Phase)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteParquet writes the rows of res with the sweep identity as file
// metadata.
func WriteParquet(w io.Writer, res *bode.Result) error {
	pw := parquet.NewGenericWriter[Row](w,
		parquet.KeyValueMetadata("sweep_id", res.ID.String()),
		parquet.KeyValueMetadata("mode", res.Mode.String()),
		parquet.KeyValueMetadata("amplitude", strconv.FormatFloat(res.Amplitude, 'g', -1, 64)),
		parquet.KeyValueMetadata("started", res.Started.UTC().Format(time.RFC3339Nano)),
	)
	if _, err := pw.Write(Rows(res)); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}

func cell(v float64, prec int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// WriteTable renders res as a console table.
func WriteTable(w io.Writer, res *bode.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Frequency (Hz)", "Gain (dB)", "Phase (°)", "Status"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)
	for _, r := range Rows(res) {
		table.Append([]string{cell(r.Frequency, 2), cell(r.GainDB, 2), cell(r.Phase, 1), r.Status})
	}
	table.SetFooter([]string{"", "", res.Mode.String(), res.ID.String()[:8]})
	table.Render()
}

// WriteFile writes res to path. The format follows the extension: .csv or
// .parquet.
func WriteFile(path string, res *bode.Result) (err error) {
	var write func(io.Writer, *bode.Result) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		write = WriteCSV
	case ".parquet":
		write = WriteParquet
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return write(f, res)
}
