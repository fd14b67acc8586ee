// Package plot renders Bode diagrams.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/gotmc/bode"
)

// Smoothing parameters used by Bode.
const (
	SmoothWindow = 9
	SmoothOrder  = 3
)

var (
	measuredColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	smoothedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Smooth applies a Savitzky-Golay filter: every output sample is the value at
// that sample of a least-squares polynomial of the given order fitted to a
// window of neighbouring samples. Near the edges the window is shifted inwards
// instead of padding the data.
func Smooth(y []float64, window, order int) ([]float64, error) {
	switch {
	case window%2 == 0:
		return nil, fmt.Errorf("window %d must be odd", window)
	case order < 0 || window <= order:
		return nil, fmt.Errorf("window %d too short for order %d", window, order)
	case window > len(y):
		return nil, fmt.Errorf("window %d longer than data (%d)", window, len(y))
	}

	half := window / 2
	out := make([]float64, len(y))
	a := mat.NewDense(window, order+1, nil)
	var c mat.VecDense
	for i := range y {
		start := min(max(i-half, 0), len(y)-window)
		for r := 0; r < window; r++ {
			x := float64(start + r - i)
			v := 1.0
			for p := 0; p <= order; p++ {
				a.Set(r, p, v)
				v *= x
			}
		}
		if err := c.SolveVec(a, mat.NewVecDense(window, append([]float64(nil), y[start:start+window]...))); err != nil {
			return nil, err
		}
		out[i] = c.AtVec(0)
	}
	return out, nil
}

// valid returns the points of xs/ys where y is defined.
func valid(xs, ys []float64) plotter.XYs {
	var pts plotter.XYs
	for i := range xs {
		if math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) || !(xs[i] > 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	return pts
}

func panel(title, ylabel string, pts plotter.XYs, smooth bool, fmin, fmax float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = ylabel
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.X.Min, p.X.Max = fmin, fmax
	p.Add(plotter.NewGrid())

	if len(pts) == 0 {
		return p, nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.Color = measuredColor
	l.Width = vg.Points(1.5)
	p.Add(l)
	p.Legend.Add("measured", l)

	if smooth && len(pts) >= SmoothWindow {
		ys := make([]float64, len(pts))
		for i := range pts {
			ys[i] = pts[i].Y
		}
		ys, err = Smooth(ys, SmoothWindow, SmoothOrder)
		if err != nil {
			return nil, err
		}
		sm := make(plotter.XYs, len(pts))
		for i := range pts {
			sm[i] = plotter.XY{X: pts[i].X, Y: ys[i]}
		}
		s, err := plotter.NewLine(sm)
		if err != nil {
			return nil, err
		}
		s.Color = smoothedColor
		s.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		p.Add(s)
		p.Legend.Add("smoothed", s)
	}
	p.Legend.Top = true
	return p, nil
}

// Bode renders gain and phase of res as two stacked panels into a PNG at path.
// Undefined points are left out.
func Bode(res *bode.Result, path string, smooth bool) (err error) {
	freqs := res.Frequencies()
	if len(freqs) == 0 {
		return errors.New("nothing to plot")
	}
	fmin, fmax := freqs[0], freqs[len(freqs)-1]
	if fmin == fmax {
		fmin, fmax = fmin/2, fmax*2
	}

	gain, err := panel("Bode diagram", "Gain (dB)", valid(freqs, res.GainsDB()), smooth, fmin, fmax)
	if err != nil {
		return err
	}
	phase, err := panel("", "Phase (°)", valid(freqs, res.Phases()), smooth, fmin, fmax)
	if err != nil {
		return err
	}
	phase.Y.Min, phase.Y.Max = -180, 180
	phase.Y.Tick.Marker = plot.ConstantTicks([]plot.Tick{
		{Value: -180, Label: "-180"}, {Value: -90, Label: "-90"}, {Value: 0, Label: "0"},
		{Value: 90, Label: "90"}, {Value: 180, Label: "180"},
	})

	img := vgimg.New(vg.Points(800), vg.Points(800))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 4,
	}
	canvases := plot.Align([][]*plot.Plot{{gain}, {phase}}, tiles, dc)
	gain.Draw(canvases[0][0])
	phase.Draw(canvases[1][0])

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	png := vgimg.PngCanvas{Canvas: img}
	_, err = png.WriteTo(f)
	return err
}
