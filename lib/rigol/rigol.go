// Package rigol drives a Rigol DS1000Z series oscilloscope over SCPI.
package rigol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/query"

	"github.com/gotmc/bode"
	"github.com/gotmc/bode/lib/scpi"
)

// invalidMeasurement is the value the scope returns for a measurement it
// cannot make, e.g. when the trace is clipped.
const invalidMeasurement = 9.9e37

// Scope is a DS1000Z oscilloscope. It implements bode.Scope.
type Scope struct {
	conn scpi.Conn
}

var _ bode.Scope = (*Scope)(nil)

// New returns a driver using conn.
func New(conn scpi.Conn) *Scope {
	return &Scope{conn: conn}
}

// Open dials the scope's raw SCPI socket at addr.
func Open(ctx context.Context, addr string, timeout time.Duration) (*Scope, error) {
	conn, err := scpi.Dial(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Conn returns the underlying connection.
func (s *Scope) Conn() scpi.Conn {
	return s.conn
}

// Close closes the connection.
func (s *Scope) Close() error {
	return s.conn.Close()
}

// Identify returns the *IDN? string.
func (s *Scope) Identify() (string, error) {
	return query.String(s.conn, "*IDN?")
}

// SetChannelScale implements bode.Scope.
func (s *Scope) SetChannelScale(ch bode.Channel, voltsPerDiv float64, snap bool) error {
	if snap {
		voltsPerDiv = bode.SnapScale(bode.ScaleTable, voltsPerDiv)
	}
	return s.conn.Command(":%s:SCAL %g", ch, voltsPerDiv)
}

// ChannelScale implements bode.Scope.
func (s *Scope) ChannelScale(ch bode.Channel) (float64, error) {
	return query.Float64(s.conn, fmt.Sprintf(":%s:SCAL?", ch))
}

// SetChannelOffset implements bode.Scope.
func (s *Scope) SetChannelOffset(ch bode.Channel, volts float64) error {
	return s.conn.Command(":%s:OFFS %g", ch, volts)
}

// ShowChannel implements bode.Scope.
func (s *Scope) ShowChannel(ch bode.Channel, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return s.conn.Command(":%s:DISP %s", ch, state)
}

// SetTimebaseScale implements bode.Scope.
func (s *Scope) SetTimebaseScale(secondsPerDiv float64) error {
	return s.conn.Command(":TIM:MAIN:SCAL %g", secondsPerDiv)
}

var runStateCmd = map[bode.RunState]string{
	bode.Run:    ":RUN",
	bode.Single: ":SING",
	bode.Stop:   ":STOP",
}

// SetRunState implements bode.Scope.
func (s *Scope) SetRunState(state bode.RunState) error {
	cmd, ok := runStateCmd[state]
	if !ok {
		return fmt.Errorf("unknown run state %s", state)
	}
	return s.conn.Command("%s", cmd)
}

// ForceTrigger implements bode.Scope.
func (s *Scope) ForceTrigger() error {
	return s.conn.Command(":TFOR")
}

// Running implements bode.Scope. The acquisition is in progress while the
// trigger status is TD, WAIT, RUN or AUTO.
func (s *Scope) Running() (bool, error) {
	status, err := query.String(s.conn, ":TRIG:STAT?")
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "TD", "WAIT", "RUN", "AUTO":
		return true, nil
	case "STOP":
		return false, nil
	}
	return false, fmt.Errorf("unexpected trigger status %q", status)
}

// Vpp implements bode.Scope.
func (s *Scope) Vpp(ch bode.Channel) (float64, error) {
	return s.measure(fmt.Sprintf(":MEAS:ITEM? VPP,%s", ch))
}

// RelativePhase implements bode.Scope.
func (s *Scope) RelativePhase(a, b bode.Channel) (float64, error) {
	return s.measure(fmt.Sprintf(":MEAS:ITEM? RPH,%s,%s", a, b))
}

func (s *Scope) measure(cmd string) (float64, error) {
	v, err := query.Float64(s.conn, cmd)
	if err != nil {
		return 0, err
	}
	if v >= invalidMeasurement {
		return 0, bode.ErrNoMeasurement
	}
	return v, nil
}

// Preamble describes the waveform returned by :WAV:DATA?.
type Preamble struct {
	Format     int
	Type       int
	Points     int
	Count      int
	XIncrement float64
	XOrigin    float64
	XReference float64
	YIncrement float64
	YOrigin    float64
	YReference float64
}

// ParsePreamble decodes the ten comma separated :WAV:PRE? fields.
func ParsePreamble(s string) (Preamble, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != 10 {
		return Preamble{}, fmt.Errorf("preamble has %d fields, want 10", len(fields))
	}
	var (
		p    Preamble
		ints = []*int{&p.Format, &p.Type, &p.Points, &p.Count}
		flts = []*float64{
			&p.XIncrement, &p.XOrigin, &p.XReference,
			&p.YIncrement, &p.YOrigin, &p.YReference,
		}
	)
	for i, dst := range ints {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return Preamble{}, fmt.Errorf("preamble field %d: %w", i, err)
		}
		*dst = int(v)
	}
	for i, dst := range flts {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[len(ints)+i]), 64)
		if err != nil {
			return Preamble{}, fmt.Errorf("preamble field %d: %w", len(ints)+i, err)
		}
		*dst = v
	}
	return p, nil
}

// Volts converts raw BYTE format samples to volts.
func (p Preamble) Volts(raw []byte) []float64 {
	out := make([]float64, len(raw))
	for i, b := range raw {
		out[i] = (float64(b) - p.YOrigin - p.YReference) * p.YIncrement
	}
	return out
}

// Preamble queries the waveform preamble of the current source.
func (s *Scope) Preamble() (Preamble, error) {
	resp, err := query.String(s.conn, ":WAV:PRE?")
	if err != nil {
		return Preamble{}, err
	}
	return ParsePreamble(resp)
}

// Waveform implements bode.Scope. It reads the screen record of ch in BYTE
// format.
func (s *Scope) Waveform(ch bode.Channel) ([]float64, error) {
	for _, cmd := range []string{
		":WAV:SOUR " + ch.String(),
		":WAV:MODE NORM",
		":WAV:FORM BYTE",
	} {
		if err := s.conn.Command("%s", cmd); err != nil {
			return nil, err
		}
	}
	pre, err := s.Preamble()
	if err != nil {
		return nil, fmt.Errorf("reading preamble: %w", err)
	}
	raw, err := s.conn.QueryBlock(":WAV:DATA?")
	if err != nil {
		return nil, fmt.Errorf("reading waveform data: %w", err)
	}
	return pre.Volts(raw), nil
}

// SampleInterval implements bode.Scope.
func (s *Scope) SampleInterval() (float64, error) {
	return query.Float64(s.conn, ":WAV:XINC?")
}
