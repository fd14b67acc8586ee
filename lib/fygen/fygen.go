// Package fygen drives FeelElec FY6900 family function generators over their
// USB serial line protocol.
package fygen

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/gotmc/bode"
)

// Errors returned for rejected settings. Nothing is sent to the device.
var (
	ErrCommandTooShort = errors.New("command too short")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrFrequency       = errors.New("invalid frequency")
	ErrVoltage         = errors.New("invalid voltage")
	ErrTimeout         = errors.New("read timeout")
)

// Sine is the waveform index of a sine wave.
const Sine = 0

// BaudRate is the fixed serial speed of the generator.
const BaudRate = 115200

// Option configures a Generator.
type Option func(*Generator)

// WithChannel selects the output channel, 1 (main) or 2.
func WithChannel(ch int) Option {
	return func(g *Generator) {
		g.channel = ch
	}
}

// WithMaxVolts sets the largest amplitude or offset magnitude accepted.
// Default 20 V.
func WithMaxVolts(v float64) Option {
	return func(g *Generator) {
		g.maxVolts = v
	}
}

// WithReadBeforeWrite makes every setter read the current value first and
// skip the write when it already matches. This avoids relay clicks on units
// that switch attenuators on every amplitude write.
func WithReadBeforeWrite() Option {
	return func(g *Generator) {
		g.readBeforeWrite = true
	}
}

// Generator is one channel of an FY generator. It implements bode.Generator
// and bode.FrequencyLimiter.
type Generator struct {
	rw              io.ReadWriter
	r               *bufio.Reader
	channel         int
	maxVolts        float64
	readBeforeWrite bool
}

var (
	_ bode.Generator        = (*Generator)(nil)
	_ bode.FrequencyLimiter = (*Generator)(nil)
)

// New returns a generator talking over rw and selects a sine wave on the
// active channel.
func New(rw io.ReadWriter, opts ...Option) (*Generator, error) {
	g := &Generator{
		rw:       rw,
		r:        bufio.NewReader(rw),
		channel:  1,
		maxVolts: 20,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.channel != 1 && g.channel != 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, g.channel)
	}
	if err := g.SetWave(Sine); err != nil {
		return nil, fmt.Errorf("selecting sine wave: %w", err)
	}
	return g, nil
}

// Open opens the generator on the named serial port at 115200 8N1.
func Open(port string, opts ...Option) (*Generator, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", port, err)
	}
	if err := p.SetReadTimeout(time.Second); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, err
	}
	g, err := New(&timeoutPort{p}, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	return g, nil
}

// timeoutPort reports a read that returns no data as ErrTimeout instead of an
// empty successful read.
type timeoutPort struct {
	serial.Port
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

// Close closes the underlying port if it can be closed.
func (g *Generator) Close() error {
	if c, ok := g.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Send writes one command and returns the device's one line answer without
// its terminator. Write commands are answered with an empty line.
func (g *Generator) Send(cmd string) (string, error) {
	if len(cmd) < 3 {
		return "", fmt.Errorf("%w: %q", ErrCommandTooShort, cmd)
	}
	if _, err := io.WriteString(g.rw, cmd+"\n"); err != nil {
		return "", fmt.Errorf("writing %s: %w", cmd, err)
	}
	resp, err := g.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading answer to %s: %w", cmd, err)
	}
	return strings.TrimSpace(resp), nil
}

// prefix returns the command letter selecting the channel.
func (g *Generator) prefix() byte {
	if g.channel == 2 {
		return 'F'
	}
	return 'M'
}

func (g *Generator) write(param byte, value string) error {
	_, err := g.Send(fmt.Sprintf("W%c%c%s", g.prefix(), param, value))
	return err
}

// read returns the current value of param as a number.
func (g *Generator) read(param byte) (float64, error) {
	resp, err := g.Send(fmt.Sprintf("R%c%c", g.prefix(), param))
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// unchanged reports whether read-before-write is enabled and param already
// holds want, as compared by same.
func (g *Generator) unchanged(param byte, same func(cur float64) bool) bool {
	if !g.readBeforeWrite {
		return false
	}
	cur, err := g.read(param)
	return err == nil && same(cur)
}

// SetWave selects a waveform by index.
func (g *Generator) SetWave(index int) error {
	if index < 0 || index > 99 {
		return fmt.Errorf("unknown waveform index %d", index)
	}
	if g.unchanged('W', func(cur float64) bool { return int(cur) == index }) {
		return nil
	}
	return g.write('W', fmt.Sprintf("%02d", index))
}

// SetFrequency implements bode.Generator. The device resolution is 1 µHz.
func (g *Generator) SetFrequency(hz float64) error {
	if hz < 0 || math.IsNaN(hz) {
		return fmt.Errorf("%w: %g Hz", ErrFrequency, hz)
	}
	uhz := int64(math.Round(hz * 1e6))
	if g.unchanged('F', func(cur float64) bool { return int64(math.Round(cur*1e6)) == uhz }) {
		return nil
	}
	return g.write('F', fmt.Sprintf("%014d", uhz))
}

// SetAmplitude implements bode.Generator.
func (g *Generator) SetAmplitude(volts float64) error {
	if volts < 0 || volts > g.maxVolts || math.IsNaN(volts) {
		return fmt.Errorf("%w: amplitude %g V outside 0..%g", ErrVoltage, volts, g.maxVolts)
	}
	// The device reports amplitude in units of 0.1 mV.
	want := int64(math.Round(volts * 1e4))
	if g.unchanged('A', func(cur float64) bool { return int64(math.Round(cur)) == want }) {
		return nil
	}
	return g.write('A', fmt.Sprintf("%.2f", volts))
}

// SetOffset sets the DC offset in volts.
func (g *Generator) SetOffset(volts float64) error {
	if math.Abs(volts) > g.maxVolts || math.IsNaN(volts) {
		return fmt.Errorf("%w: offset %g V outside ±%g", ErrVoltage, volts, g.maxVolts)
	}
	want := int64(math.Round(volts * 1e3))
	if g.unchanged('O', func(cur float64) bool { return int64(math.Round(cur)) == want }) {
		return nil
	}
	return g.write('O', fmt.Sprintf("%.2f", volts))
}

// SetPhase sets the phase of the channel in degrees, modulo 360.
func (g *Generator) SetPhase(deg float64) error {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	want := int64(math.Round(deg * 1e3))
	if g.unchanged('P', func(cur float64) bool { return int64(math.Round(cur)) == want }) {
		return nil
	}
	return g.write('P', fmt.Sprintf("%.3f", deg))
}

// EnableOutput implements bode.Generator.
func (g *Generator) EnableOutput(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if g.unchanged('N', func(cur float64) bool { return int(cur) == v }) {
		return nil
	}
	return g.write('N', strconv.Itoa(v))
}

// Model returns the model string, e.g. "FY6900-60M".
func (g *Generator) Model() (string, error) {
	return g.Send("UMO")
}

// MaxFrequency implements bode.FrequencyLimiter using the bandwidth encoded
// in the model string.
func (g *Generator) MaxFrequency() (float64, error) {
	model, err := g.Model()
	if err != nil {
		return 0, err
	}
	return ParseMaxFrequency(model)
}

// ParseMaxFrequency extracts the bandwidth from a model string such as
// "FY6900-60M" and returns it in Hz.
func ParseMaxFrequency(model string) (float64, error) {
	_, suffix, ok := strings.Cut(strings.TrimSpace(model), "-")
	if !ok {
		return 0, fmt.Errorf("model %q has no bandwidth suffix", model)
	}
	end := strings.IndexFunc(suffix, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(suffix)
	}
	mhz, err := strconv.Atoi(suffix[:end])
	if err != nil {
		return 0, fmt.Errorf("model %q: bad bandwidth: %w", model, err)
	}
	return float64(mhz) * 1e6, nil
}
