// Package sim provides a simulated bench: a function generator driving a
// device under test whose input and output are observed by a two-channel
// oscilloscope. It implements bode.Generator and bode.Scope.
package sim

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"

	"github.com/gotmc/bode"
)

const (
	// Points is the number of samples in one capture.
	Points = 1200
	// Divisions is the number of horizontal divisions spanned by a capture.
	Divisions = 12
	// VerticalDivisions is the half-height of the ADC window in divisions.
	VerticalDivisions = 4
)

// DUT returns the complex transfer function of a device at frequency f.
type DUT interface {
	Response(f float64) complex128
}

// DUTFunc adapts a function to the DUT interface.
type DUTFunc func(f float64) complex128

// Response calls fn(f).
func (fn DUTFunc) Response(f float64) complex128 { return fn(f) }

// Flat is a frequency independent DUT with the given linear gain and phase in
// degrees.
func Flat(gain, phaseDeg float64) DUT {
	h := cmplx.Rect(gain, phaseDeg*math.Pi/180)
	return DUTFunc(func(float64) complex128 { return h })
}

// LowPass is a first-order RC low-pass filter with the -3 dB point at cutoff
// Hz.
func LowPass(cutoff float64) DUT {
	return DUTFunc(func(f float64) complex128 {
		return 1 / complex(1, f/cutoff)
	})
}

// Option configures a Bench.
type Option func(*Bench)

// WithDUT sets the simulated device. Default Flat(1, 0).
func WithDUT(d DUT) Option {
	return func(b *Bench) {
		b.dut = d
	}
}

// WithMaxFrequency sets the generator limit reported by MaxFrequency.
func WithMaxFrequency(hz float64) Option {
	return func(b *Bench) {
		b.maxFreq = hz
	}
}

// WithNoise adds Gaussian noise with the given standard deviation in volts to
// every sample. The generator is seeded so runs are repeatable.
func WithNoise(sigma float64, seed int64) Option {
	return func(b *Bench) {
		b.noise = sigma
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// WithStallPolls sets how many status polls an armed capture stays running
// before the trigger fires by itself.
func WithStallPolls(n int) Option {
	return func(b *Bench) {
		b.StallPolls = n
	}
}

// WithNoTrigger makes armed captures complete only on a forced trigger.
func WithNoTrigger() Option {
	return func(b *Bench) {
		b.NoTrigger = true
	}
}

// WithTimebase sets the initial horizontal scale in s/div.
func WithTimebase(secPerDiv float64) Option {
	return func(b *Bench) {
		b.timebase = secPerDiv
	}
}

// Bench is a simulated generator, DUT and oscilloscope. It is safe for
// concurrent use.
type Bench struct {
	StallPolls int
	NoTrigger  bool

	mu      sync.Mutex
	dut     DUT
	maxFreq float64
	noise   float64
	rng     *rand.Rand

	freq      float64
	amplitude float64
	output    bool

	scale    map[bode.Channel]float64
	offset   map[bode.Channel]float64
	shown    map[bode.Channel]bool
	timebase float64

	state    bode.RunState
	polls    int
	forced   int
	captures int
	last     map[bode.Channel][]float64
	interval float64
}

// New returns a bench with both channels at 1 V/div and a 1 ms/div timebase.
func New(opts ...Option) *Bench {
	b := &Bench{
		dut:       Flat(1, 0),
		maxFreq:   60e6,
		amplitude: 1,
		freq:      1000,
		scale:     map[bode.Channel]float64{bode.Reference: 1, bode.Response: 1},
		offset:    map[bode.Channel]float64{},
		shown:     map[bode.Channel]bool{},
		timebase:  1e-3,
		state:     bode.Run,
		last:      map[bode.Channel][]float64{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFrequency implements bode.Generator.
func (b *Bench) SetFrequency(hz float64) error {
	if hz < 0 {
		return fmt.Errorf("sim: negative frequency %g", hz)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freq = hz
	return nil
}

// SetAmplitude implements bode.Generator.
func (b *Bench) SetAmplitude(volts float64) error {
	if volts < 0 {
		return fmt.Errorf("sim: negative amplitude %g", volts)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.amplitude = volts
	return nil
}

// EnableOutput implements bode.Generator.
func (b *Bench) EnableOutput(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = on
	return nil
}

// MaxFrequency implements bode.FrequencyLimiter.
func (b *Bench) MaxFrequency() (float64, error) {
	return b.maxFreq, nil
}

// Output reports whether the generator output is enabled.
func (b *Bench) Output() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// Frequency returns the current generator frequency.
func (b *Bench) Frequency() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freq
}

// SetChannelScale implements bode.Scope.
func (b *Bench) SetChannelScale(ch bode.Channel, voltsPerDiv float64, snap bool) error {
	if !(voltsPerDiv > 0) {
		return fmt.Errorf("sim: invalid scale %g", voltsPerDiv)
	}
	if snap {
		voltsPerDiv = bode.SnapScale(bode.ScaleTable, voltsPerDiv)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scale[ch] = voltsPerDiv
	return nil
}

// ChannelScale implements bode.Scope.
func (b *Bench) ChannelScale(ch bode.Channel) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scale[ch], nil
}

// SetChannelOffset implements bode.Scope.
func (b *Bench) SetChannelOffset(ch bode.Channel, volts float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offset[ch] = volts
	return nil
}

// ShowChannel implements bode.Scope.
func (b *Bench) ShowChannel(ch bode.Channel, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown[ch] = on
	return nil
}

// SetTimebaseScale implements bode.Scope.
func (b *Bench) SetTimebaseScale(secondsPerDiv float64) error {
	if !(secondsPerDiv > 0) {
		return fmt.Errorf("sim: invalid timebase %g", secondsPerDiv)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timebase = secondsPerDiv
	return nil
}

// Timebase returns the current horizontal scale.
func (b *Bench) Timebase() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timebase
}

// SetRunState implements bode.Scope.
func (b *Bench) SetRunState(s bode.RunState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	b.polls = 0
	return nil
}

// ForceTrigger implements bode.Scope. It completes an armed single capture.
func (b *Bench) ForceTrigger() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced++
	if b.state == bode.Single {
		b.capture()
	}
	return nil
}

// Running implements bode.Scope.
func (b *Bench) Running() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case bode.Run:
		return true, nil
	case bode.Stop:
		return false, nil
	}
	if b.NoTrigger || b.polls < b.StallPolls {
		b.polls++
		return true, nil
	}
	b.capture()
	return false, nil
}

// Forced returns the number of forced triggers received.
func (b *Bench) Forced() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forced
}

// Captures returns the number of completed single captures.
func (b *Bench) Captures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captures
}

// capture records one screen of both channels and stops the acquisition.
// Callers hold b.mu.
func (b *Bench) capture() {
	b.interval = Divisions * b.timebase / Points
	// The capture starts at an arbitrary point in time so successive
	// captures do not share a phase origin.
	t0 := float64(b.captures) * 1.2345e-3
	for _, ch := range []bode.Channel{bode.Reference, bode.Response} {
		amp, phase := b.signal(ch)
		limit := VerticalDivisions * b.scale[ch]
		w := 2 * math.Pi * b.freq
		data := make([]float64, Points)
		for i := range data {
			t := t0 + float64(i)*b.interval
			v := amp/2*math.Sin(w*t+phase) + b.offset[ch]
			if b.noise > 0 {
				v += b.rng.NormFloat64() * b.noise
			}
			data[i] = math.Max(-limit, math.Min(limit, v))
		}
		b.last[ch] = data
	}
	b.captures++
	b.state = bode.Stop
}

// signal returns the peak-to-peak amplitude and phase in radians seen on ch.
// Callers hold b.mu.
func (b *Bench) signal(ch bode.Channel) (float64, float64) {
	amp := b.amplitude
	if !b.output {
		amp = 0
	}
	if ch == bode.Reference {
		return amp, 0
	}
	h := b.dut.Response(b.freq)
	return amp * cmplx.Abs(h), cmplx.Phase(h)
}

// Vpp implements bode.Scope. A trace that leaves the ADC window has no valid
// measurement.
func (b *Bench) Vpp(ch bode.Channel) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	amp, _ := b.signal(ch)
	if amp/2+math.Abs(b.offset[ch]) > VerticalDivisions*b.scale[ch] {
		return 0, bode.ErrNoMeasurement
	}
	return amp, nil
}

// RelativePhase implements bode.Scope. It returns the phase of a relative to
// b in degrees.
func (b *Bench) RelativePhase(a, c bode.Channel) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ampA, phA := b.signal(a)
	ampC, phC := b.signal(c)
	if ampA == 0 || ampC == 0 {
		return 0, bode.ErrNoMeasurement
	}
	return bode.NormalizePhase((phA - phC) * 180 / math.Pi), nil
}

// Waveform implements bode.Scope.
func (b *Bench) Waveform(ch bode.Channel) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.last[ch]
	if !ok {
		return nil, fmt.Errorf("sim: no capture on %s", ch)
	}
	out := make([]float64, len(data))
	copy(out, data)
	return out, nil
}

// SampleInterval implements bode.Scope.
func (b *Bench) SampleInterval() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interval == 0 {
		return 0, fmt.Errorf("sim: no capture")
	}
	return b.interval, nil
}
