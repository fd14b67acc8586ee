// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// firstPointSettle is the pause after the first frequency change, before the
// response channel is calibrated.
const firstPointSettle = 50 * time.Millisecond

// ProgressFunc is called after each point with its index, the plan length and
// the measurement.
type ProgressFunc func(i, n int, m Measurement)

// SweepOption configures a Sweeper.
type SweepOption func(*Sweeper)

// WithMode selects direct or DFT measurement. Default Direct.
func WithMode(m Mode) SweepOption {
	return func(s *Sweeper) {
		s.mode = m
	}
}

// WithAmplitude sets the excitation amplitude in volts peak-to-peak. Default 5.
func WithAmplitude(v float64) SweepOption {
	return func(s *Sweeper) {
		s.amplitude = v
	}
}

// WithSettle sets an extra pause after each frequency change.
func WithSettle(d time.Duration) SweepOption {
	return func(s *Sweeper) {
		s.settle = d
	}
}

// WithManualRange leaves the scope's scales, offsets and timebase to the
// operator.
func WithManualRange() SweepOption {
	return func(s *Sweeper) {
		s.manual = true
	}
}

// WithAcquirer replaces the default acquisition controller used in DFT mode.
// Its logger is replaced by the sweep logger.
func WithAcquirer(a Acquirer) SweepOption {
	return func(s *Sweeper) {
		s.acquirer = a
	}
}

// WithRanger passes options to the range controller.
func WithRanger(opts ...RangerOption) SweepOption {
	return func(s *Sweeper) {
		s.rangerOpts = append(s.rangerOpts, opts...)
	}
}

// WithMinReference sets the reference amplitude, in volts peak-to-peak, below
// which a point has no defined gain. Default 0.01.
func WithMinReference(v float64) SweepOption {
	return func(s *Sweeper) {
		s.minReference = v
	}
}

// WithLogger sets the sweep logger.
func WithLogger(l zerolog.Logger) SweepOption {
	return func(s *Sweeper) {
		s.log = l
	}
}

// WithProgress registers a callback invoked after every point.
func WithProgress(fn ProgressFunc) SweepOption {
	return func(s *Sweeper) {
		s.progress = fn
	}
}

// Sweeper steps a generator through a frequency plan and measures the DUT
// response on a scope.
type Sweeper struct {
	gen          Generator
	scope        Scope
	mode         Mode
	amplitude    float64
	settle       time.Duration
	manual       bool
	acquirer     Acquirer
	rangerOpts   []RangerOption
	minReference float64
	log          zerolog.Logger
	progress     ProgressFunc
	ranger       *Ranger
}

// NewSweeper returns a Sweeper for the given instruments.
func NewSweeper(gen Generator, scope Scope, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		gen:          gen,
		scope:        scope,
		mode:         Direct,
		amplitude:    5,
		minReference: 0.01,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.acquirer.Log = s.log
	rangerOpts := append([]RangerOption{WithRangeLogger(s.log)}, s.rangerOpts...)
	s.ranger = NewRanger(scope, s.amplitude, rangerOpts...)
	return s
}

// Ranger returns the range controller driving the scope.
func (s *Sweeper) Ranger() *Ranger {
	return s.ranger
}

// Run measures every frequency of the plan in order. On a fatal error the
// points measured so far are returned along with the error.
func (s *Sweeper) Run(ctx context.Context, freqs []float64) (*Result, error) {
	if err := s.validate(freqs); err != nil {
		return nil, err
	}
	res := newResult(s.mode, s.amplitude, len(freqs))
	defer func() { res.Finished = time.Now() }()

	if err := s.gen.SetAmplitude(s.amplitude); err != nil {
		return res, fmt.Errorf("setting amplitude: %w", err)
	}
	if err := s.gen.EnableOutput(true); err != nil {
		return res, fmt.Errorf("enabling output: %w", err)
	}
	if !s.manual {
		if err := s.ranger.Prepare(ctx, freqs[0]); err != nil {
			return res, err
		}
	}
	if err := s.gen.SetFrequency(freqs[0]); err != nil {
		return res, fmt.Errorf("setting frequency: %w", err)
	}
	if err := sleep(ctx, firstPointSettle); err != nil {
		return res, err
	}
	if !s.manual {
		if err := s.ranger.Calibrate(ctx); err != nil {
			return res, err
		}
	}

	for i, f := range freqs {
		m, err := s.step(ctx, f)
		if err != nil {
			return res, fmt.Errorf("%g Hz: %w", f, err)
		}
		res.Points = append(res.Points, m)
		s.log.Info().
			Int("step", i+1).
			Int("of", len(freqs)).
			Float64("freq", f).
			Float64("gain_db", m.GainDB()).
			Float64("phase", m.Phase).
			Stringer("status", m.Status).
			Msg("measured")
		if s.progress != nil {
			s.progress(i, len(freqs), m)
		}
	}
	return res, nil
}

func (s *Sweeper) validate(freqs []float64) error {
	if err := ValidateFrequencies(freqs); err != nil {
		return err
	}
	if !(s.amplitude > 0) {
		return configErrorf("amplitude", "must be greater than 0 (got %g)", s.amplitude)
	}
	if lim, ok := s.gen.(FrequencyLimiter); ok {
		max, err := lim.MaxFrequency()
		if err != nil {
			return fmt.Errorf("reading generator limit: %w", err)
		}
		if last := freqs[len(freqs)-1]; max > 0 && last > max {
			return configErrorf("frequency", "%g Hz exceeds generator maximum %g Hz", last, max)
		}
	}
	return nil
}

func (s *Sweeper) step(ctx context.Context, f float64) (Measurement, error) {
	if err := s.gen.SetFrequency(f); err != nil {
		return Measurement{}, fmt.Errorf("setting frequency: %w", err)
	}
	if !s.manual {
		if err := s.ranger.Retime(f); err != nil {
			return Measurement{}, err
		}
	}
	if err := sleep(ctx, s.settle); err != nil {
		return Measurement{}, err
	}

	var (
		m   Measurement
		err error
	)
	switch s.mode {
	case DFT:
		m, err = s.measureDFT(ctx, f)
	default:
		m, err = s.measureDirect(f)
	}
	if err != nil {
		return Measurement{}, err
	}

	if !s.manual {
		if err := s.feedback(m); err != nil {
			return Measurement{}, err
		}
	}
	return m, nil
}

func (s *Sweeper) measureDFT(ctx context.Context, f float64) (Measurement, error) {
	rs := s.ranger.State()
	if s.manual {
		rs = RangeState{Manual: true}
	}
	c, err := s.acquirer.Acquire(ctx, s.scope, rs)
	if err != nil {
		return Measurement{}, err
	}
	m := Measurement{Frequency: f}
	trimmed, periods, err := c.Trim(f)
	if errors.Is(err, ErrInsufficientData) {
		s.log.Warn().Float64("freq", f).Int("samples", len(c.A)).Msg("capture too short for one period")
		m.Gain, m.Phase = math.NaN(), math.NaN()
		m.Status = StatusInsufficientData
		return m, nil
	}
	if err != nil {
		return Measurement{}, err
	}

	est := Estimate(trimmed.A, trimmed.B, periods)
	m.Periods = periods
	m.ReferenceVpp = est.AmplitudeA
	m.ResponseVpp = est.AmplitudeB
	m.Phase = est.Phase
	if est.AmplitudeA < s.minReference {
		m.Gain = math.NaN()
		m.Status = StatusReferenceLow
		return m, nil
	}
	m.Gain = est.Gain()
	return m, nil
}

func (s *Sweeper) measureDirect(f float64) (Measurement, error) {
	ref, err := s.scope.Vpp(Reference)
	if errors.Is(err, ErrNoMeasurement) {
		return Measurement{}, fmt.Errorf("%w: %s unreadable", ErrReferenceTooLow, Reference)
	}
	if err != nil {
		return Measurement{}, fmt.Errorf("reading %s amplitude: %w", Reference, err)
	}
	if ref < s.minReference {
		return Measurement{}, fmt.Errorf("%w: %s %.4f V", ErrReferenceTooLow, Reference, ref)
	}

	m := Measurement{Frequency: f, ReferenceVpp: ref}
	resp, err := s.scope.Vpp(Response)
	switch {
	case err == nil:
		m.ResponseVpp = resp
		m.Gain = Gain(ref, resp)
	case errors.Is(err, ErrNoMeasurement):
		s.log.Debug().Float64("freq", f).Msg("response amplitude unreadable")
		m.ResponseVpp = math.NaN()
		m.Gain = math.NaN()
		m.Status = StatusNoResponse
	default:
		return Measurement{}, fmt.Errorf("reading %s amplitude: %w", Response, err)
	}

	rph, err := s.scope.RelativePhase(Reference, Response)
	switch {
	case err == nil:
		m.Phase = NormalizePhase(-rph)
	case errors.Is(err, ErrNoMeasurement):
		s.log.Debug().Float64("freq", f).Msg("relative phase unreadable")
		m.Phase = math.NaN()
	default:
		return Measurement{}, fmt.Errorf("reading relative phase: %w", err)
	}
	return m, nil
}

// feedback sizes the response channel for the next point from the response
// amplitude just measured: the scope's Vpp in Direct mode, the DFT amplitude in
// DFT mode.
func (s *Sweeper) feedback(m Measurement) error {
	var ok bool
	switch s.mode {
	case DFT:
		ok = m.Status != StatusInsufficientData && m.ResponseVpp > 0
	default:
		ok = m.Status == StatusOK
	}
	return s.ranger.Update(m.ResponseVpp, ok)
}
