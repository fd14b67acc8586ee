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

// ScaleTable lists the vertical scales, in volts per division, available on the
// supported oscilloscopes.
var ScaleTable = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5,
	10,
}

// NextScaleIndex returns the index to try after idx when the response trace
// could not be measured. It jumps a full decade until the last four entries,
// then goes straight to the largest scale.
func NextScaleIndex(table []float64, idx int) int {
	if idx < len(table)-4 {
		return idx + 3
	}
	return len(table) - 1
}

// SnapScale returns the table entry closest to v on a logarithmic axis.
func SnapScale(table []float64, v float64) float64 {
	return table[nearestIndex(table, v)]
}

func nearestIndex(table []float64, v float64) int {
	if !(v > 0) {
		return 0
	}
	best, bestDist := 0, math.Inf(1)
	for i, s := range table {
		if d := math.Abs(math.Log(v / s)); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// RangeState is the scope configuration chosen by the Ranger. The acquirer
// receives it by value.
type RangeState struct {
	ResponseScale float64 // V/div on the response channel
	TimebaseScale float64 // s/div
	Manual        bool    // the operator owns the instrument settings
}

// Valid reports whether the range has been configured.
func (rs RangeState) Valid() bool {
	return rs.ResponseScale > 0 && rs.TimebaseScale > 0
}

// RangerOption configures a Ranger.
type RangerOption func(*Ranger)

// WithCalibrationPause sets how long the ranger waits after a scale change
// before reading the response amplitude. Default 1 s.
func WithCalibrationPause(d time.Duration) RangerOption {
	return func(r *Ranger) {
		r.pause = d
	}
}

// WithCalibrationAttempts bounds the calibration search. Default 20.
func WithCalibrationAttempts(n int) RangerOption {
	return func(r *Ranger) {
		r.attempts = n
	}
}

// WithRangeLogger sets the logger used for calibration steps.
func WithRangeLogger(l zerolog.Logger) RangerOption {
	return func(r *Ranger) {
		r.log = l
	}
}

// Ranger keeps the response trace on screen and the timebase matched to the
// excitation frequency as the sweep progresses.
type Ranger struct {
	scope     Scope
	amplitude float64
	table     []float64
	pause     time.Duration
	attempts  int
	log       zerolog.Logger
	state     RangeState
}

// NewRanger returns a Ranger for an excitation of amplitude volts.
func NewRanger(scope Scope, amplitude float64, opts ...RangerOption) *Ranger {
	r := &Ranger{
		scope:     scope,
		amplitude: amplitude,
		table:     ScaleTable,
		pause:     time.Second,
		attempts:  20,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns a snapshot of the current range.
func (r *Ranger) State() RangeState {
	return r.state
}

// Prepare centres and shows both channels, sets the timebase for firstFreq,
// starts continuous acquisition and gives both channels a scale that fits the
// excitation amplitude.
func (r *Ranger) Prepare(ctx context.Context, firstFreq float64) error {
	for _, ch := range []Channel{Reference, Response} {
		if err := r.scope.SetChannelOffset(ch, 0); err != nil {
			return fmt.Errorf("centring %s: %w", ch, err)
		}
		if err := r.scope.ShowChannel(ch, true); err != nil {
			return fmt.Errorf("showing %s: %w", ch, err)
		}
	}
	if err := r.Retime(firstFreq); err != nil {
		return err
	}
	if err := r.scope.SetRunState(Run); err != nil {
		return fmt.Errorf("starting acquisition: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.setScale(Reference, r.amplitude/4); err != nil {
		return err
	}
	v, err := r.setScale(Response, r.amplitude/4)
	if err != nil {
		return err
	}
	r.state.ResponseScale = v
	return nil
}

// Calibrate searches upward through the scale table until the response
// channel yields a valid peak-to-peak reading. A response that is already
// measurable leaves the scale alone.
func (r *Ranger) Calibrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vpp, err := r.scope.Vpp(Response)
	switch {
	case err == nil:
		r.log.Debug().Float64("scale", r.state.ResponseScale).Float64("vpp", vpp).Msg("response channel in range")
		return nil
	case !errors.Is(err, ErrNoMeasurement):
		return fmt.Errorf("calibrating %s: %w", Response, err)
	}

	idx := nearestIndex(r.table, r.state.ResponseScale)
	for attempt := 0; attempt < r.attempts; attempt++ {
		scale := r.table[idx]
		if err := r.scope.SetChannelScale(Response, scale, false); err != nil {
			return fmt.Errorf("calibrating %s: %w", Response, err)
		}
		if err := sleep(ctx, r.pause); err != nil {
			return err
		}
		vpp, err := r.scope.Vpp(Response)
		switch {
		case err == nil:
			r.state.ResponseScale = scale
			r.log.Debug().Float64("scale", scale).Float64("vpp", vpp).Msg("calibrated response channel")
			return nil
		case errors.Is(err, ErrNoMeasurement):
			r.log.Debug().Float64("scale", scale).Int("attempt", attempt+1).Msg("response not measurable")
		default:
			return fmt.Errorf("calibrating %s: %w", Response, err)
		}
		idx = NextScaleIndex(r.table, idx)
	}
	return fmt.Errorf("%w after %d attempts", ErrCalibration, r.attempts)
}

// Retime sets the horizontal scale to half a period per division.
func (r *Ranger) Retime(freq float64) error {
	tb := (1 / freq) / 2
	if err := r.scope.SetTimebaseScale(tb); err != nil {
		return fmt.Errorf("setting timebase: %w", err)
	}
	r.state.TimebaseScale = tb
	return nil
}

// Update sizes the response channel for the next point from the last measured
// peak-to-peak amplitude. Without a valid reading it falls back to the
// excitation amplitude.
func (r *Ranger) Update(vpp float64, ok bool) error {
	target := r.amplitude / 4
	if ok && vpp > 0 {
		target = vpp / 4
	}
	v, err := r.setScale(Response, target)
	if err != nil {
		return err
	}
	r.state.ResponseScale = v
	return nil
}

// setScale requests a snapped scale and returns what the scope reports back.
func (r *Ranger) setScale(ch Channel, v float64) (float64, error) {
	if err := r.scope.SetChannelScale(ch, v, true); err != nil {
		return 0, fmt.Errorf("setting %s scale: %w", ch, err)
	}
	got, err := r.scope.ChannelScale(ch)
	if err != nil || !(got > 0) {
		return SnapScale(r.table, v), nil
	}
	return got, nil
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
