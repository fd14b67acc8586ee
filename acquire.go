// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// screenDivisions is the number of horizontal divisions on the display.
const screenDivisions = 12

// Acquirer runs one single-shot capture on both channels. The zero value uses
// the defaults below.
type Acquirer struct {
	PollInterval time.Duration // default 10 ms
	ForceEvery   int           // polls between forced triggers, default 10
	MaxForces    int           // forced triggers before giving up, default 50
	Log          zerolog.Logger
}

func (a Acquirer) withDefaults() Acquirer {
	if a.PollInterval <= 0 {
		a.PollInterval = 10 * time.Millisecond
	}
	if a.ForceEvery <= 0 {
		a.ForceEvery = 10
	}
	if a.MaxForces <= 0 {
		a.MaxForces = 50
	}
	return a
}

// forceCadence returns the number of polls between forced triggers, stretched
// so that at least one full screen elapses before each force.
func (a Acquirer) forceCadence(timebase float64) int {
	every := a.ForceEvery
	if timebase > 0 {
		screen := time.Duration(screenDivisions * timebase * float64(time.Second))
		if n := int(math.Ceil(float64(screen) / float64(a.PollInterval))); n > every {
			every = n
		}
	}
	return every
}

// Acquire arms a single capture, waits for it to complete and reads both
// waveforms. When the trigger does not fire by itself the acquirer forces it.
// The scope is left stopped.
func (a Acquirer) Acquire(ctx context.Context, scope Scope, rs RangeState) (Capture, error) {
	if !rs.Manual && !rs.Valid() {
		return Capture{}, ErrRangeUnset
	}
	a = a.withDefaults()

	if err := scope.SetRunState(Single); err != nil {
		return Capture{}, fmt.Errorf("arming single capture: %w", err)
	}

	every := a.forceCadence(rs.TimebaseScale)
	polls, forces := 0, 0
	ticker := time.NewTicker(a.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		case <-ticker.C:
		}

		running, err := scope.Running()
		if err != nil {
			return Capture{}, fmt.Errorf("polling trigger status: %w", err)
		}
		if !running {
			break
		}
		polls++
		if polls%every != 0 {
			continue
		}
		if forces >= a.MaxForces {
			if err := scope.SetRunState(Stop); err != nil {
				a.Log.Debug().Err(err).Msg("stopping scope after timeout")
			}
			return Capture{}, fmt.Errorf("%w: %d forced triggers", ErrAcquireTimeout, forces)
		}
		a.Log.Debug().Int("polls", polls).Int("forces", forces+1).Msg("forcing trigger")
		if err := scope.ForceTrigger(); err != nil {
			return Capture{}, fmt.Errorf("forcing trigger: %w", err)
		}
		forces++
	}

	return readCapture(scope)
}

func readCapture(scope Scope) (Capture, error) {
	a, err := scope.Waveform(Reference)
	if err != nil {
		return Capture{}, fmt.Errorf("reading %s waveform: %w", Reference, err)
	}
	b, err := scope.Waveform(Response)
	if err != nil {
		return Capture{}, fmt.Errorf("reading %s waveform: %w", Response, err)
	}
	dt, err := scope.SampleInterval()
	if err != nil {
		return Capture{}, fmt.Errorf("reading sample interval: %w", err)
	}
	if !(dt > 0) {
		return Capture{}, fmt.Errorf("%w: sample interval %g", ErrBadCapture, dt)
	}
	if len(a) == 0 || len(a) != len(b) {
		return Capture{}, fmt.Errorf("%w: channel lengths %d and %d", ErrBadCapture, len(a), len(b))
	}
	return Capture{A: a, B: b, SampleRate: 1 / dt}, nil
}
