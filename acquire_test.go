// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRange = RangeState{ResponseScale: 1, TimebaseScale: 1e-6}

func TestAcquireReadsBothChannels(t *testing.T) {
	scope := new(mockScope)
	scope.On("SetRunState", Single).Return(nil).Once()
	scope.On("Running").Return(true, nil).Twice()
	scope.On("Running").Return(false, nil).Once()
	scope.On("Waveform", Reference).Return([]float64{1, 2, 3}, nil).Once()
	scope.On("Waveform", Response).Return([]float64{4, 5, 6}, nil).Once()
	scope.On("SampleInterval").Return(0.001, nil).Once()

	a := Acquirer{PollInterval: time.Millisecond}
	c, err := a.Acquire(context.Background(), scope, fastRange)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, c.A)
	assert.Equal(t, []float64{4, 5, 6}, c.B)
	assert.InDelta(t, 1000, c.SampleRate, 1e-9)
	scope.AssertExpectations(t)
	scope.AssertNotCalled(t, "ForceTrigger")
}

func TestAcquireTimeout(t *testing.T) {
	scope := new(mockScope)
	scope.On("SetRunState", Single).Return(nil).Once()
	scope.On("SetRunState", Stop).Return(nil).Once()
	scope.On("Running").Return(true, nil)
	scope.On("ForceTrigger").Return(nil)

	a := Acquirer{PollInterval: time.Millisecond, ForceEvery: 2, MaxForces: 3}
	_, err := a.Acquire(context.Background(), scope, fastRange)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	scope.AssertNumberOfCalls(t, "ForceTrigger", 3)
	scope.AssertNumberOfCalls(t, "Running", 8)
	scope.AssertExpectations(t)
}

func TestAcquireRejectsUnsetRange(t *testing.T) {
	scope := new(mockScope)
	_, err := Acquirer{}.Acquire(context.Background(), scope, RangeState{})
	assert.ErrorIs(t, err, ErrRangeUnset)
	scope.AssertNotCalled(t, "SetRunState", Single)
}

func TestAcquireBadCapture(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     []float64
		interval float64
	}{
		{"unequal lengths", []float64{1, 2}, []float64{1}, 1e-3},
		{"empty", nil, nil, 1e-3},
		{"zero interval", []float64{1, 2}, []float64{1, 2}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			scope := new(mockScope)
			scope.On("SetRunState", Single).Return(nil)
			scope.On("Running").Return(false, nil)
			scope.On("Waveform", Reference).Return(tc.a, nil)
			scope.On("Waveform", Response).Return(tc.b, nil)
			scope.On("SampleInterval").Return(tc.interval, nil)

			a := Acquirer{PollInterval: time.Millisecond}
			_, err := a.Acquire(context.Background(), scope, RangeState{Manual: true})
			assert.ErrorIs(t, err, ErrBadCapture)
		})
	}
}

func TestForceCadence(t *testing.T) {
	a := Acquirer{PollInterval: 10 * time.Millisecond}.withDefaults()
	assert.Equal(t, 10, a.forceCadence(0))
	assert.Equal(t, 10, a.forceCadence(1e-3))
	// 12 divisions of 50 ms is 600 ms, or 60 polls.
	assert.Equal(t, 60, a.forceCadence(50e-3))
}
