// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"fmt"
	"math"
)

// periodEpsilon absorbs representation error when the window is an exact
// multiple of the period, e.g. 0.3/0.1.
const periodEpsilon = 1e-9

// Capture is one two-channel acquisition. Both channels share SampleRate and
// have the same length.
type Capture struct {
	A, B       []float64
	SampleRate float64 // samples per second
}

// Trim returns the capture truncated to a whole number of periods of freq,
// along with the period count.
func (c Capture) Trim(freq float64) (Capture, int, error) {
	a, b, periods, err := Trim(c.A, c.B, c.SampleRate, freq)
	if err != nil {
		return Capture{}, 0, err
	}
	return Capture{A: a, B: b, SampleRate: c.SampleRate}, periods, nil
}

// Trim truncates both channels to the largest sample count spanning a whole
// number of periods of freq. The analysis window then contains no partial
// period, so the single-bin DFT sees no leakage.
//
// If the samples cover less than one period, Trim returns ErrInsufficientData.
func Trim(a, b []float64, sampleRate, freq float64) (ta, tb []float64, periods int, err error) {
	if len(a) == 0 || len(a) != len(b) {
		return nil, nil, 0, fmt.Errorf("%w: channel lengths %d and %d", ErrBadCapture, len(a), len(b))
	}
	if sampleRate <= 0 || freq <= 0 {
		return nil, nil, 0, fmt.Errorf("%w: sample rate %g, frequency %g", ErrBadCapture, sampleRate, freq)
	}

	samplesPerPeriod := sampleRate / freq
	periods = int(math.Floor(float64(len(a))/samplesPerPeriod + periodEpsilon))
	if periods <= 0 {
		return nil, nil, 0, fmt.Errorf("%w: %d samples, %.1f per period", ErrInsufficientData, len(a), samplesPerPeriod)
	}

	n := int(math.Round(float64(periods) * samplesPerPeriod))
	if n > len(a) {
		n = len(a)
	}
	return a[:n], b[:n], periods, nil
}
