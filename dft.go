// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"math"
	"math/cmplx"
)

// Estimation is the single-bin DFT result for a pair of trimmed channels.
// Amplitudes are peak-to-peak equivalents in the channel unit (volts).
type Estimation struct {
	AmplitudeA float64
	AmplitudeB float64
	Phase      float64 // degrees, channel B relative to channel A
}

// Gain returns AmplitudeB/AmplitudeA, or NaN when channel A carries no signal.
func (e Estimation) Gain() float64 {
	return Gain(e.AmplitudeA, e.AmplitudeB)
}

// Estimate correlates both channels against a complex exponential that
// completes exactly periods cycles over the window. The inputs must already be
// trimmed to a whole number of periods; see Trim.
//
// A zero Estimation is returned for empty input or periods <= 0. Callers detect
// failure from Trim's ErrInsufficientData, not from the zero value.
func Estimate(a, b []float64, periods int) Estimation {
	n := len(a)
	if n == 0 || len(b) != n || periods <= 0 {
		return Estimation{}
	}
	binA, binB := singleBin(a, b, periods)
	return Estimation{
		AmplitudeA: 4 * cmplx.Abs(binA),
		AmplitudeB: 4 * cmplx.Abs(binB),
		Phase:      NormalizePhase((cmplx.Phase(binA) - cmplx.Phase(binB)) * 180 / math.Pi),
	}
}

func singleBin(a, b []float64, periods int) (complex128, complex128) {
	n := len(a)
	step := 2 * math.Pi * float64(periods) / float64(n)
	var sumA, sumB complex128
	for i := 0; i < n; i++ {
		s, c := math.Sincos(step * float64(i))
		basis := complex(c, s)
		sumA += basis * complex(a[i], 0)
		sumB += basis * complex(b[i], 0)
	}
	scale := complex(1/float64(n), 0)
	return sumA * scale, sumB * scale
}

// NormalizePhase maps an angle in degrees into (-180, 180].
func NormalizePhase(deg float64) float64 {
	m := math.Mod(deg+180, 360)
	if m < 0 {
		m += 360
	}
	p := m - 180
	if p <= -180 {
		p = 180
	}
	return p
}
