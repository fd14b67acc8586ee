// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"gonum.org/v1/gonum/floats"
)

// Frequencies returns n logarithmically spaced frequencies from min to max,
// inclusive. The plan is strictly increasing.
func Frequencies(min, max float64, n int) ([]float64, error) {
	if min <= 0 || max <= 0 {
		return nil, configErrorf("frequency", "bounds must be greater than 0 (got %g, %g)", min, max)
	}
	if min >= max {
		return nil, configErrorf("frequency", "max (%g) must be greater than min (%g)", max, min)
	}
	if n <= 0 {
		return nil, configErrorf("count", "step count must be positive (got %d)", n)
	}
	if n == 1 {
		return []float64{min}, nil
	}
	return floats.LogSpan(make([]float64, n), min, max), nil
}

// ValidateFrequencies checks that a frequency plan is non-empty, positive and
// strictly increasing.
func ValidateFrequencies(freqs []float64) error {
	if len(freqs) == 0 {
		return configErrorf("frequency", "empty frequency plan")
	}
	for i, f := range freqs {
		if f <= 0 {
			return configErrorf("frequency", "point %d is not positive (%g)", i, f)
		}
		if i > 0 && f <= freqs[i-1] {
			return configErrorf("frequency", "point %d (%g) does not increase", i, f)
		}
	}
	return nil
}
