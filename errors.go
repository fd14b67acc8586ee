// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every ConfigError.
	ErrConfig = errors.New("invalid configuration")

	// ErrInsufficientData means the capture window holds less than one period of
	// the excitation frequency.
	ErrInsufficientData = errors.New("capture shorter than one signal period")

	// ErrBadCapture reports a capture that cannot be analysed at all: empty or
	// unequal channels, or a non-positive sample rate or frequency.
	ErrBadCapture = errors.New("malformed capture")

	// ErrReferenceTooLow aborts a direct-mode sweep. It usually means the
	// reference probe is not connected.
	ErrReferenceTooLow = errors.New("reference amplitude below threshold")

	// ErrAcquireTimeout is returned when a single-shot capture does not
	// complete within the forced-trigger budget.
	ErrAcquireTimeout = errors.New("scope did not complete single capture")

	// ErrCalibration is returned when no vertical scale yields a readable
	// response amplitude.
	ErrCalibration = errors.New("vertical scale calibration failed")

	// ErrNoMeasurement is returned by scope drivers when the instrument has no
	// valid value for a scalar measurement (e.g. the trace is off-screen).
	ErrNoMeasurement = errors.New("no valid measurement")

	// ErrRangeUnset is returned when an acquisition is attempted before the
	// range controller has configured the scope.
	ErrRangeUnset = errors.New("scope range not configured")
)

// ConfigError describes a rejected configuration value. It matches ErrConfig
// with errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErrorf(field, format string, a ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}
