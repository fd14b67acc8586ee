// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Mode selects how a sweep point is measured.
type Mode int

// Measurement modes.
const (
	// Direct reads the oscilloscope's own Vpp and relative phase measurements.
	Direct Mode = iota
	// DFT captures both waveforms and evaluates a single-bin DFT.
	DFT
)

var modeDesc = map[Mode]string{
	Direct: "direct",
	DFT:    "dft",
}

func (m Mode) String() string {
	if d, ok := modeDesc[m]; ok {
		return d
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Status qualifies a Measurement.
type Status int

// Measurement statuses.
const (
	StatusOK Status = iota
	StatusInsufficientData
	StatusReferenceLow
	StatusNoResponse
)

var statusDesc = map[Status]string{
	StatusOK:               "ok",
	StatusInsufficientData: "insufficient data",
	StatusReferenceLow:     "reference too low",
	StatusNoResponse:       "no response",
}

func (s Status) String() string {
	if d, ok := statusDesc[s]; ok {
		return d
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Measurement is the outcome of one sweep point. Gain and Phase are NaN when
// undefined.
type Measurement struct {
	Frequency    float64 // Hz
	Gain         float64 // linear, response/reference
	Phase        float64 // degrees in (-180, 180]
	ReferenceVpp float64
	ResponseVpp  float64
	Periods      int // whole periods analysed, DFT mode only
	Status       Status
}

// GainDB returns the gain in decibels, or NaN when the gain is undefined.
func (m Measurement) GainDB() float64 {
	return DB(m.Gain)
}

// Valid reports whether both gain and phase are defined.
func (m Measurement) Valid() bool {
	return !math.IsNaN(m.Gain) && !math.IsNaN(m.Phase)
}

// Gain returns b/a. It is NaN when a is zero, negative or not finite.
func Gain(a, b float64) float64 {
	if !(a > 0) || math.IsInf(a, 0) || math.IsNaN(b) {
		return math.NaN()
	}
	return b / a
}

// DB converts a linear amplitude ratio to decibels. Non-positive ratios map to
// NaN.
func DB(ratio float64) float64 {
	if !(ratio > 0) {
		return math.NaN()
	}
	return 20 * math.Log10(ratio)
}

// Result is a completed (or partially completed) sweep. Points is index-aligned
// with the frequency plan.
type Result struct {
	ID        uuid.UUID
	Started   time.Time
	Finished  time.Time
	Mode      Mode
	Amplitude float64
	Points    []Measurement
}

func newResult(mode Mode, amplitude float64, n int) *Result {
	return &Result{
		ID:        uuid.New(),
		Started:   time.Now(),
		Mode:      mode,
		Amplitude: amplitude,
		Points:    make([]Measurement, 0, n),
	}
}

// Frequencies returns the measured frequencies in Hz.
func (r *Result) Frequencies() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Frequency
	}
	return out
}

// GainsDB returns the gain of every point in dB.
func (r *Result) GainsDB() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.GainDB()
	}
	return out
}

// Phases returns the phase of every point in degrees.
func (r *Result) Phases() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Phase
	}
	return out
}
