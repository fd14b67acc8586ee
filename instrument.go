// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import "fmt"

// Channel is a 1-based oscilloscope input channel.
type Channel int

// The two channels of a Bode measurement.
const (
	Reference Channel = 1 // DUT input, channel A
	Response  Channel = 2 // DUT output, channel B
)

func (ch Channel) String() string {
	return fmt.Sprintf("CHAN%d", int(ch))
}

// RunState is the acquisition state commanded on the oscilloscope.
type RunState int

// Available run states.
const (
	Run RunState = iota
	Single
	Stop
)

var runStateDesc = map[RunState]string{
	Run:    "run",
	Single: "single",
	Stop:   "stop",
}

func (s RunState) String() string {
	if d, ok := runStateDesc[s]; ok {
		return d
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// Generator drives the excitation signal. Calls provide no feedback; the
// caller assumes the setting is in effect once the call returns.
type Generator interface {
	SetFrequency(hz float64) error
	SetAmplitude(volts float64) error
	EnableOutput(on bool) error
}

// FrequencyLimiter is implemented by generators that can report the highest
// frequency they can produce.
type FrequencyLimiter interface {
	MaxFrequency() (float64, error)
}

// Scope is the oscilloscope surface used by the sweep. Scalar measurement
// methods return ErrNoMeasurement when the instrument has no valid reading.
type Scope interface {
	// SetChannelScale sets the vertical scale in volts per division. With
	// snap set, the driver rounds to the nearest scale it supports.
	SetChannelScale(ch Channel, voltsPerDiv float64, snap bool) error
	ChannelScale(ch Channel) (float64, error)
	SetChannelOffset(ch Channel, volts float64) error
	ShowChannel(ch Channel, on bool) error
	SetTimebaseScale(secondsPerDiv float64) error

	SetRunState(s RunState) error
	ForceTrigger() error
	Running() (bool, error)

	Vpp(ch Channel) (float64, error)
	// RelativePhase returns the phase of a relative to b, in degrees.
	RelativePhase(a, b Channel) (float64, error)

	// Waveform returns the samples of the last acquisition in volts.
	Waveform(ch Channel) ([]float64, error)
	// SampleInterval returns the time between samples of the last acquisition.
	SampleInterval() (float64, error)
}
