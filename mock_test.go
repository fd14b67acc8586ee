// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package bode

import "github.com/stretchr/testify/mock"

type mockScope struct {
	mock.Mock
}

func (m *mockScope) SetChannelScale(ch Channel, voltsPerDiv float64, snap bool) error {
	return m.Called(ch, voltsPerDiv, snap).Error(0)
}

func (m *mockScope) ChannelScale(ch Channel) (float64, error) {
	args := m.Called(ch)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockScope) SetChannelOffset(ch Channel, volts float64) error {
	return m.Called(ch, volts).Error(0)
}

func (m *mockScope) ShowChannel(ch Channel, on bool) error {
	return m.Called(ch, on).Error(0)
}

func (m *mockScope) SetTimebaseScale(secondsPerDiv float64) error {
	return m.Called(secondsPerDiv).Error(0)
}

func (m *mockScope) SetRunState(s RunState) error {
	return m.Called(s).Error(0)
}

func (m *mockScope) ForceTrigger() error {
	return m.Called().Error(0)
}

func (m *mockScope) Running() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *mockScope) Vpp(ch Channel) (float64, error) {
	args := m.Called(ch)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockScope) RelativePhase(a, b Channel) (float64, error) {
	args := m.Called(a, b)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockScope) Waveform(ch Channel) ([]float64, error) {
	args := m.Called(ch)
	data, _ := args.Get(0).([]float64)
	return data, args.Error(1)
}

func (m *mockScope) SampleInterval() (float64, error) {
	args := m.Called()
	return args.Get(0).(float64), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) SetFrequency(hz float64) error {
	return m.Called(hz).Error(0)
}

func (m *mockGenerator) SetAmplitude(volts float64) error {
	return m.Called(volts).Error(0)
}

func (m *mockGenerator) EnableOutput(on bool) error {
	return m.Called(on).Error(0)
}
