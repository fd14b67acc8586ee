package sim

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/bode"
)

func TestLowPass(t *testing.T) {
	h := LowPass(1000).Response(1000)
	assert.InDelta(t, 1/math.Sqrt2, cmplx.Abs(h), 1e-12)
	assert.InDelta(t, -math.Pi/4, cmplx.Phase(h), 1e-12)

	h = LowPass(1000).Response(0)
	assert.InDelta(t, 1, cmplx.Abs(h), 1e-12)
}

func TestFlat(t *testing.T) {
	h := Flat(0.5, -90).Response(12345)
	assert.InDelta(t, 0.5, cmplx.Abs(h), 1e-12)
	assert.InDelta(t, -math.Pi/2, cmplx.Phase(h), 1e-12)
}

func TestCaptureShape(t *testing.T) {
	b := New(WithDUT(Flat(0.5, 0)))
	require.NoError(t, b.SetAmplitude(2))
	require.NoError(t, b.EnableOutput(true))
	require.NoError(t, b.SetFrequency(1000))
	require.NoError(t, b.SetTimebaseScale(0.5e-3))
	require.NoError(t, b.SetRunState(bode.Single))

	running, err := b.Running()
	require.NoError(t, err)
	assert.False(t, running)

	ref, err := b.Waveform(bode.Reference)
	require.NoError(t, err)
	resp, err := b.Waveform(bode.Response)
	require.NoError(t, err)
	assert.Len(t, ref, Points)
	assert.Len(t, resp, Points)

	dt, err := b.SampleInterval()
	require.NoError(t, err)
	assert.InDelta(t, 5e-6, dt, 1e-15)

	maxRef, maxResp := 0.0, 0.0
	for i := range ref {
		maxRef = math.Max(maxRef, ref[i])
		maxResp = math.Max(maxResp, resp[i])
	}
	assert.InDelta(t, 1, maxRef, 1e-3)
	assert.InDelta(t, 0.5, maxResp, 1e-3)
}

func TestClippingAndVpp(t *testing.T) {
	b := New()
	require.NoError(t, b.SetAmplitude(10))
	require.NoError(t, b.EnableOutput(true))
	require.NoError(t, b.SetChannelScale(bode.Response, 1, false))

	_, err := b.Vpp(bode.Response)
	assert.ErrorIs(t, err, bode.ErrNoMeasurement)

	require.NoError(t, b.SetRunState(bode.Single))
	_, err = b.Running()
	require.NoError(t, err)
	data, err := b.Waveform(bode.Response)
	require.NoError(t, err)
	for _, v := range data {
		assert.LessOrEqual(t, math.Abs(v), 4.0)
	}

	require.NoError(t, b.SetChannelScale(bode.Response, 1.7, true))
	got, err := b.ChannelScale(bode.Response)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
	vpp, err := b.Vpp(bode.Response)
	require.NoError(t, err)
	assert.Equal(t, 10.0, vpp)
}

func TestOutputDisabled(t *testing.T) {
	b := New()
	vpp, err := b.Vpp(bode.Reference)
	require.NoError(t, err)
	assert.Zero(t, vpp)
	_, err = b.RelativePhase(bode.Reference, bode.Response)
	assert.ErrorIs(t, err, bode.ErrNoMeasurement)
}

func TestRelativePhase(t *testing.T) {
	b := New(WithDUT(Flat(1, 30)))
	require.NoError(t, b.EnableOutput(true))
	got, err := b.RelativePhase(bode.Reference, bode.Response)
	require.NoError(t, err)
	assert.InDelta(t, -30, got, 1e-9)
}

func TestTriggerKnobs(t *testing.T) {
	b := New(WithNoTrigger())
	require.NoError(t, b.SetRunState(bode.Single))
	for i := 0; i < 5; i++ {
		running, err := b.Running()
		require.NoError(t, err)
		assert.True(t, running)
	}
	require.NoError(t, b.ForceTrigger())
	running, err := b.Running()
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, 1, b.Forced())
	assert.Equal(t, 1, b.Captures())

	// Forcing while stopped does not capture.
	require.NoError(t, b.ForceTrigger())
	assert.Equal(t, 2, b.Forced())
	assert.Equal(t, 1, b.Captures())

	// Continuous acquisition never reports completion.
	require.NoError(t, b.SetRunState(bode.Run))
	running, err = b.Running()
	require.NoError(t, err)
	assert.True(t, running)
}

func TestNoiseRepeatable(t *testing.T) {
	capture := func() []float64 {
		b := New(WithNoise(0.01, 42))
		require.NoError(t, b.EnableOutput(true))
		require.NoError(t, b.SetRunState(bode.Single))
		_, err := b.Running()
		require.NoError(t, err)
		data, err := b.Waveform(bode.Reference)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, capture(), capture())
}

func TestInvalidSettings(t *testing.T) {
	b := New()
	assert.Error(t, b.SetFrequency(-1))
	assert.Error(t, b.SetAmplitude(-1))
	assert.Error(t, b.SetChannelScale(bode.Reference, 0, false))
	assert.Error(t, b.SetTimebaseScale(0))
	_, err := b.Waveform(bode.Reference)
	assert.Error(t, err)
	_, err = b.SampleInterval()
	assert.Error(t, err)
}
