package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/bode"
)

func TestParseArgs(t *testing.T) {
	lo, hi, n, err := parseArgs([]string{"100", "1e5"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, lo)
	assert.Equal(t, 1e5, hi)
	assert.Equal(t, defaultPoints, n)

	_, _, n, err = parseArgs([]string{"10", "20", "7"})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	for _, args := range [][]string{{"x", "1"}, {"1", "y"}, {"1", "2", "3.5"}} {
		_, _, _, err := parseArgs(args)
		assert.ErrorIs(t, err, bode.ErrConfig, args)
	}
}

func TestRunSimulated(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sweep.csv")
	png := filepath.Join(dir, "sweep.png")

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{
		"100", "100000", "3",
		"--sim", "--sim-dut", "flat", "--sim-gain", "0.5", "--sim-phase", "-90",
		"--log-level", "warn",
		"-o", out, "--plot", png,
	})
	require.NoError(t, cmd.Execute())

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Frequency in Hz;Gain in dB;Phase in Degree", lines[0])
	assert.Equal(t, "100.000000;-6.020600;-90.000000", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "3162.27766"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "100000.000000;-6.0206"), lines[3])

	_, err = os.Stat(png)
	assert.NoError(t, err)
	assert.Contains(t, stdout.String(), "3162.28")
}

func TestRunBadArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"1000", "100", "--sim"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, bode.ErrConfig)

	cmd = newRootCmd()
	cmd.SetArgs([]string{"1000"})
	assert.Error(t, cmd.Execute())
}
