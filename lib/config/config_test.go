package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/bode"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("bode", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(flags(t), noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.AWG.Port)
	assert.Equal(t, 5.0, cfg.AWG.Voltage)
	assert.Equal(t, "auto", cfg.Scope.Addr)
	assert.Equal(t, 10*time.Millisecond, cfg.Sweep.Poll)
	assert.Equal(t, 10, cfg.Sweep.ForceEvery)
	assert.Equal(t, 50, cfg.Sweep.MaxForces)
	assert.True(t, cfg.Smooth)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, bode.Direct, cfg.Mode())
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("BODE_AWG_VOLTAGE", "2.5")
	t.Setenv("BODE_SCOPE_ADDR", "10.0.0.5")
	t.Setenv("BODE_SWEEP_FORCE_EVERY", "4")
	t.Setenv("BODE_ALLOWED_ORIGINS", "http://localhost:3000,http://lab.local")

	cfg, err := Load(flags(t, "--scope", "gpib:///dev/ttyUSB0?pad=7", "--dft", "-o", "out.csv"), noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.AWG.Voltage)
	assert.Equal(t, "gpib:///dev/ttyUSB0?pad=7", cfg.Scope.Addr)
	assert.Equal(t, 4, cfg.Sweep.ForceEvery)
	assert.Equal(t, "out.csv", cfg.Output)
	assert.Equal(t, bode.DFT, cfg.Mode())
	assert.Equal(t, []string{"http://localhost:3000", "http://lab.local"}, cfg.AllowedOrigins)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("BODE_SIM_CUTOFF=2500\nBODE_SIM_ENABLED=true\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("BODE_SIM_CUTOFF")
		os.Unsetenv("BODE_SIM_ENABLED")
	})

	cfg, err := Load(flags(t), env)
	require.NoError(t, err)
	assert.True(t, cfg.Sim.Enabled)
	assert.Equal(t, 2500.0, cfg.Sim.Cutoff)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bode.yaml")
	require.NoError(t, os.WriteFile(file, []byte("awg:\n  voltage: 1.5\nsweep:\n  settle: 20ms\n  manual: true\n"), 0o600))

	cfg, err := Load(flags(t, "--config", file), noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.AWG.Voltage)
	assert.Equal(t, 20*time.Millisecond, cfg.Sweep.Settle)
	assert.True(t, cfg.Sweep.Manual)

	_, err = Load(flags(t, "--config", filepath.Join(dir, "nope.yaml")), noEnvFile(t))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		args  []string
		field string
	}{
		{[]string{"--voltage", "0"}, "awg.voltage"},
		{[]string{"--scope", ""}, "scope.addr"},
		{[]string{"--poll", "0s"}, "sweep.poll"},
		{[]string{"--force-every", "0"}, "sweep.force_every"},
		{[]string{"--max-forces=-1"}, "sweep.max_forces"},
		{[]string{"--max=-1s"}, "max"},
		{[]string{"--sim", "--sim-dut", "bandpass"}, "sim.dut"},
		{[]string{"--sim", "--sim-cutoff", "0"}, "sim.cutoff"},
		{[]string{"--log-level", "loud"}, "log_level"},
	}
	for _, tc := range testCases {
		t.Run(tc.field, func(t *testing.T) {
			_, err := Load(flags(t, tc.args...), noEnvFile(t))
			require.ErrorIs(t, err, bode.ErrConfig)
			var cfgErr *bode.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestSimSkipsInstrumentChecks(t *testing.T) {
	cfg, err := Load(flags(t, "--sim", "--scope", "", "--sim-dut", "FLAT"), noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "flat", cfg.Sim.DUT)
}
