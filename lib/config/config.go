// Package config layers defaults, a .env file, an optional config file,
// BODE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gotmc/bode"
)

// EnvPrefix prefixes every environment variable, e.g. BODE_SCOPE_ADDR.
const EnvPrefix = "BODE"

// Config holds the settings of one run.
type Config struct {
	AWG            AWGConfig
	Scope          ScopeConfig
	Sweep          SweepConfig
	Sim            SimConfig
	Output         string
	Plot           string
	Smooth         bool
	Trace          bool
	Listen         string
	AllowedOrigins []string
	Max            time.Duration
	LogLevel       string
}

// AWGConfig holds the function generator settings.
type AWGConfig struct {
	Port    string // serial device, or "auto"
	Voltage float64
}

// ScopeConfig holds the oscilloscope settings.
type ScopeConfig struct {
	Addr    string // "auto", tcp://host:port, host[:port] or gpib:///dev/tty?pad=N&sad=M
	Timeout time.Duration
}

// SweepConfig holds the measurement settings.
type SweepConfig struct {
	Settle     time.Duration
	DFT        bool
	Manual     bool
	Poll       time.Duration
	ForceEvery int
	MaxForces  int
}

// SimConfig selects the simulated bench.
type SimConfig struct {
	Enabled bool
	DUT     string // "flat" or "lowpass"
	Cutoff  float64
	Gain    float64
	Phase   float64
}

var defaults = map[string]any{
	"awg.port":          "auto",
	"awg.voltage":       5.0,
	"scope.addr":        "auto",
	"scope.timeout":     5 * time.Second,
	"sweep.settle":      time.Duration(0),
	"sweep.dft":         false,
	"sweep.manual":      false,
	"sweep.poll":        10 * time.Millisecond,
	"sweep.force_every": 10,
	"sweep.max_forces":  50,
	"sim.enabled":       false,
	"sim.dut":           "lowpass",
	"sim.cutoff":        1000.0,
	"sim.gain":          1.0,
	"sim.phase":         0.0,
	"output":            "",
	"plot":              "",
	"smooth":            true,
	"trace":             false,
	"listen":            "",
	"allowed_origins":   []string{"*"},
	"max":               time.Duration(0),
	"log_level":         "info",
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"awg-port":        "awg.port",
	"voltage":         "awg.voltage",
	"scope":           "scope.addr",
	"scope-timeout":   "scope.timeout",
	"settle":          "sweep.settle",
	"dft":             "sweep.dft",
	"manual":          "sweep.manual",
	"poll":            "sweep.poll",
	"force-every":     "sweep.force_every",
	"max-forces":      "sweep.max_forces",
	"sim":             "sim.enabled",
	"sim-dut":         "sim.dut",
	"sim-cutoff":      "sim.cutoff",
	"sim-gain":        "sim.gain",
	"sim-phase":       "sim.phase",
	"output":          "output",
	"plot":            "plot",
	"smooth":          "smooth",
	"trace":           "trace",
	"listen":          "listen",
	"allowed-origins": "allowed_origins",
	"max":             "max",
	"log-level":       "log_level",
}

// AddFlags registers the command line flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("awg-port", "auto", "generator serial port, or auto to search for a CH340 device")
	fs.Float64("voltage", 5, "generator amplitude in Vpp")
	fs.String("scope", "auto", "oscilloscope address, or auto to browse mDNS")
	fs.Duration("scope-timeout", 5*time.Second, "oscilloscope I/O timeout")
	fs.Duration("settle", 0, "extra settling time after each frequency change")
	fs.Bool("dft", false, "measure with a single-bin DFT of the captured waveforms")
	fs.Bool("manual", false, "leave scope scales and timebase to the operator")
	fs.Duration("poll", 10*time.Millisecond, "trigger status poll interval")
	fs.Int("force-every", 10, "polls between forced triggers")
	fs.Int("max-forces", 50, "forced triggers before a capture is abandoned")
	fs.Bool("sim", false, "use the simulated bench instead of instruments")
	fs.String("sim-dut", "lowpass", "simulated device: flat or lowpass")
	fs.Float64("sim-cutoff", 1000, "simulated low-pass cutoff in Hz")
	fs.Float64("sim-gain", 1, "simulated flat gain")
	fs.Float64("sim-phase", 0, "simulated flat phase in degrees")
	fs.StringP("output", "o", "", "write results to a .csv or .parquet file")
	fs.String("plot", "", "render a Bode plot PNG")
	fs.Bool("smooth", true, "overlay a Savitzky-Golay smoothed curve on the plot")
	fs.Bool("trace", false, "log every SCPI command")
	fs.String("listen", "", "serve live sweep progress on this address")
	fs.StringSlice("allowed-origins", []string{"*"}, "CORS origins for the live feed")
	fs.Duration("max", 0, "abort the sweep after this long (0 = no limit)")
	fs.String("log-level", "info", "log level")
}

// Load reads the configuration. envFiles default to ".env"; missing files are
// ignored.
func Load(flags *pflag.FlagSet, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{
		AWG: AWGConfig{
			Port:    v.GetString("awg.port"),
			Voltage: v.GetFloat64("awg.voltage"),
		},
		Scope: ScopeConfig{
			Addr:    v.GetString("scope.addr"),
			Timeout: v.GetDuration("scope.timeout"),
		},
		Sweep: SweepConfig{
			Settle:     v.GetDuration("sweep.settle"),
			DFT:        v.GetBool("sweep.dft"),
			Manual:     v.GetBool("sweep.manual"),
			Poll:       v.GetDuration("sweep.poll"),
			ForceEvery: v.GetInt("sweep.force_every"),
			MaxForces:  v.GetInt("sweep.max_forces"),
		},
		Sim: SimConfig{
			Enabled: v.GetBool("sim.enabled"),
			DUT:     strings.ToLower(v.GetString("sim.dut")),
			Cutoff:  v.GetFloat64("sim.cutoff"),
			Gain:    v.GetFloat64("sim.gain"),
			Phase:   v.GetFloat64("sim.phase"),
		},
		Output:         v.GetString("output"),
		Plot:           v.GetString("plot"),
		Smooth:         v.GetBool("smooth"),
		Trace:          v.GetBool("trace"),
		Listen:         v.GetString("listen"),
		AllowedOrigins: splitList(v.GetStringSlice("allowed_origins")),
		Max:            v.GetDuration("max"),
		LogLevel:       v.GetString("log_level"),
	}
	return cfg, cfg.Validate()
}

// splitList accepts both repeated values and a single comma separated value,
// as found in environment variables.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func invalid(field, format string, a ...any) error {
	return &bode.ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Validate checks the settings that can be checked without instruments.
func (c *Config) Validate() error {
	switch {
	case !(c.AWG.Voltage > 0):
		return invalid("awg.voltage", "must be greater than 0 (got %g)", c.AWG.Voltage)
	case !c.Sim.Enabled && c.Scope.Addr == "":
		return invalid("scope.addr", "required")
	case !c.Sim.Enabled && c.AWG.Port == "":
		return invalid("awg.port", "required")
	case c.Sweep.Settle < 0:
		return invalid("sweep.settle", "must not be negative")
	case c.Sweep.Poll <= 0:
		return invalid("sweep.poll", "must be positive")
	case c.Sweep.ForceEvery <= 0:
		return invalid("sweep.force_every", "must be positive")
	case c.Sweep.MaxForces <= 0:
		return invalid("sweep.max_forces", "must be positive")
	case c.Max < 0:
		return invalid("max", "must not be negative")
	}
	if c.Sim.Enabled {
		switch c.Sim.DUT {
		case "flat":
		case "lowpass":
			if !(c.Sim.Cutoff > 0) {
				return invalid("sim.cutoff", "must be greater than 0 (got %g)", c.Sim.Cutoff)
			}
		default:
			return invalid("sim.dut", "unknown device %q", c.Sim.DUT)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "%s", err)
	}
	return nil
}

// Mode returns the measurement mode selected by the configuration.
func (c *Config) Mode() bode.Mode {
	if c.Sweep.DFT {
		return bode.DFT
	}
	return bode.Direct
}
