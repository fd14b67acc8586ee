// Package connutil opens the generator and oscilloscope described by a
// configuration and tears them down again.
package connutil

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/gotmc/bode"
	"github.com/gotmc/bode/lib/cmdlog"
	"github.com/gotmc/bode/lib/config"
	"github.com/gotmc/bode/lib/find"
	"github.com/gotmc/bode/lib/fygen"
	"github.com/gotmc/bode/lib/prologix"
	"github.com/gotmc/bode/lib/rigol"
	"github.com/gotmc/bode/lib/scpi"
	"github.com/gotmc/bode/lib/sim"
)

// Bench is an opened instrument pair.
type Bench struct {
	Scope     bode.Scope
	Generator bode.Generator
	// Sim is set when the bench is simulated.
	Sim *sim.Bench
}

// noSecondary disables the GPIB secondary address.
const noSecondary = 0xff

// ScopeAddr is a parsed oscilloscope address.
type ScopeAddr struct {
	Scheme string // "tcp" or "gpib"
	Host   string // host:port, for tcp
	Device string // serial device of the GPIB adapter
	PAD    int
	SAD    int // noSecondary when unused
	Delay  time.Duration
	AR488  bool
}

// ParseScopeAddr accepts tcp://host[:port], a bare host[:port], and
// gpib:///dev/ttyUSB0?pad=7&sad=96&delay=100ms&ar488=1.
func ParseScopeAddr(s string) (ScopeAddr, error) {
	if s == "" {
		return ScopeAddr{}, &bode.ConfigError{Field: "scope.addr", Reason: "empty address"}
	}
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ScopeAddr{}, &bode.ConfigError{Field: "scope.addr", Reason: err.Error()}
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return ScopeAddr{}, &bode.ConfigError{Field: "scope.addr", Reason: "missing host"}
		}
		host := u.Host
		if u.Port() == "" {
			host = u.Hostname() + ":" + scpi.DefaultPort
		}
		return ScopeAddr{Scheme: "tcp", Host: host}, nil
	case "gpib":
		a := ScopeAddr{Scheme: "gpib", Device: u.Path, SAD: noSecondary}
		if a.Device == "" {
			return a, &bode.ConfigError{Field: "scope.addr", Reason: "missing serial device"}
		}
		q := u.Query()
		ints := map[string]*int{"pad": &a.PAD, "sad": &a.SAD}
		for k, dst := range ints {
			if v := q.Get(k); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return a, &bode.ConfigError{Field: "scope.addr", Reason: fmt.Sprintf("%s: %s", k, err)}
				}
				*dst = n
			}
		}
		if v := q.Get("delay"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return a, &bode.ConfigError{Field: "scope.addr", Reason: fmt.Sprintf("delay: %s", err)}
			}
			a.Delay = d
		}
		a.AR488 = q.Get("ar488") == "1" || q.Get("ar488") == "true"
		return a, nil
	}
	return ScopeAddr{}, &bode.ConfigError{Field: "scope.addr", Reason: fmt.Sprintf("unknown scheme %q", u.Scheme)}
}

// discoverWait bounds the mDNS browse when the scope timeout is unset.
const discoverWait = 3 * time.Second

// discoverScope is replaced in tests.
var discoverScope = find.FindScope

// resolveScopeAddr returns cfg.Scope.Addr, browsing the local network for an
// oscilloscope when it is "auto".
func resolveScopeAddr(ctx context.Context, cfg *config.Config, l zerolog.Logger) (string, error) {
	if cfg.Scope.Addr != "auto" {
		return cfg.Scope.Addr, nil
	}
	wait := cfg.Scope.Timeout
	if wait <= 0 {
		wait = discoverWait
	}
	l.Info().Dur("wait", wait).Msg("browsing for scope")
	addr, err := discoverScope(ctx, wait)
	if err != nil {
		return "", fmt.Errorf("locating scope: %w", err)
	}
	l.Info().Str("addr", addr).Msg("found scope")
	return addr, nil
}

// closers is run in reverse order of registration.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

// Setup opens the instruments named by cfg. The returned cleanup disables the
// generator output, returns a GPIB instrument to front panel control, and
// closes every connection. It must be called even if the sweep fails.
func Setup(ctx context.Context, cfg *config.Config, l zerolog.Logger) (*Bench, func() error, error) {
	nocleanup := func() error { return nil }

	if cfg.Sim.Enabled {
		return setupSim(cfg, l)
	}

	var cs closers
	scope, err := openScope(ctx, cfg, l, &cs)
	if err != nil {
		return nil, nocleanup, multierr.Append(err, cs.close())
	}

	port := cfg.AWG.Port
	if port == "auto" {
		port, err = find.Find(find.CH340Filter)
		if err != nil {
			return nil, nocleanup, multierr.Append(fmt.Errorf("locating generator: %w", err), cs.close())
		}
	}
	l.Info().Str("port", port).Msg("opening generator")
	gen, err := fygen.Open(port)
	if err != nil {
		return nil, nocleanup, multierr.Append(err, cs.close())
	}
	cs.add(gen.Close)
	cs.add(func() error { return gen.EnableOutput(false) })

	return &Bench{Scope: scope, Generator: gen}, cs.close, nil
}

func setupSim(cfg *config.Config, l zerolog.Logger) (*Bench, func() error, error) {
	dut := sim.LowPass(cfg.Sim.Cutoff)
	if cfg.Sim.DUT == "flat" {
		dut = sim.Flat(cfg.Sim.Gain, cfg.Sim.Phase)
	}
	b := sim.New(sim.WithDUT(dut))
	l.Info().Str("dut", cfg.Sim.DUT).Msg("using simulated bench")
	cleanup := func() error { return b.EnableOutput(false) }
	return &Bench{Scope: b, Generator: b, Sim: b}, cleanup, nil
}

func openScope(ctx context.Context, cfg *config.Config, l zerolog.Logger, cs *closers) (*rigol.Scope, error) {
	raw, err := resolveScopeAddr(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	addr, err := ParseScopeAddr(raw)
	if err != nil {
		return nil, err
	}

	var conn scpi.Conn
	switch addr.Scheme {
	case "tcp":
		l.Info().Str("addr", addr.Host).Msg("connecting to scope")
		s, err := scpi.Dial(ctx, addr.Host, cfg.Scope.Timeout)
		if err != nil {
			return nil, err
		}
		cs.add(s.Close)
		conn = s
	case "gpib":
		gpib, err := openGPIB(addr, cfg.Scope.Timeout, l)
		if err != nil {
			return nil, err
		}
		cs.add(gpib.Close)
		cs.add(func() error { return gpib.FrontPanel(true) })
		conn = gpib
	}

	if cfg.Trace {
		conn = cmdlog.Trace(conn, l)
	}
	scope := rigol.New(conn)
	id, err := scope.Identify()
	if err != nil {
		return nil, fmt.Errorf("identifying scope: %w", err)
	}
	l.Info().Str("idn", strings.TrimSpace(id)).Msg("scope connected")
	return scope, nil
}

func openGPIB(addr ScopeAddr, timeout time.Duration, l zerolog.Logger) (*prologix.Controller, error) {
	l.Info().Str("port", addr.Device).Int("pad", addr.PAD).Msg("opening GPIB adapter")
	port, err := serial.Open(addr.Device, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", addr.Device, err)
	}
	if timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, err
		}
	}

	var opts []prologix.ControllerOption
	if addr.Delay > 0 {
		opts = append(opts, prologix.WithWriteDelay(addr.Delay))
	}
	if addr.SAD != noSecondary {
		opts = append(opts, prologix.WithSecondaryAddress(addr.SAD))
	}
	if addr.AR488 {
		opts = append(opts, prologix.WithAR488())
	}
	gpib, err := prologix.NewController(port, addr.PAD, false, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return gpib, nil
}
