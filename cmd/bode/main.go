// Copyright (c) 2024 The bode developers. All rights reserved.
// Project site: https://github.com/gotmc/bode
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command bode measures the frequency response of a circuit with a function
// generator and an oscilloscope.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/gotmc/bode"
	"github.com/gotmc/bode/lib/config"
	"github.com/gotmc/bode/lib/connutil"
	"github.com/gotmc/bode/lib/live"
	"github.com/gotmc/bode/lib/plot"
	"github.com/gotmc/bode/lib/record"
)

const defaultPoints = 50

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("bode failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bode MIN MAX [N]",
		Short: "Measure gain and phase of a circuit over a logarithmic frequency sweep",
		Long: `bode drives a function generator through N logarithmically spaced
frequencies between MIN and MAX Hz and measures the amplitude ratio and phase
shift between scope channel 1 (circuit input) and channel 2 (circuit output).`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

func parseArgs(args []string) (lo, hi float64, n int, err error) {
	if lo, err = strconv.ParseFloat(args[0], 64); err != nil {
		return 0, 0, 0, &bode.ConfigError{Field: "MIN", Reason: err.Error()}
	}
	if hi, err = strconv.ParseFloat(args[1], 64); err != nil {
		return 0, 0, 0, &bode.ConfigError{Field: "MAX", Reason: err.Error()}
	}
	n = defaultPoints
	if len(args) == 3 {
		if n, err = strconv.Atoi(args[2]); err != nil {
			return 0, 0, 0, &bode.ConfigError{Field: "N", Reason: err.Error()}
		}
	}
	return lo, hi, n, nil
}

func setupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(lvl).
		With().Timestamp().Logger()
	log.Logger = l
	return l
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	l := setupLogger(cfg.LogLevel)

	fmin, fmax, n, err := parseArgs(args)
	if err != nil {
		return err
	}
	freqs, err := bode.Frequencies(fmin, fmax, n)
	if err != nil {
		return err
	}
	l.Info().
		Float64("min", fmin).
		Float64("max", fmax).
		Int("points", n).
		Stringer("mode", cfg.Mode()).
		Float64("voltage", cfg.AWG.Voltage).
		Bool("manual", cfg.Sweep.Manual).
		Msg("starting sweep")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Max > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Max)
		defer cancel()
	}

	bench, cleanup, err := connutil.Setup(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			l.Error().Err(err).Msg("releasing instruments")
		}
	}()

	opts := []bode.SweepOption{
		bode.WithMode(cfg.Mode()),
		bode.WithAmplitude(cfg.AWG.Voltage),
		bode.WithSettle(cfg.Sweep.Settle),
		bode.WithAcquirer(bode.Acquirer{
			PollInterval: cfg.Sweep.Poll,
			ForceEvery:   cfg.Sweep.ForceEvery,
			MaxForces:    cfg.Sweep.MaxForces,
		}),
		bode.WithLogger(l),
	}
	if cfg.Sweep.Manual {
		opts = append(opts, bode.WithManualRange())
	}

	var served chan error
	if cfg.Listen != "" {
		hub := live.NewHub(l, cfg.AllowedOrigins)
		opts = append(opts, bode.WithProgress(hub.Publish))
		serveCtx, stopServing := context.WithCancel(ctx)
		defer func() {
			stopServing()
			if err := <-served; err != nil {
				l.Error().Err(err).Msg("live feed")
			}
		}()
		served = make(chan error, 1)
		go func() { served <- hub.ListenAndServe(serveCtx, cfg.Listen) }()
	}

	start := time.Now()
	res, sweepErr := bode.NewSweeper(bench.Generator, bench.Scope, opts...).Run(ctx, freqs)
	if errors.Is(sweepErr, context.DeadlineExceeded) {
		sweepErr = fmt.Errorf("exceeded --max %s: %w", cfg.Max, sweepErr)
	}
	if res == nil || len(res.Points) == 0 {
		return sweepErr
	}
	l.Info().Int("points", len(res.Points)).Dur("elapsed", time.Since(start)).Str("id", res.ID.String()).Msg("sweep done")

	record.WriteTable(cmd.OutOrStdout(), res)
	if cfg.Output != "" {
		if err := record.WriteFile(cfg.Output, res); err != nil {
			return multierr.Append(sweepErr, err)
		}
		l.Info().Str("file", cfg.Output).Msg("results written")
	}
	if cfg.Plot != "" {
		if err := plot.Bode(res, cfg.Plot, cfg.Smooth); err != nil {
			return multierr.Append(sweepErr, err)
		}
		l.Info().Str("file", cfg.Plot).Msg("plot written")
	}
	return sweepErr
}
