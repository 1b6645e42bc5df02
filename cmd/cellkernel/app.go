// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/cellkernel/pkg/config"
	"github.com/AleutianAI/cellkernel/pkg/logging"
	"github.com/AleutianAI/cellkernel/pkg/telemetry"
	"github.com/AleutianAI/cellkernel/pkg/ux"
	"github.com/AleutianAI/cellkernel/services/kernel"
	"github.com/AleutianAI/cellkernel/services/kernel/dryrun"
	store "github.com/AleutianAI/cellkernel/services/kernel/storage/badger"
)

// app holds the state shared by every subcommand of one invocation.
type app struct {
	configPath  string
	logLevel    string
	inMemory    bool
	plain       bool
	metricsAddr string

	cfg     *config.Config
	logger  *logging.Logger
	db      *store.DB
	closers []func(context.Context) error
}

// newRootCmd builds the command tree. The caller must call a.close after
// execution, whether or not the command succeeded.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cellkernel",
		Short:         "Transform and dry-run notebook cells",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath(), "configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.BoolVar(&a.inMemory, "in-memory", false, "use an in-memory store instead of storage.path")
	flags.BoolVar(&a.plain, "plain", false, "disable colors and boxes")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(
		newTransformCmd(a),
		newRunCmd(a),
		newReplCmd(a),
		newSnapshotsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.inMemory {
		cfg.Storage.InMemory = true
	}
	a.cfg = cfg

	logCfg, err := logging.FromConfig(cfg.Log, "cellkernel")
	if err != nil {
		return err
	}
	logCfg.Console = cmd.ErrOrStderr()
	a.logger = logging.New(logCfg)
	a.closers = append(a.closers, func(context.Context) error { return a.logger.Close() })

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.FromConfig(cfg.Telemetry, "cellkernel", version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.metricsAddr != "" {
		if err := a.serveMetrics(); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes the default prometheus registry, which carries the
// kernel metrics and, when configured, the otel prometheus exporter.
func (a *app) serveMetrics() error {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log().Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.log().Info("serving metrics", slog.String("addr", ln.Addr().String()))
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// close runs the registered closers in reverse order.
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) printer(w io.Writer) *ux.Printer {
	if a.plain {
		return ux.NewPlainPrinter(w)
	}
	return ux.NewPrinter(w)
}

// openStore opens the badger database once per invocation.
func (a *app) openStore() (*store.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.Open(store.FromConfig(a.cfg.Storage, a.log()))
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

// newKernel builds a kernel around the dry-run evaluator, wired to the
// badger snapshot and module stores.
func (a *app) newKernel(echo bool) (*kernel.Kernel, *store.ModuleStore, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	modules := store.NewModuleStore(db)

	opts, err := kernel.FromConfig(a.cfg.Kernel)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts,
		kernel.WithLogger(a.log()),
		kernel.WithSnapshotStore(store.NewSnapshotStore(db)),
		kernel.WithSandboxImporter(modules),
	)

	eval := dryrun.New(dryrun.WithEcho(echo), dryrun.WithLogger(a.log()))
	k, err := kernel.New(eval, opts...)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, k.Shutdown)
	return k, modules, nil
}
