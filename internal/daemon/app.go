// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/registry"
)

// App owns the long-lived runtime lifecycle (config reload, background jobs)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	channels     *registry.Channels
	typeExists   func(string) bool
	jobs         *Jobs
	reloadSignal os.Signal
}

// AppDeps are the components an App drives. Only Manager is required.
type AppDeps struct {
	Manager      Manager
	ConfigHolder *config.ConfigHolder
	Channels     *registry.Channels
	// TypeExists filters reloaded channels to the types a tuner can receive.
	TypeExists func(string) bool
	Jobs       *Jobs
}

// NewApp creates a new App orchestrator.
func NewApp(deps AppDeps) *App {
	return &App{
		logger:       log.WithComponent("daemon"),
		manager:      deps.Manager,
		cfgHolder:    deps.ConfigHolder,
		channels:     deps.Channels,
		typeExists:   deps.TypeExists,
		jobs:         deps.Jobs,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str(log.FieldSignal, a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.jobs != nil {
		g.Go(func() error {
			return a.jobs.Run(ctx)
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes a reloaded configuration into the running components.
// Tuner changes only take effect after a restart.
func (a *App) apply(cfg config.AppConfig) {
	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	if a.channels == nil {
		return
	}
	hints := a.channels.Load(cfg.Channels, a.typeExists)
	if a.jobs != nil {
		a.jobs.UpdateHints(hints)
	}
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Int("channels", len(a.channels.All())).
		Msg("reloaded configuration applied")
}
