// SPDX-License-Identifier: MIT

// Package daemon wires the tuner, registries, background jobs and HTTP API
// into a running daemon and manages its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/tunerd/internal/api"
	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/health"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/power"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/telemetry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

// Files kept under the data directory.
const (
	ServicesFile = "services.json"
	ProgramsFile = "programs.db"
)

// Options configure Build.
type Options struct {
	Config config.AppConfig
	// Loader enables reloads from file and SIGHUP. Nil disables reloading.
	Loader  *config.Loader
	Version string
	// Spawner starts capture and decoder processes. Nil uses os/exec.
	Spawner tuner.Spawner
	// Inhibitor keeps the host awake while devices stream. Nil is a no-op.
	Inhibitor power.Inhibitor
}

// Build constructs every component and returns the app ready to run. Shutdown
// hooks release them in reverse order once the app stops.
func Build(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	logger := log.WithComponent("daemon")

	service := cfg.LogService
	if service == "" {
		service = "tunerd"
	}
	provider, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, service, opts.Version))
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("Telemetry initialization failed, continuing without tracing")
		provider = nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := epg.OpenStore(filepath.Join(cfg.DataDir, ProgramsFile))
	if err != nil {
		return nil, fmt.Errorf("open program store: %w", err)
	}

	channels := registry.NewChannels()
	services := registry.NewServices(filepath.Join(cfg.DataDir, ServicesFile), channels)

	spawner := opts.Spawner
	if spawner == nil {
		spawner = tuner.NewExecSpawner(log.WithComponent("process"))
	}
	tu := tuner.New(cfg.Tuners, tuner.Deps{
		Spawner:  spawner,
		Services: services,
		EPG:      store,
		Power:    power.New(opts.Inhibitor),
	}, tuner.Options{
		RetryCount:    cfg.Scheduler.RetryCount,
		RetryInterval: cfg.Scheduler.RetryInterval,
	})

	hints := channels.Load(cfg.Channels, tu.TypeExists)
	if err := services.Load(); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "registry.services_load_failed").Msg("starting with an empty service registry")
	}
	programs := registry.NewPrograms(store)

	jobs := NewJobs(JobsConfig{
		EPGDisabled:      cfg.EPG.Disabled,
		GatherInterval:   cfg.EPG.GatherInterval,
		GatherTimeout:    cfg.EPG.GatherTimeout,
		DiscoveryTimeout: cfg.EPG.DiscoveryTimeout,
		Retention:        cfg.EPG.Retention,
		XMLTVPath:        cfg.EPG.XMLTVPath,
	}, tu, services, programs)
	jobs.UpdateHints(hints)

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewTunerChecker(tu.Capacity))
	hm.RegisterChecker(health.NewWritableDirChecker("data_dir", cfg.DataDir))
	if !cfg.EPG.Disabled {
		hm.RegisterChecker(health.NewFileChecker("xmltv", cfg.EPG.XMLTVPath))
		hm.RegisterChecker(health.NewLastRunChecker("epg_gather", 2*jobs.cfg.GatherInterval, jobs.LastGather))
	}

	var tracingService string
	if provider.Enabled() {
		tracingService = service
	}
	server := api.New(api.Config{
		RateLimit:      cfg.Server.RateLimit,
		TracingService: tracingService,
	}, api.Deps{
		Tuner:    tu,
		Channels: channels,
		Services: services,
		Programs: programs,
		Health:   hm,
	})

	mgr, err := NewManager(cfg.Server, Deps{
		Logger:     logger,
		APIHandler: server.Handler(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if provider.Enabled() {
		mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	}
	mgr.RegisterShutdownHook("programs", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("services", func(context.Context) error { return services.Close() })
	mgr.RegisterShutdownHook("tuner", func(ctx context.Context) error {
		if err := tu.Close(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	var holder *config.ConfigHolder
	if opts.Loader != nil {
		holder = config.NewConfigHolder(cfg, opts.Loader)
	}

	logger.Info().
		Str(log.FieldEvent, "daemon.built").
		Str("version", opts.Version).
		Str("listen", cfg.Server.Listen).
		Int("tuners", len(tu.Devices())).
		Int("channels", len(channels.All())).
		Int("services", len(services.All())).
		Msg("daemon components ready")

	return NewApp(AppDeps{
		Manager:      mgr,
		ConfigHolder: holder,
		Channels:     channels,
		TypeExists:   tu.TypeExists,
		Jobs:         jobs,
	}), nil
}
