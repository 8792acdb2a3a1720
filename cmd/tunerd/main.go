// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command tunerd shares broadcast tuners between stream consumers over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/daemon"
	tlog "github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	tlog.Configure(tlog.Config{
		Level:   "info",
		Service: "tunerd",
		Version: version.Version,
	})
	logger := tlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(tlog.FieldEvent, "config.load_failed").
			Str(tlog.FieldPath, path).
			Msg("failed to load configuration")
	}

	tlog.Configure(tlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger = tlog.WithComponent("daemon")

	if path != "" {
		logger.Info().
			Str(tlog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(tlog.FieldPath, path).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(tlog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	app, err := daemon.Build(ctx, daemon.Options{
		Config:  cfg,
		Loader:  loader,
		Version: version.Version,
	})
	if err != nil {
		logger.Fatal().Err(err).Str(tlog.FieldEvent, "daemon.build_failed").Msg("failed to initialize daemon")
	}

	logger.Info().
		Str(tlog.FieldEvent, "daemon.start").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("starting tunerd")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(tlog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		stop()
		os.Exit(1)
	}
	logger.Info().Str(tlog.FieldEvent, "daemon.exit").Msg("tunerd stopped")
}
