package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"maas-router/internal/config"
	"maas-router/internal/logging"
	"maas-router/internal/maas"
	"maas-router/internal/observability"
	"maas-router/internal/provider"
	providerfactory "maas-router/internal/provider/factory"
	"maas-router/internal/router"
	"maas-router/internal/server"
)

const serveUsage = `Usage:
  maas-router serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	modelOpts := []maas.Option{maas.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		recorder, err := observability.NewRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		modelOpts = append(modelOpts, maas.WithRecorder(recorder))
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(ctx, cfg, registry, modelOpts...); err != nil {
		return err
	}

	rt := router.New(registry)

	srv, err := server.New(cfg, rt, server.WithLogger(logger))
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
