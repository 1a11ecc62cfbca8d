package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"EloquentChat/internal/app"
	"EloquentChat/internal/bus"
	"EloquentChat/internal/config"
	"EloquentChat/internal/directory"
	"EloquentChat/internal/engine"
	"EloquentChat/internal/identity"
	"EloquentChat/internal/notify"
	"EloquentChat/internal/store"
	"EloquentChat/internal/telemetry"
)

func main() {
	cfg := config.Default()
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to TOML config file")
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Base URL of the chat service")
	flag.StringVar(&cfg.EventsURL, "events", cfg.EventsURL, "WebSocket URL for sessions-updated events (optional)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the local state database")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if configPath != "" {
		if err := config.LoadFile(configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open local store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	dir, err := directory.NewHTTPClient(cfg.ServerURL, st, logger, tracer, meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directory client: %v\n", err)
		os.Exit(1)
	}

	id, err := identity.NewProvider(st, dir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create identity provider: %v\n", err)
		os.Exit(1)
	}

	b := bus.New()

	eng, err := engine.New(engine.Deps{
		Store:     st,
		Directory: dir,
		Identity:  id,
		Bus:       b,
		Logger:    logger,
		Tracer:    tracer,
		Meter:     meter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if cfg.EventsURL != "" {
		listener, err := notify.NewListener(cfg.EventsURL, b, logger)
		if err != nil {
			logger.Warn("continuing without event stream", "error", err)
		} else {
			go listener.Run()
			defer listener.Close()
		}
	}

	if err := app.New(eng, id, logger).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
