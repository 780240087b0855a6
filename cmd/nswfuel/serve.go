package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/rubiojr/nswfuel/internal/httpapi"
	"github.com/rubiojr/nswfuel/internal/integration"
	"github.com/rubiojr/nswfuel/internal/notify"
	"github.com/rubiojr/nswfuel/internal/tracker"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Poll every configured entry and serve the results over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "YAML configuration file",
				Required: true,
				EnvVars:  []string{"NSW_FUEL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address, overrides the configuration file",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if listen := c.String("listen"); listen != "" {
		cfg.Listen = listen
	}

	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := httplog.NewLogger("nswfuel", httplog.Options{
		JSON:            false,
		LogLevel:        level,
		Concise:         true,
		QuietDownPeriod: 10 * time.Second,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorageAt(ctx, cfg.Database, logger.Logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	opts := integration.Options{Store: storage, Logger: logger.Logger}
	if cfg.EntitiesFile != "" {
		entities, err := tracker.New(cfg.EntitiesFile, logger.Logger)
		if err != nil {
			return err
		}
		go func() {
			if err := entities.Watch(ctx); err != nil {
				logger.Error("entity file watcher stopped", "error", err)
			}
		}()
		opts.Locations = entities
	}
	if cfg.Notifications {
		opts.Notify = notify.Desktop
	}

	registry := integration.NewRegistry(opts)
	defer registry.Close()
	for _, entry := range cfg.Entries {
		if _, err := registry.Setup(ctx, entry); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.NewRouter(registry, httpapi.Options{Logger: logger, RateLimit: cfg.RateLimit}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Listen, "entries", len(cfg.Entries))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
