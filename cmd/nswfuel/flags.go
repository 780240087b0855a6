package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rubiojr/nswfuel/internal/counter"
	"github.com/rubiojr/nswfuel/internal/store"
	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/urfave/cli/v2"
)

// cliCounterKey is the call counter key used by one-shot commands.
const cliCounterKey = "cli"

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "base-url", Usage: "FuelCheck API base URL", EnvVars: []string{"NSW_FUEL_API_BASE_URL"}},
		&cli.StringFlag{Name: "key", Usage: "API key", EnvVars: []string{"NSW_FUEL_API_KEY"}},
		&cli.StringFlag{Name: "secret", Usage: "API secret", EnvVars: []string{"NSW_FUEL_API_SECRET"}},
		&cli.StringFlag{Name: "authorisation", Usage: "Pre-computed Authorization header for token requests", EnvVars: []string{"NSW_FUEL_API_AUTHORISATION"}},
		&cli.StringFlag{Name: "fueltype", Usage: "Fuel type used when no preferred fuels are set", Value: "U91", EnvVars: []string{"NSW_FUEL_API_FUELTYPE"}},
		&cli.StringFlag{Name: "brands", Usage: "Pipe separated brand filter", EnvVars: []string{"NSW_FUEL_API_BRANDS"}},
		&cli.StringFlag{Name: "radius", Usage: "Search radius in kilometres", Value: "5", EnvVars: []string{"NSW_FUEL_API_RADIUS_KM"}},
		&cli.StringFlag{Name: "namedlocation", Usage: "Postcode or suburb of the search point", EnvVars: []string{"NSW_FUEL_API_NAMEDLOCATION"}},
		&cli.StringFlag{Name: "lat", Usage: "Latitude of the search point", EnvVars: []string{"NSW_FUEL_API_LAT"}},
		&cli.StringFlag{Name: "lon", Usage: "Longitude of the search point", EnvVars: []string{"NSW_FUEL_API_LON"}},
		&cli.StringFlag{Name: "sortby", Usage: "Sort field", Value: "price", EnvVars: []string{"NSW_FUEL_API_SORTBY"}},
		&cli.StringFlag{Name: "sortascending", Usage: "Sort ascending", Value: "true", EnvVars: []string{"NSW_FUEL_API_SORTASCENDING"}},
		&cli.StringFlag{Name: "station-code", Usage: "Show prices for this station instead of searching", EnvVars: []string{"NSW_FUEL_API_STATION_CODE"}},
		&cli.StringFlag{Name: "preferred-fuels", Usage: "Pipe separated fuel types to show", Value: "E10|U91|P95|P98", EnvVars: []string{"NSW_FUEL_API_PREFERRED_FUELS"}},
		&cli.IntFlag{Name: "limit", Usage: "Number of prices to show", Value: 10, EnvVars: []string{"NSW_FUEL_API_RESULTS_LIMIT"}},
		&cli.BoolFlag{Name: "v2", Usage: "Use the v2 endpoints, which include Tasmania", EnvVars: []string{"NSW_FUEL_API_V2"}},
		&cli.BoolFlag{Name: "geocode", Usage: "Resolve missing coordinates from the named location"},
		&cli.StringFlag{Name: "db", Usage: "Database file for call counts, price history and search locations", EnvVars: []string{"NSW_FUEL_DB"}},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log to stderr"},
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	if !c.Bool("verbose") {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openStorage opens the --db database, or returns nil when none is set.
func openStorage(ctx context.Context, c *cli.Context, logger *slog.Logger) (*store.Storage, error) {
	path := c.String("db")
	if path == "" {
		return nil, nil
	}
	return openStorageAt(ctx, path, logger)
}

func openStorageAt(ctx context.Context, path string, logger *slog.Logger) (*store.Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}
	storage, err := store.NewStorage(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing storage: %w", err)
	}
	return storage, nil
}

// requireStorage is openStorage for commands that only read the database.
func requireStorage(ctx context.Context, c *cli.Context) (*store.Storage, error) {
	if c.String("db") == "" {
		return nil, errors.New("missing --db or NSW_FUEL_DB")
	}
	return openStorage(ctx, c, newLogger(c))
}

// newClient builds an API client whose calls are counted, and persisted
// when storage is set.
func newClient(ctx context.Context, c *cli.Context, storage *store.Storage, logger *slog.Logger) (*api.Client, *counter.Counter, error) {
	baseURL := strings.TrimSpace(c.String("base-url"))
	if baseURL == "" {
		return nil, nil, errors.New("missing NSW_FUEL_API_BASE_URL in environment")
	}

	var counterOpts []counter.Option
	if storage != nil {
		counterOpts = append(counterOpts, counter.WithStore(storage, cliCounterKey))
	}
	calls, err := counter.New(ctx, logger, counterOpts...)
	if err != nil {
		return nil, nil, err
	}

	opts := []api.Option{api.WithCallCounter(calls.Record), api.WithLogger(logger)}
	if auth := c.String("authorisation"); auth != "" {
		opts = append(opts, api.WithAuthorization(auth))
	}
	return api.NewClient(baseURL, c.String("key"), c.String("secret"), opts...), calls, nil
}
