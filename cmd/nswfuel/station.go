package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/urfave/cli/v2"
)

func stationCommand() *cli.Command {
	return &cli.Command{
		Name:      "station",
		Usage:     "List every price at one station",
		ArgsUsage: "[station code]",
		Action:    stationAction,
	}
}

func stationAction(c *cli.Context) error {
	code := c.Args().First()
	if code == "" {
		code = c.String("station-code")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("missing station code argument or NSW_FUEL_API_STATION_CODE in environment")
	}
	return stationPrices(c, code)
}

func stationPrices(c *cli.Context, code string) error {
	ctx := c.Context
	logger := newLogger(c)

	storage, err := openStorage(ctx, c, logger)
	if err != nil {
		return err
	}
	if storage != nil {
		defer storage.Close()
	}

	client, _, err := newClient(ctx, c, storage, logger)
	if err != nil {
		return err
	}

	payload, err := client.StationPrices(ctx, code)
	if err != nil {
		return fmt.Errorf("error fetching station %s prices: %w", code, err)
	}
	joined := api.JoinStationPrices(&api.PricesPayload{Prices: payload.Prices})

	w := c.App.Writer
	fmt.Fprintf(w, "Station %s prices: %d\n", code, len(joined))
	for _, rec := range joined {
		fmt.Fprintf(w, "%s %s | %s\n", rec.PriceString(), rec.FuelType, rec.LastUpdated)
	}

	if storage != nil {
		return storage.RecordPrices(ctx, time.Now(), joined)
	}
	return nil
}
