package main

import (
	"fmt"
	"time"

	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/urfave/cli/v2"
)

func pricesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prices",
		Usage: "List the cheapest preferred fuels across the whole state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "states",
				Usage: "Pipe separated states, e.g. NSW|TAS; implies the v2 endpoint",
			},
		},
		Action: pricesAction,
	}
}

func pricesAction(c *cli.Context) error {
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

	var payload *api.PricesPayload
	if states := c.String("states"); states != "" || c.Bool("v2") {
		payload, err = client.AllPricesV2(ctx, states)
	} else {
		payload, err = client.AllPrices(ctx)
	}
	if err != nil {
		return fmt.Errorf("error fetching current prices: %w", err)
	}

	fuels := config.PipeList(c.String("preferred-fuels"))
	if len(fuels) == 0 {
		fuels = []string{c.String("fueltype")}
	}
	joined := api.JoinStationPrices(payload)
	cheapest := api.FilterAndRank(joined, fuels, api.WithLimit(c.Int("limit")))

	w := c.App.Writer
	fmt.Fprintf(w, "Retrieved %d prices from %d stations; showing %d cheapest.\n", len(joined), len(payload.Stations), len(cheapest))
	for _, rec := range cheapest {
		fmt.Fprintf(w, "%s %s | %s | %s | %s | %s\n",
			rec.PriceString(), rec.FuelType, rec.Brand, rec.Name, rec.Address, rec.LastUpdated)
	}

	if storage != nil {
		return storage.RecordPrices(ctx, time.Now(), joined)
	}
	return nil
}
