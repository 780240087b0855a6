package main

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"github.com/rubiojr/nswfuel/internal/store"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Chart recorded daily prices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "fuel",
				Usage: "Fuel type",
				Value: "E10",
			},
			&cli.StringFlag{
				Name:  "station",
				Usage: "Station code; without it the cheapest price of each day is charted",
			},
			&cli.IntFlag{
				Name:  "height",
				Usage: "Chart height in lines",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "Chart width in columns, 0 for one column per day",
			},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	ctx := c.Context
	storage, err := requireStorage(ctx, c)
	if err != nil {
		return err
	}
	defer storage.Close()

	fuel := c.String("fuel")
	station := c.String("station")

	var points []store.HistoryPoint
	caption := fmt.Sprintf("cheapest %s per day", fuel)
	if station != "" {
		points, err = storage.PriceHistory(ctx, station, fuel)
		caption = fmt.Sprintf("%s at station %s", fuel, station)
	} else {
		points, err = storage.CheapestByDate(ctx, fuel)
	}
	if err != nil {
		return err
	}

	var data []float64
	var first, last store.HistoryPoint
	for _, p := range points {
		if !p.Price.Valid {
			continue
		}
		if len(data) == 0 {
			first = p
		}
		last = p
		data = append(data, p.Price.Decimal.InexactFloat64())
	}

	w := c.App.Writer
	if len(data) == 0 {
		fmt.Fprintf(w, "No price history for %s.\n", caption)
		return nil
	}

	opts := []asciigraph.Option{
		asciigraph.Height(c.Int("height")),
		asciigraph.Caption(fmt.Sprintf("%s, %s to %s", caption, first.Date.Format("2006-01-02"), last.Date.Format("2006-01-02"))),
		asciigraph.Precision(1),
	}
	if width := c.Int("width"); width > 0 {
		opts = append(opts, asciigraph.Width(width))
	}
	fmt.Fprintln(w, asciigraph.Plot(data, opts...))
	fmt.Fprintf(w, "Latest: %s %s | %s | %s\n", last.Price.Decimal.String(), last.FuelType, last.Brand, last.Name)
	return nil
}
