package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func locationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "locations",
		Usage: "List the most searched locations",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of locations to show",
				Value: 10,
			},
		},
		Action: locationsAction,
	}
}

func locationsAction(c *cli.Context) error {
	storage, err := requireStorage(c.Context, c)
	if err != nil {
		return err
	}
	defer storage.Close()

	popular, err := storage.GetPopularLocations(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(popular) == 0 {
		fmt.Fprintln(w, "No searches logged.")
		return nil
	}
	for i, p := range popular {
		fmt.Fprintf(w, "%d. %.4f,%.4f searches=%d radius=%gkm\n", i+1, p.Latitude, p.Longitude, p.SearchCount, p.Radius)
	}
	return nil
}
