package main

import (
	"fmt"
	"os"

	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/urfave/cli/v2"
)

func main() {
	config.LoadEnv()
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "nswfuel",
		Usage:  "Find the cheapest fuel near you with the NSW FuelCheck API",
		Flags:  appFlags(),
		Action: defaultAction,
		Commands: []*cli.Command{
			nearbyCommand(),
			stationCommand(),
			pricesCommand(),
			fuelTypesCommand(),
			brandsCommand(),
			serveCommand(),
			callsCommand(),
			historyCommand(),
			locationsCommand(),
			checkStatusCommand(),
			pruneCommand(),
		},
	}
}

// defaultAction prints the favourite station's prices when a station code
// is configured and the cheapest nearby prices otherwise.
func defaultAction(c *cli.Context) error {
	if code := c.String("station-code"); code != "" {
		return stationPrices(c, code)
	}
	return nearbyPrices(c)
}
