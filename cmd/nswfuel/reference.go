package main

import (
	"fmt"

	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/urfave/cli/v2"
)

func fuelTypesCommand() *cli.Command {
	return &cli.Command{
		Name:   "fueltypes",
		Usage:  "List the fuel type codes the API accepts",
		Flags:  []cli.Flag{statesFlag()},
		Action: fuelTypesAction,
	}
}

func brandsCommand() *cli.Command {
	return &cli.Command{
		Name:   "brands",
		Usage:  "List the brand names the API accepts",
		Flags:  []cli.Flag{statesFlag()},
		Action: brandsAction,
	}
}

func statesFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "states",
		Usage: "Pipe separated states, e.g. NSW|TAS; implies the v2 endpoint",
	}
}

// referenceData fetches the lists of values, from the v2 endpoint when
// --states or --v2 is set.
func referenceData(c *cli.Context) (*api.ReferenceData, error) {
	ctx := c.Context
	logger := newLogger(c)

	storage, err := openStorage(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	if storage != nil {
		defer storage.Close()
	}

	client, _, err := newClient(ctx, c, storage, logger)
	if err != nil {
		return nil, err
	}

	var ref *api.ReferenceData
	if states := c.String("states"); states != "" || c.Bool("v2") {
		ref, err = client.ReferenceDataV2(ctx, states)
	} else {
		ref, err = client.ReferenceData(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching reference data: %w", err)
	}
	return ref, nil
}

func fuelTypesAction(c *cli.Context) error {
	ref, err := referenceData(c)
	if err != nil {
		return err
	}
	for _, item := range ref.FuelTypes.Items {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", item.Code, item.Name)
	}
	return nil
}

func brandsAction(c *cli.Context) error {
	ref, err := referenceData(c)
	if err != nil {
		return err
	}
	for _, item := range ref.Brands.Items {
		fmt.Fprintln(c.App.Writer, item.Name)
	}
	return nil
}
