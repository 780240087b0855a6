package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete old price history and reclaim space",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days",
				Usage: "Keep this many days of history",
				Value: 90,
			},
		},
		Action: pruneAction,
	}
}

func pruneAction(c *cli.Context) error {
	ctx := c.Context
	days := c.Int("days")
	if days < 1 {
		return fmt.Errorf("days must be at least 1, got %d", days)
	}

	storage, err := requireStorage(ctx, c)
	if err != nil {
		return err
	}
	defer storage.Close()

	deleted, err := storage.DeleteOldRecords(ctx, days)
	if err != nil {
		return err
	}
	if err := storage.VacuumDatabase(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d price records older than %d days.\n", deleted, days)
	return nil
}
