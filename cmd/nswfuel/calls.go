package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func callsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calls",
		Usage: "Show today's API call count",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "entry",
				Usage: "Entry id, or \"cli\" for calls made by this command line",
				Value: cliCounterKey,
			},
		},
		Action: callsAction,
	}
}

func callsAction(c *cli.Context) error {
	storage, err := requireStorage(c.Context, c)
	if err != nil {
		return err
	}
	defer storage.Close()

	key := c.String("entry")
	state, found, err := storage.LoadCallCounter(c.Context, key)
	if err != nil {
		return err
	}

	today := time.Now().Format("2006-01-02")
	count := 0
	if found && state.Date == today {
		count = state.Count
	}
	fmt.Fprintf(c.App.Writer, "API calls for %s on %s: %d\n", key, today, count)
	return nil
}
