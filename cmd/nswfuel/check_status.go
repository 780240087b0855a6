package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/nswfuel/internal/store"
	"github.com/urfave/cli/v2"
)

const dayLayout = "2006-01-02"

func checkStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-status",
		Usage: "Report days without recorded prices and stations that dropped out",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "start",
				Usage: "Start date (YYYY-MM-DD), defaults to the first recorded day",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "End date (YYYY-MM-DD), defaults to today",
			},
			&cli.StringFlag{
				Name:  "fuel",
				Usage: "Only check this fuel type",
			},
		},
		Action: checkStatusAction,
	}
}

func parseDay(c *cli.Context, name string, fallback time.Time) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.Parse(dayLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date: %w", name, err)
	}
	return d, nil
}

func checkStatusAction(c *cli.Context) error {
	ctx := c.Context
	storage, err := requireStorage(ctx, c)
	if err != nil {
		return err
	}
	defer storage.Close()

	byDate, err := storage.ObservationsByDate(ctx, c.String("fuel"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	if len(byDate) == 0 {
		fmt.Fprintln(w, "No prices recorded in database.")
		return nil
	}

	first := time.Time{}
	for day := range byDate {
		d, err := time.Parse(dayLayout, day)
		if err == nil && (first.IsZero() || d.Before(first)) {
			first = d
		}
	}
	y, m, d := time.Now().Date()
	startDate, err := parseDay(c, "start", first)
	if err != nil {
		return err
	}
	endDate, err := parseDay(c, "end", time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Checking range: %s to %s\n", startDate.Format(dayLayout), endDate.Format(dayLayout))

	// A recorded day is partial when pairs seen on the previous recorded
	// day are absent.
	var previous []store.Observation
	problems := 0
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		ds := day.Format(dayLayout)
		seen, ok := byDate[ds]
		if !ok {
			fmt.Fprintf(w, "%s no prices recorded\n", ds)
			problems++
			continue
		}
		if missing := missingObservations(previous, seen); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, o := range missing {
				names[i] = o.String()
			}
			fmt.Fprintf(w, "%s missing %d of %d: %s\n", ds, len(missing), len(previous), strings.Join(names, ", "))
			problems++
		}
		previous = seen
	}

	if problems == 0 {
		fmt.Fprintln(w, "No gaps in the given range.")
	}
	return nil
}

// missingObservations returns the pairs of prev that are not in cur.
func missingObservations(prev, cur []store.Observation) []store.Observation {
	have := make(map[store.Observation]struct{}, len(cur))
	for _, o := range cur {
		have[o] = struct{}{}
	}
	var missing []store.Observation
	for _, o := range prev {
		if _, ok := have[o]; !ok {
			missing = append(missing, o)
		}
	}
	return missing
}
