// Package schedule computes the next run time of periodic jobs and drives
// them with a timer loop.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Schedule returns the next run instant strictly after the given time.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every runs at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	return "every " + time.Duration(e).String()
}

// TimeOfDay is a wall-clock time in the schedule's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Midnight is 00:00 local time.
var Midnight = TimeOfDay{}

// Daily runs at one or more wall-clock times every day, in the location of
// the time passed to Next.
type Daily []TimeOfDay

// DailyAt builds a sorted Daily schedule.
func DailyAt(times ...TimeOfDay) Daily {
	d := append(Daily(nil), times...)
	sort.Slice(d, func(i, j int) bool {
		if d[i].Hour != d[j].Hour {
			return d[i].Hour < d[j].Hour
		}
		return d[i].Minute < d[j].Minute
	})
	return d
}

// ParseDaily parses a pipe separated list of HH:MM times, e.g. "06:00|18:30".
func ParseDaily(s string) (Daily, error) {
	var times []TimeOfDay
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := time.Parse("15:04", part)
		if err != nil {
			return nil, fmt.Errorf("invalid time of day %q: %w", part, err)
		}
		times = append(times, TimeOfDay{Hour: t.Hour(), Minute: t.Minute()})
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no times in daily schedule %q", s)
	}
	return DailyAt(times...), nil
}

func (d Daily) Next(after time.Time) time.Time {
	if len(d) == 0 {
		return time.Time{}
	}
	y, m, day := after.Date()
	loc := after.Location()
	for offset := 0; offset < 2; offset++ {
		for _, t := range d {
			candidate := time.Date(y, m, day+offset, t.Hour, t.Minute, 0, 0, loc)
			if candidate.After(after) {
				return candidate
			}
		}
	}
	return time.Time{}
}

func (d Daily) String() string {
	parts := make([]string, len(d))
	for i, t := range d {
		parts[i] = t.String()
	}
	return "daily at " + strings.Join(parts, "|")
}

// Run calls fn each time s fires until ctx is cancelled. A zero Next stops
// the loop.
func Run(ctx context.Context, s Schedule, fn func(context.Context)) {
	for {
		now := time.Now()
		next := s.Next(now)
		if next.IsZero() {
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}
