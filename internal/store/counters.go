package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/nswfuel/internal/counter"
)

// LoadCallCounter implements counter.Store.
func (s *Storage) LoadCallCounter(ctx context.Context, key string) (counter.State, bool, error) {
	var state counter.State
	var lastReset string
	err := s.db.QueryRowContext(ctx,
		"SELECT date, count, last_reset FROM call_counters WHERE key = ?", key,
	).Scan(&state.Date, &state.Count, &lastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return counter.State{}, false, nil
	}
	if err != nil {
		return counter.State{}, false, fmt.Errorf("error loading call counter %s: %w", key, err)
	}

	state.LastReset, err = time.Parse(time.RFC3339Nano, lastReset)
	if err != nil {
		return counter.State{}, false, fmt.Errorf("error parsing last reset %q: %w", lastReset, err)
	}
	return state, true, nil
}

// SaveCallCounter implements counter.Store.
func (s *Storage) SaveCallCounter(ctx context.Context, key string, state counter.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_counters (key, date, count, last_reset) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET date = excluded.date, count = excluded.count, last_reset = excluded.last_reset
	`, key, state.Date, state.Count, state.LastReset.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("error saving call counter %s: %w", key, err)
	}
	return nil
}
