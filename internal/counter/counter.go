// Package counter keeps a per-day count of upstream API calls. The count
// resets on the first increment of a new local day and at local midnight.
package counter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rubiojr/nswfuel/internal/schedule"
)

const dateLayout = "2006-01-02"

// State is the persisted counter value.
type State struct {
	Date      string    `json:"date"`
	Count     int       `json:"count"`
	LastReset time.Time `json:"last_reset"`
}

// Store persists counter state across restarts.
type Store interface {
	LoadCallCounter(ctx context.Context, key string) (State, bool, error)
	SaveCallCounter(ctx context.Context, key string, state State) error
}

// Counter is safe for concurrent use. All mutations go through mu, so
// increments from concurrent refreshes are never lost.
type Counter struct {
	mu    sync.Mutex
	key   string
	state State
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

// WithStore persists state under key.
func WithStore(store Store, key string) Option {
	return func(c *Counter) {
		c.store = store
		c.key = key
	}
}

// New creates a counter, restoring persisted state when a store is set. A
// restored state from a previous day is reset immediately.
func New(ctx context.Context, logger *slog.Logger, opts ...Option) (*Counter, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Counter{now: time.Now, log: logger}
	for _, opt := range opts {
		opt(c)
	}

	now := c.now()
	c.state = State{Date: now.Format(dateLayout), LastReset: now}

	if c.store != nil {
		restored, found, err := c.store.LoadCallCounter(ctx, c.key)
		if err != nil {
			return nil, fmt.Errorf("error restoring call counter: %w", err)
		}
		if found {
			c.state = restored
			c.log.Debug("call counter restored", "key", c.key, "date", restored.Date, "count", restored.Count)
		}
	}

	if err := c.ResetIfNewDay(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// resetLocked must be called with mu held.
func (c *Counter) resetLocked(now time.Time) bool {
	today := now.Format(dateLayout)
	if c.state.Date == today {
		return false
	}
	c.log.Info("resetting daily API call counter", "previous_date", c.state.Date, "previous_count", c.state.Count)
	c.state = State{Date: today, Count: 0, LastReset: now}
	return true
}

func (c *Counter) saveLocked(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveCallCounter(ctx, c.key, c.state); err != nil {
		return fmt.Errorf("error saving call counter: %w", err)
	}
	return nil
}

// Increment adds n to today's count.
func (c *Counter) Increment(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked(c.now())
	c.state.Count += n
	return c.saveLocked(ctx)
}

// Record is Increment for use as an API client hook. Persistence errors are
// logged; the in-memory count is already updated.
func (c *Counter) Record(n int) {
	if err := c.Increment(context.Background(), n); err != nil {
		c.log.Error("failed to persist call counter", "error", err)
	}
}

// ResetIfNewDay resets the count when the local date has changed since the
// last reset.
func (c *Counter) ResetIfNewDay(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resetLocked(c.now()) {
		return nil
	}
	return c.saveLocked(ctx)
}

// Current returns a snapshot of the counter.
func (c *Counter) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run resets the counter at every local midnight until ctx is cancelled.
func (c *Counter) Run(ctx context.Context) {
	schedule.Run(ctx, schedule.DailyAt(schedule.Midnight), func(ctx context.Context) {
		if err := c.ResetIfNewDay(ctx); err != nil {
			c.log.Error("midnight call counter reset failed", "error", err)
		}
	})
}
