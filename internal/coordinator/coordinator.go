// Package coordinator runs the periodic refreshes that turn upstream price
// queries into published best-price results.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rubiojr/nswfuel/internal/schedule"
)

// UpdateFailedError wraps the error of a failed refresh cycle.
type UpdateFailedError struct {
	Coordinator string
	Err         error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("%s update failed: %v", e.Coordinator, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// UpdateFunc computes a complete new value for a coordinator.
type UpdateFunc[T any] func(ctx context.Context) (T, error)

// Coordinator owns one published value and the refresh that replaces it.
// A value is published only when an update completes successfully; failed
// or cancelled updates leave the previous value in place.
type Coordinator[T any] struct {
	name     string
	schedule schedule.Schedule
	update   UpdateFunc[T]
	log      *slog.Logger
	now      func() time.Time

	// refreshMu serializes refreshes so scheduled and manual runs never
	// interleave.
	refreshMu sync.Mutex

	mu          sync.RWMutex
	data        T
	hasData     bool
	lastErr     error
	lastSuccess time.Time
	listeners   []func(T)
}

// New creates a coordinator. A nil schedule disables periodic refreshes;
// Refresh can still be called on demand.
func New[T any](name string, s schedule.Schedule, update UpdateFunc[T], logger *slog.Logger) *Coordinator[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator[T]{
		name:     name,
		schedule: s,
		update:   update,
		log:      logger.With("coordinator", name),
		now:      time.Now,
	}
}

func (c *Coordinator[T]) Name() string {
	return c.name
}

// Refresh runs one update and publishes its result.
func (c *Coordinator[T]) Refresh(ctx context.Context) (T, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	var zero T
	data, err := c.update(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		failed := &UpdateFailedError{Coordinator: c.name, Err: err}
		c.mu.Lock()
		c.lastErr = failed
		c.mu.Unlock()
		c.log.Error("update failed", "error", err)
		return zero, failed
	}

	c.mu.Lock()
	c.data = data
	c.hasData = true
	c.lastErr = nil
	c.lastSuccess = c.now()
	listeners := append([]func(T){}, c.listeners...)
	c.mu.Unlock()

	c.log.Debug("update published")
	for _, fn := range listeners {
		fn(data)
	}
	return data, nil
}

// Data returns the last published value. Callers must not modify it.
func (c *Coordinator[T]) Data() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data, c.hasData
}

// Restore publishes a previously persisted value if nothing was published
// yet. Listeners are not notified.
func (c *Coordinator[T]) Restore(data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasData {
		return
	}
	c.data = data
	c.hasData = true
}

func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator[T]) LastSuccess() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// Subscribe registers fn to be called after every successful publish.
func (c *Coordinator[T]) Subscribe(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Run refreshes on the coordinator's schedule until ctx is cancelled.
func (c *Coordinator[T]) Run(ctx context.Context) {
	if c.schedule == nil {
		c.log.Info("no schedule configured, refreshing on demand only")
		<-ctx.Done()
		return
	}
	c.log.Info("starting scheduled refreshes", "schedule", fmt.Sprint(c.schedule))
	schedule.Run(ctx, c.schedule, func(ctx context.Context) {
		_, _ = c.Refresh(ctx)
	})
}
