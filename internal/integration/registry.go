package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rubiojr/nswfuel/internal/config"
)

// RefreshFailure is one coordinator that failed a manual refresh.
type RefreshFailure struct {
	EntryID     string
	Coordinator string
	Err         error
}

// RefreshError summarises a manual refresh in which at least one
// coordinator failed.
type RefreshError struct {
	Failures []RefreshFailure
}

func (e *RefreshError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("entry_id=%s coordinator=%s", f.EntryID, f.Coordinator)
	}
	return "manual refresh failed for " + strings.Join(parts, ", ")
}

func (e *RefreshError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

type running struct {
	inst   *Instance
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry holds the running entries of the process.
type Registry struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]*running
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{opts: opts, log: opts.Logger, entries: map[string]*running{}}
}

// Setup creates an instance for entry and starts its loops. The loops stop
// when ctx is cancelled or the entry is unloaded.
func (r *Registry) Setup(ctx context.Context, entry config.Entry) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.ID]; exists {
		return nil, fmt.Errorf("entry %s is already set up", entry.ID)
	}

	inst, err := NewInstance(ctx, entry, r.opts)
	if err != nil {
		return nil, fmt.Errorf("error setting up entry %s: %w", entry.ID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rn := &running{inst: inst, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(rn.done)
		inst.Run(runCtx)
	}()

	r.entries[entry.ID] = rn
	r.log.Info("entry set up", "entry_id", entry.ID, "name", entry.Name)
	return inst, nil
}

// Unload stops an entry and waits for its loops to return. A refresh in
// flight is cancelled and never publishes.
func (r *Registry) Unload(entryID string) error {
	r.mu.Lock()
	rn, ok := r.entries[entryID]
	if ok {
		delete(r.entries, entryID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("entry %s is not set up", entryID)
	}
	rn.cancel()
	<-rn.done
	r.log.Info("entry unloaded", "entry_id", entryID)
	return nil
}

// Close unloads every entry.
func (r *Registry) Close() {
	for _, inst := range r.List() {
		_ = r.Unload(inst.ID())
	}
}

func (r *Registry) Get(entryID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.entries[entryID]
	if !ok {
		return nil, false
	}
	return rn.inst, true
}

// List returns the running instances ordered by id.
func (r *Registry) List() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, 0, len(r.entries))
	for _, rn := range r.entries {
		out = append(out, rn.inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RefreshAll refreshes every coordinator of every entry concurrently and
// waits for all of them. Successful refreshes publish regardless of
// failures elsewhere; failures are returned as a *RefreshError.
func (r *Registry) RefreshAll(ctx context.Context) error {
	type job struct {
		entryID     string
		coordinator string
		refresh     func(context.Context) error
	}

	var jobs []job
	for _, inst := range r.List() {
		jobs = append(jobs,
			job{inst.ID(), ConcernNearby, func(ctx context.Context) error {
				_, err := inst.RefreshNearby(ctx)
				return err
			}},
			job{inst.ID(), ConcernFavourite, func(ctx context.Context) error {
				_, err := inst.RefreshFavourite(ctx)
				return err
			}},
		)
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = j.refresh(ctx)
		}()
	}
	wg.Wait()

	var failures []RefreshFailure
	for i, err := range errs {
		if err == nil {
			continue
		}
		r.log.Error(fmt.Sprintf("Manual refresh failed for entry_id=%s coordinator=%s", jobs[i].entryID, jobs[i].coordinator), "error", err)
		failures = append(failures, RefreshFailure{EntryID: jobs[i].entryID, Coordinator: jobs[i].coordinator, Err: err})
	}
	if len(failures) > 0 {
		return &RefreshError{Failures: failures}
	}
	return nil
}
