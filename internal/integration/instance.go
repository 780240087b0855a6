// Package integration runs configured entries: one API client, call counter
// and pair of coordinators per entry, with their results persisted.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/rubiojr/nswfuel/internal/coordinator"
	"github.com/rubiojr/nswfuel/internal/counter"
	"github.com/rubiojr/nswfuel/internal/notify"
	"github.com/rubiojr/nswfuel/pkg/api"
)

const (
	ConcernNearby    = "nearby"
	ConcernFavourite = "favourite"

	persistTimeout = 10 * time.Second
)

// Store is the persistence an instance needs. *store.Storage implements it.
type Store interface {
	counter.Store
	SaveBestPrices(ctx context.Context, entryID, concern string, v any) error
	LoadBestPrices(ctx context.Context, entryID, concern string, dst any) (bool, error)
	RecordPrices(ctx context.Context, checkedAt time.Time, records []api.JoinedRecord) error
}

// Options are shared by every instance of a registry.
type Options struct {
	// Store is optional; without it nothing survives a restart.
	Store      Store
	Locations  coordinator.LocationProvider
	HTTPClient *http.Client
	// Notify enables price drop notifications when set.
	Notify notify.SendFunc
	Logger *slog.Logger
}

// Instance is one running entry.
type Instance struct {
	entry     config.Entry
	client    *api.Client
	counter   *counter.Counter
	nearby    *coordinator.Nearby
	favourite *coordinator.Favourite
	store     Store
	log       *slog.Logger
}

// NewInstance wires an entry and restores its persisted state. Nothing runs
// until Run is called.
func NewInstance(ctx context.Context, entry config.Entry, opts Options) (*Instance, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("entry_id", entry.ID)

	counterOpts := []counter.Option{}
	if opts.Store != nil {
		counterOpts = append(counterOpts, counter.WithStore(opts.Store, entry.ID))
	}
	calls, err := counter.New(ctx, logger, counterOpts...)
	if err != nil {
		return nil, err
	}

	clientOpts := []api.Option{
		api.WithCallCounter(calls.Record),
		api.WithLogger(logger),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	if entry.Authorization != "" {
		clientOpts = append(clientOpts, api.WithAuthorization(entry.Authorization))
	}
	client := api.NewClient(entry.BaseURL, entry.APIKey, entry.APISecret, clientOpts...)

	nearbySchedule, err := config.ParseSchedule(entry.NearbySchedule)
	if err != nil {
		return nil, fmt.Errorf("error parsing nearby schedule: %w", err)
	}
	favouriteSchedule, err := config.ParseSchedule(entry.FavouriteSchedule)
	if err != nil {
		return nil, fmt.Errorf("error parsing favourite schedule: %w", err)
	}

	inst := &Instance{
		entry:   entry,
		client:  client,
		counter: calls,
		store:   opts.Store,
		log:     logger,
	}
	inst.nearby = coordinator.NewNearby(coordinator.NearbyConfig{
		Home: coordinator.Location{
			ID:            coordinator.HomeLocationID,
			Latitude:      entry.HomeLat,
			Longitude:     entry.HomeLon,
			NamedLocation: entry.HomeNamedLocation,
		},
		TrackedEntities: entry.PersonEntityList(),
		PreferredFuels:  entry.PreferredFuelList(),
		Brands:          entry.BrandList(),
		RadiusKm:        wholeKm(entry.RadiusKm),
		SortBy:          "price",
		SortAscending:   true,
		Schedule:        nearbySchedule,
	}, client, opts.Locations, logger)
	inst.favourite = coordinator.NewFavourite(coordinator.FavouriteConfig{
		StationCode:    entry.FavouriteStationCode,
		PreferredFuels: entry.PreferredFuelList(),
		Schedule:       favouriteSchedule,
	}, client, logger)

	if err := inst.restore(ctx); err != nil {
		return nil, err
	}

	inst.nearby.Subscribe(inst.persistNearby)
	inst.favourite.Subscribe(inst.persistFavourite)
	if opts.Notify != nil {
		drops := notify.NewPriceDrops(entry.Name, opts.Notify, logger)
		if data, ok := inst.nearby.Data(); ok {
			drops.Check(data)
		}
		inst.nearby.Subscribe(drops.Check)
	}
	return inst, nil
}

func (i *Instance) restore(ctx context.Context) error {
	if i.store == nil {
		return nil
	}

	var nearby coordinator.NearbyResults
	found, err := i.store.LoadBestPrices(ctx, i.entry.ID, ConcernNearby, &nearby)
	if err != nil {
		return fmt.Errorf("error restoring nearby results: %w", err)
	}
	if found {
		i.nearby.Restore(nearby)
	}

	var favourite coordinator.FavouriteResult
	found, err = i.store.LoadBestPrices(ctx, i.entry.ID, ConcernFavourite, &favourite)
	if err != nil {
		return fmt.Errorf("error restoring favourite results: %w", err)
	}
	if found {
		i.favourite.Restore(favourite)
	}
	return nil
}

func (i *Instance) persistNearby(results coordinator.NearbyResults) {
	if i.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := i.store.SaveBestPrices(ctx, i.entry.ID, ConcernNearby, results); err != nil {
		i.log.Error("failed to persist nearby results", "error", err)
	}

	seen := map[*api.JoinedRecord]bool{}
	var records []api.JoinedRecord
	var checkedAt time.Time
	for _, res := range results {
		checkedAt = res.CheckedAt
		if res.Best != nil && !seen[res.Best] {
			seen[res.Best] = true
			records = append(records, *res.Best)
		}
	}
	if err := i.store.RecordPrices(ctx, checkedAt, records); err != nil {
		i.log.Error("failed to record price history", "error", err)
	}
}

func (i *Instance) persistFavourite(result coordinator.FavouriteResult) {
	if i.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := i.store.SaveBestPrices(ctx, i.entry.ID, ConcernFavourite, result); err != nil {
		i.log.Error("failed to persist favourite results", "error", err)
	}
	if err := i.store.RecordPrices(ctx, result.CheckedAt, result.Prices); err != nil {
		i.log.Error("failed to record price history", "error", err)
	}
}

func (i *Instance) ID() string {
	return i.entry.ID
}

func (i *Instance) Name() string {
	return i.entry.Name
}

// RefreshNearby refreshes the cheapest prices around every tracked location.
func (i *Instance) RefreshNearby(ctx context.Context) (coordinator.NearbyResults, error) {
	return i.nearby.RefreshNearby(ctx)
}

// RefreshFavourite refreshes the favourite station's prices.
func (i *Instance) RefreshFavourite(ctx context.Context) (coordinator.FavouriteResult, error) {
	return i.favourite.RefreshFavourite(ctx)
}

// CurrentCallCount returns today's upstream call count.
func (i *Instance) CurrentCallCount() counter.State {
	return i.counter.Current()
}

func (i *Instance) Nearby() *coordinator.Nearby {
	return i.nearby
}

func (i *Instance) Favourite() *coordinator.Favourite {
	return i.favourite
}

// Run does a first refresh of both coordinators and then keeps them and
// the counter's midnight reset on schedule until ctx is cancelled.
func (i *Instance) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		func(ctx context.Context) {
			_, _ = i.nearby.Refresh(ctx)
			i.nearby.Run(ctx)
		},
		func(ctx context.Context) {
			_, _ = i.favourite.Refresh(ctx)
			i.favourite.Run(ctx)
		},
		i.counter.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}
	wg.Wait()
}

// wholeKm truncates a radius to whole kilometres, the form the nearby
// endpoint expects. Values that do not parse are sent unchanged.
func wholeKm(radius string) string {
	radius = strings.TrimSpace(radius)
	km, err := strconv.ParseFloat(radius, 64)
	if err != nil {
		return radius
	}
	return strconv.Itoa(int(km))
}
