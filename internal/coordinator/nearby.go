package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/nswfuel/internal/schedule"
	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/tkrajina/gpxgo/gpx"
)

// HomeLocationID identifies the configured home location in nearby results.
const HomeLocationID = "home"

// PriceSource is the subset of the API client the coordinators need.
type PriceSource interface {
	NearbyPrices(ctx context.Context, r api.NearbyRequest) (*api.PricesPayload, error)
	StationPrices(ctx context.Context, stationCode string) (*api.PricesPayload, error)
}

// Location is one point to search around. NamedLocation is usually a postal
// code; the API wants it alongside the coordinates.
type Location struct {
	ID            string `json:"id"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	NamedLocation string `json:"named_location,omitempty"`
}

// key identifies the coordinates by value, so "151.20" and "151.2" share a
// query. Text that does not parse is compared as written.
func (l Location) key() string {
	lat, lon := strings.TrimSpace(l.Latitude), strings.TrimSpace(l.Longitude)
	latF, errLat := strconv.ParseFloat(lat, 64)
	lonF, errLon := strconv.ParseFloat(lon, 64)
	if errLat != nil || errLon != nil {
		return lat + "|" + lon
	}
	return strconv.FormatFloat(latF, 'f', -1, 64) + "|" + strconv.FormatFloat(lonF, 'f', -1, 64)
}

// MissingLocationError reports a tracked entity that does not exist or has
// no usable coordinates.
type MissingLocationError struct {
	EntityID string
	Reason   string
}

func (e *MissingLocationError) Error() string {
	return fmt.Sprintf("no location data for %s: %s", e.EntityID, e.Reason)
}

// LocationProvider resolves a tracked entity id to its current location.
type LocationProvider interface {
	Location(ctx context.Context, entityID string) (Location, error)
}

// BestPriceResult is the cheapest record found for one location.
type BestPriceResult struct {
	LocationID string            `json:"location_id"`
	Best       *api.JoinedRecord `json:"best"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// NearbyConfig describes what a nearby refresh searches for.
type NearbyConfig struct {
	Home            Location
	TrackedEntities []string
	PreferredFuels  []string
	Brands          []string
	RadiusKm        string
	SortBy          string
	SortAscending   bool
	Schedule        schedule.Schedule
}

// NearbyResults maps location ids to their best price.
type NearbyResults map[string]BestPriceResult

// Nearby finds the cheapest preferred fuel around home and every tracked
// entity.
type Nearby struct {
	*Coordinator[NearbyResults]
	cfg       NearbyConfig
	source    PriceSource
	locations LocationProvider
	log       *slog.Logger
	now       func() time.Time
}

// NewNearby creates the nearby coordinator. locations may be nil when no
// entities are tracked.
func NewNearby(cfg NearbyConfig, source PriceSource, locations LocationProvider, logger *slog.Logger) *Nearby {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Home.ID == "" {
		cfg.Home.ID = HomeLocationID
	}
	n := &Nearby{
		cfg:       cfg,
		source:    source,
		locations: locations,
		log:       logger,
		now:       time.Now,
	}
	n.Coordinator = New("nearby", cfg.Schedule, n.update, logger)
	return n
}

// RefreshNearby runs a nearby refresh immediately.
func (n *Nearby) RefreshNearby(ctx context.Context) (NearbyResults, error) {
	return n.Refresh(ctx)
}

// queries builds this cycle's locations: home first, then tracked entities
// in configured order. Entities without location data are skipped.
func (n *Nearby) queries(ctx context.Context) []Location {
	locs := []Location{n.cfg.Home}
	for _, id := range n.cfg.TrackedEntities {
		if n.locations == nil {
			n.log.Warn("no location provider, skipping tracked entity", "entity_id", id)
			continue
		}
		loc, err := n.locations.Location(ctx, id)
		if err != nil {
			var missing *MissingLocationError
			if errors.As(err, &missing) {
				n.log.Warn("skipping tracked entity", "entity_id", id, "reason", missing.Reason)
			} else {
				n.log.Error("error resolving tracked entity", "entity_id", id, "error", err)
			}
			continue
		}
		loc.ID = id
		if loc.NamedLocation == "" {
			loc.NamedLocation = n.cfg.Home.NamedLocation
		}
		locs = append(locs, loc)
	}
	return locs
}

func (n *Nearby) update(ctx context.Context) (NearbyResults, error) {
	checkedAt := n.now().UTC()

	var order []string
	groups := map[string][]Location{}
	for _, loc := range n.queries(ctx) {
		k := loc.key()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], loc)
	}

	results := make(NearbyResults, len(groups))
	for _, k := range order {
		shared := groups[k]
		best, err := n.cheapestAt(ctx, shared[0])
		if err != nil {
			return nil, fmt.Errorf("nearby request failed for %s: %w", shared[0].ID, err)
		}
		if best == nil {
			n.log.Warn("no prices found", "location_id", shared[0].ID)
		}
		for _, loc := range shared {
			results[loc.ID] = BestPriceResult{LocationID: loc.ID, Best: best, CheckedAt: checkedAt}
		}
	}
	return results, nil
}

// cheapestAt queries each preferred fuel in order and keeps the lowest
// price seen. Ties keep the earlier fuel's record.
func (n *Nearby) cheapestAt(ctx context.Context, loc Location) (*api.JoinedRecord, error) {
	var best *api.JoinedRecord
	for _, fuel := range n.cfg.PreferredFuels {
		payload, err := n.source.NearbyPrices(ctx, api.NearbyRequest{
			FuelType:      fuel,
			Brands:        n.cfg.Brands,
			NamedLocation: loc.NamedLocation,
			Latitude:      loc.Latitude,
			Longitude:     loc.Longitude,
			RadiusKm:      n.cfg.RadiusKm,
			SortBy:        n.cfg.SortBy,
			SortAscending: strconv.FormatBool(n.cfg.SortAscending),
		})
		if err != nil {
			return nil, fmt.Errorf("fuel %s: %w", fuel, err)
		}

		cheapest, ok := api.PickCheapest(api.JoinStationPrices(payload))
		if !ok {
			n.log.Debug("no priced records", "location_id", loc.ID, "fuel", fuel)
			continue
		}
		if best == nil || cheapest.Price.Decimal.LessThan(best.Price.Decimal) {
			fillDistance(&cheapest, loc)
			best = &cheapest
		}
	}
	return best, nil
}

// fillDistance computes the distance in kilometres from loc when the API
// left it out.
func fillDistance(rec *api.JoinedRecord, loc Location) {
	if rec.Distance != nil || rec.Location == nil {
		return
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(loc.Latitude), 64)
	if err != nil {
		return
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(loc.Longitude), 64)
	if err != nil {
		return
	}
	meters := gpx.Distance2D(lat, lon, rec.Location.Latitude, rec.Location.Longitude, true)
	km := meters / 1000
	rec.Distance = &km
}
