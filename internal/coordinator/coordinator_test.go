package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	nearby   map[string]*api.PricesPayload
	station  *api.PricesPayload
	err      error
	requests []api.NearbyRequest
	codes    []string
}

func (f *fakeSource) NearbyPrices(_ context.Context, r api.NearbyRequest) (*api.PricesPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.nearby[r.FuelType]; ok {
		return p, nil
	}
	return &api.PricesPayload{Stations: []api.Station{}, Prices: []api.Price{}}, nil
}

func (f *fakeSource) StationPrices(_ context.Context, code string) (*api.PricesPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return f.station, nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.codes)
}

type fakeLocations map[string]Location

func (f fakeLocations) Location(_ context.Context, id string) (Location, error) {
	loc, ok := f[id]
	if !ok {
		return Location{}, &MissingLocationError{EntityID: id, Reason: "entity not found"}
	}
	return loc, nil
}

func price(code, fuel, p string) api.Price {
	pr := api.Price{StationCode: api.StationCode(code), FuelType: fuel, LastUpdated: "01/01/2026 01:00:00 PM"}
	if p != "" {
		pr.Price = decimal.NewNullDecimal(decimal.RequireFromString(p))
	}
	return pr
}

func station(code, brand string) api.Station {
	return api.Station{Code: api.StationCode(code), Brand: brand, Name: brand + " Station",
		Location: api.StationLocation{Latitude: -33.87, Longitude: 151.21}}
}

func samplePayloads() map[string]*api.PricesPayload {
	return map[string]*api.PricesPayload{
		"E10": {
			Stations: []api.Station{station("1", "BrandX"), station("2", "BrandY")},
			Prices:   []api.Price{price("1", "E10", "170.1"), price("2", "E10", "172.0")},
		},
		"U91": {
			Stations: []api.Station{station("3", "BrandZ")},
			Prices:   []api.Price{price("3", "U91", "175.5"), price("3", "U91", "")},
		},
	}
}

func home() Location {
	return Location{Latitude: "-33.86", Longitude: "151.20", NamedLocation: "2000"}
}

func TestNearby_CheapestAcrossFuels(t *testing.T) {
	src := &fakeSource{nearby: samplePayloads()}
	n := NewNearby(NearbyConfig{
		Home:           home(),
		PreferredFuels: []string{"U91", "E10"},
		RadiusKm:       "5",
		SortBy:         "price",
		SortAscending:  true,
	}, src, nil, nil)

	results, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	best := results[HomeLocationID].Best
	require.NotNil(t, best)
	assert.Equal(t, "E10", best.FuelType)
	assert.Equal(t, "170.1", best.PriceString())
	assert.Equal(t, "BrandX", best.Brand)
	require.NotNil(t, best.Distance, "distance is filled from station coordinates")
	assert.InDelta(t, 1.4, *best.Distance, 0.2)

	require.Len(t, src.requests, 2)
	assert.Equal(t, "U91", src.requests[0].FuelType)
	assert.Equal(t, "E10", src.requests[1].FuelType)
	assert.Equal(t, "2000", src.requests[0].NamedLocation)
	assert.Equal(t, "true", src.requests[0].SortAscending)
}

func TestNearby_TieKeepsFirstFuel(t *testing.T) {
	payloads := samplePayloads()
	payloads["U91"].Prices = []api.Price{price("3", "U91", "170.10")}
	src := &fakeSource{nearby: payloads}
	n := NewNearby(NearbyConfig{Home: home(), PreferredFuels: []string{"U91", "E10"}}, src, nil, nil)

	results, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U91", results[HomeLocationID].Best.FuelType)
}

func TestNearby_DedupsIdenticalLocations(t *testing.T) {
	src := &fakeSource{nearby: samplePayloads()}
	locs := fakeLocations{
		"person.a": {Latitude: "-33.86", Longitude: "151.20"},
		"person.b": {Latitude: " -33.86", Longitude: "151.20 ", NamedLocation: "2001"},
	}
	n := NewNearby(NearbyConfig{
		Home:            home(),
		TrackedEntities: []string{"person.a", "person.b", "person.gone"},
		PreferredFuels:  []string{"E10", "U91"},
	}, src, locs, nil)

	results, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls(), "one call per fuel for the shared coordinates")
	require.Len(t, results, 3)
	assert.NotContains(t, results, "person.gone")
	for _, id := range []string{HomeLocationID, "person.a", "person.b"} {
		assert.Equal(t, id, results[id].LocationID)
		assert.Equal(t, results[HomeLocationID].Best, results[id].Best)
		assert.Equal(t, results[HomeLocationID].CheckedAt, results[id].CheckedAt)
	}
}

func TestNearby_DedupsNumericallyEqualCoordinates(t *testing.T) {
	src := &fakeSource{nearby: samplePayloads()}
	locs := fakeLocations{
		"person.a": {Latitude: "-33.86", Longitude: "151.2"},
		"person.b": {Latitude: "-33.860", Longitude: "+151.200"},
	}
	n := NewNearby(NearbyConfig{
		Home:            Location{Latitude: "-33.86", Longitude: "151.20", NamedLocation: "2000"},
		TrackedEntities: []string{"person.a", "person.b"},
		PreferredFuels:  []string{"E10", "U91"},
	}, src, locs, nil)

	results, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls(), "one call per fuel for the shared coordinates")
	require.Len(t, results, 3)
	assert.Equal(t, "151.20", src.requests[0].Longitude, "home is queried as configured")
	assert.Equal(t, results[HomeLocationID].Best, results["person.a"].Best)
}

func TestLocationKey(t *testing.T) {
	tests := []struct {
		a, b  Location
		equal bool
	}{
		{Location{Latitude: "-33.86", Longitude: "151.20"}, Location{Latitude: "-33.86", Longitude: "151.2"}, true},
		{Location{Latitude: " -33.86", Longitude: "151.2 "}, Location{Latitude: "-33.8600", Longitude: "151.2"}, true},
		{Location{Latitude: "-33.86", Longitude: "151.2"}, Location{Latitude: "-33.86", Longitude: "151.21"}, false},
		{Location{Latitude: "north", Longitude: "151.2"}, Location{Latitude: "north", Longitude: "151.2"}, true},
		{Location{Latitude: "north", Longitude: "151.2"}, Location{Latitude: "north", Longitude: "151.20"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.equal, tt.a.key() == tt.b.key(), "%+v vs %+v", tt.a, tt.b)
	}
}

func TestNearby_SeparateLocationsQueriedSeparately(t *testing.T) {
	src := &fakeSource{nearby: samplePayloads()}
	locs := fakeLocations{"person.a": {Latitude: "-32.92", Longitude: "151.75", NamedLocation: "2300"}}
	n := NewNearby(NearbyConfig{
		Home:            home(),
		TrackedEntities: []string{"person.a"},
		PreferredFuels:  []string{"E10"},
	}, src, locs, nil)

	_, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)
	require.Len(t, src.requests, 2)
	assert.Equal(t, "-32.92", src.requests[1].Latitude)
	assert.Equal(t, "2300", src.requests[1].NamedLocation)
}

func TestNearby_NoPrices(t *testing.T) {
	src := &fakeSource{}
	n := NewNearby(NearbyConfig{Home: home(), PreferredFuels: []string{"E10"}}, src, nil, nil)

	results, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results[HomeLocationID].Best)
}

func TestNearby_FailureKeepsPriorResult(t *testing.T) {
	src := &fakeSource{nearby: samplePayloads()}
	n := NewNearby(NearbyConfig{Home: home(), PreferredFuels: []string{"E10"}}, src, nil, nil)

	first, err := n.RefreshNearby(context.Background())
	require.NoError(t, err)

	src.err = &api.HTTPError{StatusCode: 500, Endpoint: "nearby", Body: "boom"}
	_, err = n.RefreshNearby(context.Background())
	require.Error(t, err)

	var failed *UpdateFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "nearby", failed.Coordinator)
	var httpErr *api.HTTPError
	assert.True(t, errors.As(err, &httpErr))

	data, ok := n.Data()
	require.True(t, ok)
	assert.Equal(t, first, data)
	assert.Equal(t, failed, n.LastError())
}

func TestCoordinator_CancelledRefreshNotPublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New("test", nil, func(context.Context) (int, error) {
		cancel()
		return 42, nil
	}, nil)

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := c.Data()
	assert.False(t, ok)
}

func TestCoordinator_SubscribeAndRestore(t *testing.T) {
	next := 1
	c := New("test", nil, func(context.Context) (int, error) {
		next++
		return next, nil
	}, nil)

	c.Restore(100)
	v, ok := c.Data()
	require.True(t, ok)
	assert.Equal(t, 100, v)

	var seen []int
	c.Subscribe(func(v int) { seen = append(seen, v) })
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	c.Restore(7)

	v, _ = c.Data()
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{2}, seen)
	assert.False(t, c.LastSuccess().IsZero())
}

func TestFavourite(t *testing.T) {
	src := &fakeSource{station: &api.PricesPayload{
		Stations: []api.Station{station("999", "Fav")},
		Prices: []api.Price{
			price("999", "DL", "150.0"),
			price("999", "P98", "199.9"),
			price("999", "E10", "168.3"),
			price("999", "U91", ""),
		},
	}}
	f := NewFavourite(FavouriteConfig{StationCode: " 999 ", PreferredFuels: []string{"E10", "U91", "P98"}}, src, nil)

	res, err := f.RefreshFavourite(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"999"}, src.codes)
	assert.Equal(t, "999", res.StationCode)
	require.Len(t, res.Prices, 3)
	assert.Equal(t, "E10", res.Prices[0].FuelType)
	assert.Equal(t, "P98", res.Prices[1].FuelType)
	assert.Equal(t, "-", res.Prices[2].PriceString())
	require.NotNil(t, res.Best)
	assert.Equal(t, "168.3", res.Best.PriceString())
}

func TestFavourite_NoStationConfigured(t *testing.T) {
	src := &fakeSource{}
	f := NewFavourite(FavouriteConfig{PreferredFuels: []string{"E10"}}, src, nil)

	res, err := f.RefreshFavourite(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Best)
	assert.Empty(t, res.Prices)
	assert.Equal(t, 0, src.calls())
}
