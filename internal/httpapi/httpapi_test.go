package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/rubiojr/nswfuel/internal/fueltest"
	"github.com/rubiojr/nswfuel/internal/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, upstream *fueltest.Server) (http.Handler, *integration.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := integration.NewRegistry(integration.Options{})
	t.Cleanup(func() {
		reg.Close()
		cancel()
	})

	_, err := reg.Setup(ctx, config.Entry{
		ID:                   "home",
		Name:                 "NSW Fuel",
		BaseURL:              upstream.URL,
		APIKey:               "key",
		APISecret:            "secret",
		HomeLat:              "-33.86",
		HomeLon:              "151.20",
		HomeNamedLocation:    "2000",
		RadiusKm:             "10",
		PreferredFuels:       "E10|U91",
		FavouriteStationCode: "999",
	})
	require.NoError(t, err)
	return NewRouter(reg, Options{RateLimit: 100}), reg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, fueltest.NewServer(t))
	rr := do(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRefreshThenRead(t *testing.T) {
	h, _ := newTestServer(t, fueltest.NewServer(t))

	rr := do(t, h, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/api/v1/entries/home/nearby")
	require.Equal(t, http.StatusOK, rr.Code)
	var nearby struct {
		LastSuccess string `json:"last_success"`
		Results     map[string]struct {
			LocationID string `json:"location_id"`
			Best       struct {
				FuelType string `json:"fueltype"`
				Price    string `json:"price"`
				Brand    string `json:"brand"`
			} `json:"best"`
		} `json:"results"`
	}
	decode(t, rr, &nearby)
	assert.NotEmpty(t, nearby.LastSuccess)
	assert.Equal(t, "E10", nearby.Results["home"].Best.FuelType)
	assert.Equal(t, "170.1", nearby.Results["home"].Best.Price)
	assert.Equal(t, "BrandX", nearby.Results["home"].Best.Brand)

	rr = do(t, h, http.MethodGet, "/api/v1/entries/home/favourite")
	require.Equal(t, http.StatusOK, rr.Code)
	var fav struct {
		Result struct {
			StationCode string `json:"station_code"`
			Best        struct {
				Price string `json:"price"`
			} `json:"best"`
		} `json:"result"`
	}
	decode(t, rr, &fav)
	assert.Equal(t, "999", fav.Result.StationCode)
	assert.Equal(t, "168.3", fav.Result.Best.Price)

	rr = do(t, h, http.MethodGet, "/api/v1/entries/home/calls")
	require.Equal(t, http.StatusOK, rr.Code)
	var calls struct {
		Count int    `json:"count"`
		Date  string `json:"date"`
	}
	decode(t, rr, &calls)
	assert.GreaterOrEqual(t, calls.Count, 4)
	assert.NotEmpty(t, calls.Date)

	rr = do(t, h, http.MethodGet, "/api/v1/entries")
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	decode(t, rr, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "home", entries[0].ID)
}

func TestRefreshFailure(t *testing.T) {
	upstream := fueltest.NewServer(t)
	upstream.SetStatus(http.StatusInternalServerError)
	h, _ := newTestServer(t, upstream)

	rr := do(t, h, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var body struct {
		Error    string `json:"error"`
		Failures []struct {
			EntryID     string `json:"entry_id"`
			Coordinator string `json:"coordinator"`
		} `json:"failures"`
	}
	decode(t, rr, &body)
	assert.Contains(t, body.Error, "entry_id=home")
	require.Len(t, body.Failures, 2)
	assert.Equal(t, "nearby", body.Failures[0].Coordinator)
	assert.Equal(t, "favourite", body.Failures[1].Coordinator)

	rr = do(t, h, http.MethodGet, "/api/v1/entries/home/nearby")
	require.Equal(t, http.StatusOK, rr.Code)
	var nearby struct {
		LastError string         `json:"last_error"`
		Results   map[string]any `json:"results"`
	}
	decode(t, rr, &nearby)
	assert.NotEmpty(t, nearby.LastError)
	assert.Empty(t, nearby.Results)
}

func TestUnknownEntry(t *testing.T) {
	h, _ := newTestServer(t, fueltest.NewServer(t))
	for _, path := range []string{"/api/v1/entries/nope/nearby", "/api/v1/entries/nope/favourite", "/api/v1/entries/nope/calls"} {
		rr := do(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}
