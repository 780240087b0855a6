package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFuelCheck struct {
	mu          sync.Mutex
	tokenHits   int
	requests    []*http.Request
	bodies      []string
	expiresIn   string
	nearbyBody  string
	stationBody string
	pricesBody  string
	refBody     string
	status      int
}

func (f *fakeFuelCheck) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeFuelCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == tokenPath {
		f.tokenHits++
		w.Header().Set("Content-Type", "application/json")
		if f.expiresIn == "" {
			_, _ = io.WriteString(w, `{"access_token":"tok-`+string(rune('0'+f.tokenHits))+`"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok-`+string(rune('0'+f.tokenHits))+`","expires_in":`+f.expiresIn+`}`)
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"errorDetails":"boom"}`)
		return
	}

	switch {
	case r.URL.Path == nearbyPath, r.URL.Path == nearbyV2Path:
		_, _ = io.WriteString(w, f.nearbyBody)
	case r.URL.Path == pricesPath, r.URL.Path == pricesV2Path:
		_, _ = io.WriteString(w, f.pricesBody)
	case r.URL.Path == refDataPath, r.URL.Path == refDataV2Path:
		_, _ = io.WriteString(w, f.refBody)
	case strings.HasPrefix(r.URL.Path, stationPath):
		_, _ = io.WriteString(w, f.stationBody)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeFuelCheck, opts ...Option) (*Client, *int64) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	var calls int64
	opts = append([]Option{WithCallCounter(func(n int) { atomic.AddInt64(&calls, int64(n)) })}, opts...)
	return NewClient(srv.URL+"/", "key", "secret", opts...), &calls
}

const sampleNearby = `{
	"stations": [
		{"code": "100", "brand": "BrandX", "name": "X Station", "address": "1 Main St",
		 "location": {"distance": 1.2, "latitude": -32.9, "longitude": 151.7}}
	],
	"prices": [
		{"stationcode": "100", "fueltype": "E10", "price": 170.1, "lastupdated": "01/01/2026 01:00:00 PM"},
		{"stationcode": 200, "fueltype": "E10", "price": 168.9, "lastupdated": "01/01/2026 02:00:00 PM"}
	]
}`

func TestClient_NearbyPrices(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", nearbyBody: sampleNearby}
	client, calls := newTestClient(t, f)

	payload, err := client.NearbyPrices(context.Background(), NearbyRequest{
		FuelType:      "E10",
		NamedLocation: "2287",
		Latitude:      "-32.8928",
		Longitude:     "151.6620",
		RadiusKm:      "10",
		SortBy:        "price",
		SortAscending: "true",
	})
	if err != nil {
		t.Fatalf("NearbyPrices() failed: %v", err)
	}

	if len(payload.Stations) != 1 || len(payload.Prices) != 2 {
		t.Fatalf("unexpected payload sizes: %d stations, %d prices", len(payload.Stations), len(payload.Prices))
	}
	if payload.Prices[1].StationCode != "200" {
		t.Errorf("numeric station code decoded as %q", payload.Prices[1].StationCode)
	}

	if got := atomic.LoadInt64(calls); got != 2 {
		t.Errorf("expected 2 counted calls (token + nearby), got %d", got)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(f.bodies[0]), &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if brands, ok := sent["brand"].([]any); !ok || len(brands) != 0 {
		t.Errorf("expected empty brand list in body, got %v", sent["brand"])
	}
	if sent["radius"] != "10" || sent["fueltype"] != "E10" || sent["namedlocation"] != "2287" {
		t.Errorf("unexpected request body: %v", sent)
	}
}

func TestClient_Headers(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", stationBody: `{"prices":[]}`}
	fixed := time.Date(2026, 2, 8, 15, 4, 5, 0, time.FixedZone("AEDT", 11*3600))
	client, _ := newTestClient(t, f, WithClock(func() time.Time { return fixed }))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.StationPrices(ctx, "1234"); err != nil {
			t.Fatalf("StationPrices() failed: %v", err)
		}
	}

	uuidRe := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	seen := map[string]bool{}
	for _, r := range f.requests {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "key" {
			t.Errorf("apikey = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.Header.Get("requesttimestamp"); got != "08/02/2026 04:04:05 AM" {
			t.Errorf("requesttimestamp = %q", got)
		}
		id := r.Header.Get("transactionid")
		if !uuidRe.MatchString(id) {
			t.Errorf("transactionid %q is not a v4 UUID", id)
		}
		seen[id] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected a fresh transaction id per call, got %v", seen)
	}
	if f.tokenHits != 1 {
		t.Errorf("expected the token to be fetched once, got %d", f.tokenHits)
	}
}

func TestClient_EmptyBodyIsNormalized(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600"}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	nearby, err := client.NearbyPrices(ctx, NearbyRequest{FuelType: "U91"})
	if err != nil {
		t.Fatalf("NearbyPrices() failed: %v", err)
	}
	if nearby.Stations == nil || nearby.Prices == nil || len(nearby.Stations) != 0 || len(nearby.Prices) != 0 {
		t.Errorf("expected empty non-nil slices, got %#v", nearby)
	}

	station, err := client.StationPrices(ctx, "1")
	if err != nil {
		t.Fatalf("StationPrices() failed: %v", err)
	}
	if station.Prices == nil || len(station.Prices) != 0 {
		t.Errorf("expected empty prices, got %#v", station.Prices)
	}
}

func TestClient_HTTPError(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", status: http.StatusServiceUnavailable}
	client, calls := newTestClient(t, f)

	_, err := client.StationPrices(context.Background(), "1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Body, "boom") {
		t.Errorf("body not preserved: %q", httpErr.Body)
	}
	if got := atomic.LoadInt64(calls); got != 2 {
		t.Errorf("failed calls are still counted, expected 2 got %d", got)
	}
}

func TestClient_UnauthorizedDropsToken(t *testing.T) {
	f := &fakeFuelCheck{stationBody: `{"prices":[]}`}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	// Without expires_in the token would otherwise be kept forever.
	if _, err := client.StationPrices(ctx, "1"); err != nil {
		t.Fatalf("StationPrices() failed: %v", err)
	}

	f.setStatus(http.StatusUnauthorized)
	_, err := client.StationPrices(ctx, "1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected a 401 HTTPError, got %v", err)
	}

	f.setStatus(0)
	if _, err := client.StationPrices(ctx, "1"); err != nil {
		t.Fatalf("StationPrices() after 401 failed: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenHits != 2 {
		t.Errorf("expected a new token after the 401, got %d token requests", f.tokenHits)
	}
	if got := f.requests[2].Header.Get("Authorization"); got != "Bearer tok-2" {
		t.Errorf("Authorization after 401 = %q", got)
	}
}

func TestClient_ServerErrorKeepsToken(t *testing.T) {
	f := &fakeFuelCheck{status: http.StatusInternalServerError}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.StationPrices(ctx, "1"); err == nil {
			t.Fatal("expected an error")
		}
	}
	if f.tokenHits != 1 {
		t.Errorf("expected the token to be reused, got %d token requests", f.tokenHits)
	}
}

func TestClient_NearbyPricesV2(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", nearbyBody: sampleNearby}
	client, _ := newTestClient(t, f)

	payload, err := client.NearbyPricesV2(context.Background(), NearbyRequest{FuelType: "E10", RadiusKm: "5"})
	if err != nil {
		t.Fatalf("NearbyPricesV2() failed: %v", err)
	}
	if len(payload.Prices) != 2 {
		t.Errorf("expected 2 prices, got %d", len(payload.Prices))
	}
	if r := f.requests[0]; r.URL.Path != nearbyV2Path || r.Method != http.MethodPost {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}
}

func TestClient_AllPrices(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", pricesBody: sampleNearby}
	client, calls := newTestClient(t, f)
	ctx := context.Background()

	payload, err := client.AllPrices(ctx)
	if err != nil {
		t.Fatalf("AllPrices() failed: %v", err)
	}
	if len(payload.Stations) != 1 || len(payload.Prices) != 2 {
		t.Fatalf("unexpected payload sizes: %d stations, %d prices", len(payload.Stations), len(payload.Prices))
	}

	if _, err := client.AllPricesV2(ctx, "NSW|TAS"); err != nil {
		t.Fatalf("AllPricesV2() failed: %v", err)
	}
	if _, err := client.AllPricesV2(ctx, " "); err != nil {
		t.Fatalf("AllPricesV2() failed: %v", err)
	}

	tests := []struct {
		path, query string
	}{
		{pricesPath, ""},
		{pricesV2Path, "states=NSW%7CTAS"},
		{pricesV2Path, ""},
	}
	for i, tt := range tests {
		r := f.requests[i]
		if r.Method != http.MethodGet || r.URL.Path != tt.path || r.URL.RawQuery != tt.query {
			t.Errorf("request %d: %s %s?%s, want GET %s?%s", i, r.Method, r.URL.Path, r.URL.RawQuery, tt.path, tt.query)
		}
	}
	if got := atomic.LoadInt64(calls); got != 4 {
		t.Errorf("expected 4 counted calls, got %d", got)
	}
}

const sampleRefData = `{
	"brands": {"items": [{"name": "Ampol"}, {"name": "BP"}]},
	"fueltypes": {"items": [{"code": "E10", "name": "Ethanol 94"}, {"code": "U91", "name": "Unleaded 91"}]},
	"stations": {"items": [{"code": 100, "brand": "Ampol", "name": "Ampol Sydney", "address": "1 Main St"}]},
	"sortfields": {"items": [{"code": "price", "name": "Price"}]}
}`

func TestClient_ReferenceData(t *testing.T) {
	f := &fakeFuelCheck{expiresIn: "3600", refBody: sampleRefData}
	client, _ := newTestClient(t, f)
	ctx := context.Background()

	ref, err := client.ReferenceData(ctx)
	if err != nil {
		t.Fatalf("ReferenceData() failed: %v", err)
	}
	if len(ref.Brands.Items) != 2 || ref.Brands.Items[1].Name != "BP" {
		t.Errorf("unexpected brands: %+v", ref.Brands.Items)
	}
	if len(ref.FuelTypes.Items) != 2 || ref.FuelTypes.Items[0] != (RefItem{Code: "E10", Name: "Ethanol 94"}) {
		t.Errorf("unexpected fuel types: %+v", ref.FuelTypes.Items)
	}
	if len(ref.Stations.Items) != 1 || ref.Stations.Items[0].Code != "100" {
		t.Errorf("unexpected stations: %+v", ref.Stations.Items)
	}

	if _, err := client.ReferenceDataV2(ctx, "TAS"); err != nil {
		t.Fatalf("ReferenceDataV2() failed: %v", err)
	}
	if r := f.requests[0]; r.URL.Path != refDataPath {
		t.Errorf("v1 path = %s", r.URL.Path)
	}
	if r := f.requests[1]; r.URL.Path != refDataV2Path || r.URL.Query().Get("states") != "TAS" {
		t.Errorf("v2 request = %s?%s", r.URL.Path, r.URL.RawQuery)
	}
}

func TestClient_StationCodeRequired(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "k", "s")
	if _, err := client.StationPrices(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty station code")
	}
}

func TestUTCTimestamp(t *testing.T) {
	tests := []struct {
		input    time.Time
		expected string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "01/01/2026 12:00:00 AM"},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), "31/12/2026 11:59:59 PM"},
		{time.Date(2026, 7, 4, 12, 30, 0, 0, time.UTC), "04/07/2026 12:30:00 PM"},
		{time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("AEST", 10*3600)), "28/02/2026 11:00:00 PM"},
	}

	for _, test := range tests {
		if got := UTCTimestamp(test.input); got != test.expected {
			t.Errorf("UTCTimestamp(%v) = %q, expected %q", test.input, got, test.expected)
		}
	}
}

func TestStationCode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected StationCode
		hasError bool
	}{
		{`"100"`, "100", false},
		{`100`, "100", false},
		{`null`, "", false},
		{`true`, "", true},
	}

	for _, test := range tests {
		var code StationCode
		err := json.Unmarshal([]byte(test.input), &code)
		if test.hasError {
			if err == nil {
				t.Errorf("Unmarshal(%s) expected error but got none", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%s) unexpected error: %v", test.input, err)
		}
		if code != test.expected {
			t.Errorf("Unmarshal(%s) = %q, expected %q", test.input, code, test.expected)
		}
	}
}

func BenchmarkJoinStationPrices(b *testing.B) {
	var payload PricesPayload
	if err := json.Unmarshal([]byte(sampleNearby), &payload); err != nil {
		b.Fatalf("bad fixture: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = JoinStationPrices(&payload)
	}
}
