// Package fueltest provides a fake FuelCheck API server for tests.
package fueltest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rubiojr/nswfuel/pkg/api"
)

const (
	TokenPath     = "/oauth/client_credential/accesstoken"
	PricesPath    = "/FuelPriceCheck/v1/fuel/prices"
	PricesV2Path  = "/FuelPriceCheck/v2/fuel/prices"
	NearbyPath    = "/FuelPriceCheck/v1/fuel/prices/nearby"
	NearbyV2Path  = "/FuelPriceCheck/v2/fuel/prices/nearby"
	StationPath   = "/FuelPriceCheck/v1/fuel/prices/station/"
	RefDataPath   = "/FuelCheckRefData/v1/fuel/lovs"
	RefDataV2Path = "/FuelCheckRefData/v2/fuel/lovs"
)

// NearbyE10 and NearbyU91 are canned nearby responses. E10 at BrandX for
// 170.1 is the cheapest across both.
const (
	NearbyE10 = `{
  "stations": [
    {"code": 100, "brand": "BrandX", "name": "X Station", "address": "1 Main St, Sydney",
     "location": {"distance": 1.2, "latitude": -33.87, "longitude": 151.21}},
    {"code": "200", "brand": "BrandY", "name": "Y Station", "address": "2 High St, Sydney",
     "location": {"distance": 2.5, "latitude": -33.88, "longitude": 151.22}}
  ],
  "prices": [
    {"stationcode": "100", "fueltype": "E10", "price": 170.1, "lastupdated": "08/02/2026 09:00:00"},
    {"stationcode": 200, "fueltype": "E10", "price": 172.9, "lastupdated": "08/02/2026 08:00:00"}
  ]
}`
	NearbyU91 = `{
  "stations": [
    {"code": "300", "brand": "BrandZ", "name": "Z Station", "address": "3 Low St, Sydney",
     "location": {"distance": 0.8, "latitude": -33.86, "longitude": 151.20}}
  ],
  "prices": [
    {"stationcode": "300", "fueltype": "U91", "price": 175.5, "lastupdated": "08/02/2026 07:30:00"},
    {"stationcode": "300", "fueltype": "U91", "price": null, "lastupdated": "08/02/2026 07:30:00"}
  ]
}`
	// AllPrices is the canned response of the all-prices endpoints.
	AllPrices = `{
  "stations": [
    {"code": "100", "brand": "BrandX", "name": "X Station", "address": "1 Main St, Sydney"},
    {"code": "400", "brand": "BrandW", "name": "W Station", "address": "4 Far Rd, Dubbo"}
  ],
  "prices": [
    {"stationcode": "100", "fueltype": "E10", "price": 170.1, "lastupdated": "08/02/2026 09:00:00"},
    {"stationcode": "400", "fueltype": "E10", "price": 165.9, "lastupdated": "08/02/2026 09:30:00"},
    {"stationcode": "400", "fueltype": "DL", "price": 185.0, "lastupdated": "08/02/2026 09:30:00"}
  ]
}`
	RefData = `{
  "brands": {"items": [{"name": "BrandX"}, {"name": "BrandY"}, {"name": "BrandZ"}]},
  "fueltypes": {"items": [{"code": "E10", "name": "Ethanol 94"}, {"code": "U91", "name": "Unleaded 91"}, {"code": "DL", "name": "Diesel"}]},
  "stations": {"items": []},
  "sortfields": {"items": [{"code": "price", "name": "Price"}]}
}`
	Station999 = `{
  "prices": [
    {"stationcode": "999", "fueltype": "DL", "price": 189.9, "lastupdated": "08/02/2026 06:00:00"},
    {"stationcode": "999", "fueltype": "P98", "price": 199.9, "lastupdated": "08/02/2026 06:00:00"},
    {"stationcode": "999", "fueltype": "E10", "price": 168.3, "lastupdated": "08/02/2026 06:00:00"}
  ]
}`
)

const emptyPrices = `{"stations":[],"prices":[]}`

// Server answers token, nearby and station requests from canned bodies.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	nearby          map[string]string
	station         map[string]string
	status          int
	tokenHits       int
	nearbyRequests  []api.NearbyRequest
	stationRequests []string
	paths           []string
}

// NewServer starts a server preloaded with NearbyE10, NearbyU91 and
// Station999. It is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nearby:  map[string]string{"E10": NearbyE10, "U91": NearbyU91},
		station: map[string]string{"999": Station999},
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// SetStatus makes price endpoints fail with status. Zero restores normal
// responses.
func (s *Server) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetNearby replaces the response for one fuel type.
func (s *Server) SetNearby(fuelType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nearby[fuelType] = body
}

func (s *Server) TokenHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenHits
}

func (s *Server) NearbyRequests() []api.NearbyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.NearbyRequest(nil), s.nearbyRequests...)
}

func (s *Server) StationRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stationRequests...)
}

// Requests returns the path and query of every non-token request.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *Server) fail(w http.ResponseWriter) bool {
	if s.status == 0 {
		return false
	}
	w.WriteHeader(s.status)
	_, _ = io.WriteString(w, `{"errorDetails":"unavailable"}`)
	return true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path != TokenPath {
		s.paths = append(s.paths, r.URL.RequestURI())
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == TokenPath:
		s.tokenHits++
		_, _ = io.WriteString(w, `{"access_token":"test-token","expires_in":"43199"}`)

	case r.URL.Path == NearbyPath, r.URL.Path == NearbyV2Path:
		var req api.NearbyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.nearbyRequests = append(s.nearbyRequests, req)
		if s.fail(w) {
			return
		}
		body, ok := s.nearby[req.FuelType]
		if !ok {
			body = emptyPrices
		}
		_, _ = io.WriteString(w, body)

	case strings.HasPrefix(r.URL.Path, StationPath):
		code := strings.TrimPrefix(r.URL.Path, StationPath)
		s.stationRequests = append(s.stationRequests, code)
		if s.fail(w) {
			return
		}
		body, ok := s.station[code]
		if !ok {
			body = emptyPrices
		}
		_, _ = io.WriteString(w, body)

	case r.URL.Path == PricesPath, r.URL.Path == PricesV2Path:
		if !s.fail(w) {
			_, _ = io.WriteString(w, AllPrices)
		}

	case r.URL.Path == RefDataPath, r.URL.Path == RefDataV2Path:
		if !s.fail(w) {
			_, _ = io.WriteString(w, RefData)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
