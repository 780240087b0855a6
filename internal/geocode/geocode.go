// Package geocode resolves place names and postcodes to coordinates with
// Nominatim.
package geocode

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muesli/gominatim"
	"github.com/patrickmn/go-cache"
)

const nominatimServer = "https://nominatim.openstreetmap.org/"

// SearchFunc runs a Nominatim search.
type SearchFunc func(query string) ([]gominatim.SearchResult, error)

func nominatimSearch(query string) ([]gominatim.SearchResult, error) {
	gominatim.SetServer(nominatimServer)
	q := gominatim.SearchQuery{Q: query}
	return q.Get()
}

// Geocoder caches lookups for the life of the process.
type Geocoder struct {
	cache  *cache.Cache
	search SearchFunc
}

// New returns a geocoder. A nil search uses the public Nominatim server.
func New(search SearchFunc) *Geocoder {
	if search == nil {
		search = nominatimSearch
	}
	return &Geocoder{
		cache:  cache.New(30*time.Minute, 90*time.Minute),
		search: search,
	}
}

// Result is a resolved location.
type Result struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Lookup resolves a named location within New South Wales.
func (g *Geocoder) Lookup(name string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, fmt.Errorf("empty location")
	}
	if cached, ok := g.cache.Get(name); ok {
		return cached.(Result), nil
	}

	results, err := g.search(name + ", NSW, Australia")
	if err != nil {
		return Result{}, fmt.Errorf("geocoding error: %w", err)
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("no results found for location: %s", name)
	}

	res, err := toResult(results[0])
	if err != nil {
		return Result{}, err
	}
	g.cache.Set(name, res, cache.DefaultExpiration)
	return res, nil
}

func toResult(r gominatim.SearchResult) (Result, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("error parsing latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("error parsing longitude: %w", err)
	}
	return Result{Latitude: lat, Longitude: lon, DisplayName: r.DisplayName}, nil
}
