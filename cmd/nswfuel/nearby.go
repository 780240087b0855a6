package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/nswfuel/internal/config"
	"github.com/rubiojr/nswfuel/internal/geocode"
	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/urfave/cli/v2"
)

// geocoder is replaced in tests.
var geocoder = geocode.New(nil)

func nearbyCommand() *cli.Command {
	return &cli.Command{
		Name:   "nearby",
		Usage:  "List the cheapest preferred fuels around a location",
		Action: nearbyAction,
	}
}

func nearbyAction(c *cli.Context) error {
	return nearbyPrices(c)
}

// searchPoint returns the named location and coordinates, geocoding the
// named location when --geocode is set and coordinates are missing.
func searchPoint(c *cli.Context) (named, lat, lon string, err error) {
	named = strings.TrimSpace(c.String("namedlocation"))
	lat = strings.TrimSpace(c.String("lat"))
	lon = strings.TrimSpace(c.String("lon"))

	if c.Bool("geocode") && named != "" && (lat == "" || lon == "") {
		res, err := geocoder.Lookup(named)
		if err != nil {
			return "", "", "", err
		}
		lat = strconv.FormatFloat(res.Latitude, 'f', 6, 64)
		lon = strconv.FormatFloat(res.Longitude, 'f', 6, 64)
	}

	if named == "" || lat == "" || lon == "" {
		return "", "", "", errors.New("missing NSW_FUEL_API_NAMEDLOCATION or NSW_FUEL_API_LAT/LON in environment")
	}
	return named, lat, lon, nil
}

func nearbyPrices(c *cli.Context) error {
	ctx := c.Context
	logger := newLogger(c)

	named, lat, lon, err := searchPoint(c)
	if err != nil {
		return err
	}

	storage, err := openStorage(ctx, c, logger)
	if err != nil {
		return err
	}
	if storage != nil {
		defer storage.Close()
	}

	client, calls, err := newClient(ctx, c, storage, logger)
	if err != nil {
		return err
	}

	fuels := config.PipeList(c.String("preferred-fuels"))
	if len(fuels) == 0 {
		fuels = []string{c.String("fueltype")}
	}

	search := client.NearbyPrices
	if c.Bool("v2") {
		search = client.NearbyPricesV2
	}

	joined := []api.JoinedRecord{}
	for _, fuel := range fuels {
		payload, err := search(ctx, api.NearbyRequest{
			FuelType:      fuel,
			Brands:        config.PipeList(c.String("brands")),
			NamedLocation: named,
			Latitude:      lat,
			Longitude:     lon,
			RadiusKm:      c.String("radius"),
			SortBy:        c.String("sortby"),
			SortAscending: c.String("sortascending"),
		})
		if err != nil {
			return fmt.Errorf("error fetching %s prices: %w", fuel, err)
		}
		joined = append(joined, api.JoinStationPrices(payload)...)
	}

	cheapest := api.FilterAndRank(joined, fuels, api.WithLimit(c.Int("limit")))
	w := c.App.Writer
	fmt.Fprintf(w, "Retrieved %d prices; showing %d cheapest.\n", len(joined), len(cheapest))
	for _, rec := range cheapest {
		fmt.Fprintf(w, "%s %s | %s | %s | %s | %s\n",
			rec.PriceString(), rec.FuelType, rec.Brand, rec.Name, rec.Address, rec.LastUpdated)
	}

	logger.Debug("API calls today", "count", calls.Current().Count)
	if storage == nil {
		return nil
	}

	if err := storage.RecordPrices(ctx, time.Now(), joined); err != nil {
		return err
	}
	latF, errLat := strconv.ParseFloat(lat, 64)
	lonF, errLon := strconv.ParseFloat(lon, 64)
	radius, errRadius := strconv.ParseFloat(c.String("radius"), 64)
	if errLat == nil && errLon == nil && errRadius == nil {
		if err := storage.LogSearchLocation(ctx, latF, lonF, radius); err != nil {
			return err
		}
	}
	return nil
}
