package api

import (
	"sort"
	"strings"
)

// JoinStationPrices left-joins payload.Prices onto payload.Stations by
// station code. The output has one record per price, in input order.
func JoinStationPrices(payload *PricesPayload) []JoinedRecord {
	if payload == nil {
		return []JoinedRecord{}
	}

	stations := make(map[string]*Station, len(payload.Stations))
	for i := range payload.Stations {
		station := &payload.Stations[i]
		stations[string(station.Code)] = station
	}

	joined := make([]JoinedRecord, 0, len(payload.Prices))
	for _, price := range payload.Prices {
		rec := JoinedRecord{
			StationCode: string(price.StationCode),
			FuelType:    price.FuelType,
			Price:       price.Price,
			LastUpdated: price.LastUpdated,
		}
		if station, ok := stations[rec.StationCode]; ok {
			loc := station.Location
			rec.Brand = station.Brand
			rec.Name = station.Name
			rec.Address = station.Address
			rec.Distance = loc.Distance
			rec.Location = &loc
			rec.IsAdBlueAvailable = station.IsAdBlueAvailable
		}
		joined = append(joined, rec)
	}
	return joined
}

// PickCheapest returns the record with the lowest price, skipping records
// without a price. The first of several equal minimums wins.
func PickCheapest(records []JoinedRecord) (JoinedRecord, bool) {
	var best JoinedRecord
	found := false
	for _, rec := range records {
		if !rec.Price.Valid {
			continue
		}
		if !found || rec.Price.Decimal.LessThan(best.Price.Decimal) {
			best = rec
			found = true
		}
	}
	return best, found
}

type rankOptions struct {
	limit    int
	hasLimit bool
}

// RankOption configures FilterAndRank.
type RankOption func(*rankOptions)

// WithLimit truncates the ranked output to n records. n <= 0 yields an
// empty result.
func WithLimit(n int) RankOption {
	return func(o *rankOptions) {
		o.limit = n
		o.hasLimit = true
	}
}

// FilterAndRank keeps the records whose fuel type is in fuelTypes and sorts
// them by ascending price, records without a price last.
func FilterAndRank(records []JoinedRecord, fuelTypes []string, opts ...RankOption) []JoinedRecord {
	var o rankOptions
	for _, opt := range opts {
		opt(&o)
	}

	wanted := make(map[string]struct{}, len(fuelTypes))
	for _, f := range fuelTypes {
		if f = strings.TrimSpace(f); f != "" {
			wanted[f] = struct{}{}
		}
	}

	filtered := make([]JoinedRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := wanted[rec.FuelType]; ok {
			filtered = append(filtered, rec)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i].Price, filtered[j].Price
		if a.Valid != b.Valid {
			return a.Valid
		}
		if !a.Valid {
			return false
		}
		return a.Decimal.LessThan(b.Decimal)
	})

	if o.hasLimit {
		if o.limit <= 0 {
			return []JoinedRecord{}
		}
		if o.limit < len(filtered) {
			filtered = filtered[:o.limit]
		}
	}
	return filtered
}
