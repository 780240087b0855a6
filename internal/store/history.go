package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rubiojr/nswfuel/pkg/api"
	"github.com/shopspring/decimal"
)

// HistoryPoint is one observed price on one day.
type HistoryPoint struct {
	Date        time.Time
	StationCode string
	FuelType    string
	Price       decimal.NullDecimal
	Brand       string
	Name        string
	Address     string
	LastUpdated string
}

// RecordPrices stores every record observed at checkedAt. Later
// observations of the same station and fuel on the same local day replace
// earlier ones.
func (s *Storage) RecordPrices(ctx context.Context, checkedAt time.Time, records []api.JoinedRecord) error {
	if len(records) == 0 {
		return nil
	}
	date := checkedAt.Local().Format(dateLayout)
	stamp := checkedAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.log.Error("rollback error", "error", err)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (date, checked_at, station_code, fuel_type, price, brand, name, address, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, station_code, fuel_type) DO UPDATE SET
			checked_at = excluded.checked_at, price = excluded.price, brand = excluded.brand,
			name = excluded.name, address = excluded.address, last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("error preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.StationCode == "" || rec.FuelType == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, date, stamp, rec.StationCode, rec.FuelType, rec.Price,
			rec.Brand, rec.Name, rec.Address, rec.LastUpdated); err != nil {
			return fmt.Errorf("error inserting price for station %s: %w", rec.StationCode, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	s.cache.Flush()
	return nil
}

// PriceHistory returns the daily prices of one fuel at one station, oldest
// first.
func (s *Storage) PriceHistory(ctx context.Context, stationCode, fuelType string) ([]HistoryPoint, error) {
	return s.queryHistory(ctx, "station_history_"+stationCode+"_"+fuelType, `
		SELECT date, station_code, fuel_type, price, brand, name, address, last_updated
		FROM price_history WHERE station_code = ? AND fuel_type = ?
		ORDER BY date ASC`, stationCode, fuelType)
}

// CheapestByDate returns, for each day, the cheapest observed price of a
// fuel across all stations, oldest first.
func (s *Storage) CheapestByDate(ctx context.Context, fuelType string) ([]HistoryPoint, error) {
	const cacheKeyPrefix = "cheapest_by_date_"
	if cached, found := s.cache.Get(cacheKeyPrefix + fuelType); found {
		return cached.([]HistoryPoint), nil
	}

	points, err := s.queryHistory(ctx, "", `
		SELECT date, station_code, fuel_type, price, brand, name, address, last_updated
		FROM price_history WHERE fuel_type = ? AND price IS NOT NULL
		ORDER BY date ASC, id ASC`, fuelType)
	if err != nil {
		return nil, err
	}

	var cheapest []HistoryPoint
	for _, p := range points {
		last := len(cheapest) - 1
		if last < 0 || !cheapest[last].Date.Equal(p.Date) {
			cheapest = append(cheapest, p)
			continue
		}
		if p.Price.Decimal.LessThan(cheapest[last].Price.Decimal) {
			cheapest[last] = p
		}
	}

	s.cache.Set(cacheKeyPrefix+fuelType, cheapest, cache.DefaultExpiration)
	return cheapest, nil
}

func (s *Storage) queryHistory(ctx context.Context, cacheKey, query string, args ...any) ([]HistoryPoint, error) {
	if cacheKey != "" {
		if cached, found := s.cache.Get(cacheKey); found {
			s.log.Debug("Using cached data", "key", cacheKey)
			return cached.([]HistoryPoint), nil
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying price history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		var date string
		var brand, name, address, lastUpdated sql.NullString
		if err := rows.Scan(&date, &p.StationCode, &p.FuelType, &p.Price, &brand, &name, &address, &lastUpdated); err != nil {
			return nil, fmt.Errorf("error scanning price history: %w", err)
		}
		p.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("error parsing date %s: %w", date, err)
		}
		p.Brand, p.Name, p.Address, p.LastUpdated = brand.String, name.String, address.String, lastUpdated.String
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error: %w", err)
	}

	if cacheKey != "" {
		s.cache.Set(cacheKey, points, cache.DefaultExpiration)
	}
	return points, nil
}

// Observation is one station and fuel pair seen in the price history.
type Observation struct {
	StationCode string
	FuelType    string
}

func (o Observation) String() string {
	return o.StationCode + "/" + o.FuelType
}

// ObservationsByDate returns, for every recorded day, the station and fuel
// pairs observed that day, sorted. An empty fuelType matches every fuel.
func (s *Storage) ObservationsByDate(ctx context.Context, fuelType string) (map[string][]Observation, error) {
	query := "SELECT date, station_code, fuel_type FROM price_history"
	var args []any
	if fuelType != "" {
		query += " WHERE fuel_type = ?"
		args = append(args, fuelType)
	}
	query += " ORDER BY date, station_code, fuel_type"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying observations: %w", err)
	}
	defer rows.Close()

	byDate := map[string][]Observation{}
	for rows.Next() {
		var date string
		var o Observation
		if err := rows.Scan(&date, &o.StationCode, &o.FuelType); err != nil {
			return nil, fmt.Errorf("error scanning observation: %w", err)
		}
		byDate[date] = append(byDate[date], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error: %w", err)
	}
	return byDate, nil
}
