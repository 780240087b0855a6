package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

const (
	decimalBase                        = 10
	defaultReducePrecisionDecimalPlace = 2
	// clusterDistanceMeters groups searches made within about 1km.
	clusterDistanceMeters = 1000
)

type LocationLog struct {
	ID          int64
	Latitude    float64
	Longitude   float64
	Distance    float64
	SearchCount int64
	SearchTime  time.Time
	LastSearch  time.Time
}

// PopularLocation is a cluster of nearby searches.
type PopularLocation struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lng"`
	SearchCount int64   `json:"weight"`
	Radius      float64 `json:"radius"` // km
}

func reduceLocationPrecision(lat, lng float64, decimalPlaces int) (roundedLat, roundedLng float64) {
	factor := math.Pow(decimalBase, float64(decimalPlaces))
	roundedLat = math.Round(lat*factor) / factor
	roundedLng = math.Round(lng*factor) / factor
	return
}

// LogSearchLocation records a nearby search. Searches are stored with
// coordinates rounded to two decimals and repeated searches of the same
// rounded point increment its count.
func (s *Storage) LogSearchLocation(ctx context.Context, latitude, longitude, distance float64) error {
	var id int64
	newLat, newLong := reduceLocationPrecision(latitude, longitude, defaultReducePrecisionDecimalPlace)
	now := s.now().UTC().Format(time.RFC3339)

	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM location_logs
		WHERE latitude = ? AND longitude = ?
		LIMIT 1
	`, newLat, newLong).Scan(&id)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error checking for existing location: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO location_logs (latitude, longitude, distance, search_time, last_search)
			VALUES (?, ?, ?, ?, ?)
		`, newLat, newLong, distance, now, now)
		if err != nil {
			return fmt.Errorf("error logging search location: %w", err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE location_logs
		SET search_count = search_count + 1, last_search = ?, distance = ?
		WHERE id = ?
	`, now, distance, id)
	if err != nil {
		return fmt.Errorf("error updating search location: %w", err)
	}
	return nil
}

// GetLocationLogs returns logged searches, most searched first. limit <= 0
// returns all of them.
func (s *Storage) GetLocationLogs(ctx context.Context, limit int) ([]LocationLog, error) {
	query := `SELECT id, latitude, longitude, distance, search_count, search_time, last_search
			  FROM location_logs
			  ORDER BY search_count DESC, id ASC `

	if limit > 0 {
		query += fmt.Sprintf("LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error retrieving location logs: %w", err)
	}
	defer rows.Close()

	var logs []LocationLog
	for rows.Next() {
		var logEntry LocationLog
		var searchTime, lastSearch string
		if err := rows.Scan(
			&logEntry.ID,
			&logEntry.Latitude,
			&logEntry.Longitude,
			&logEntry.Distance,
			&logEntry.SearchCount,
			&searchTime,
			&lastSearch,
		); err != nil {
			return nil, fmt.Errorf("error scanning location log: %w", err)
		}
		logEntry.SearchTime, _ = time.Parse(time.RFC3339, searchTime)
		logEntry.LastSearch, _ = time.Parse(time.RFC3339, lastSearch)
		logs = append(logs, logEntry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	return logs, nil
}

// GetPopularLocations clusters logged searches that lie within about a
// kilometre of each other, most searched first.
func (s *Storage) GetPopularLocations(ctx context.Context, limit int) ([]PopularLocation, error) {
	logs, err := s.GetLocationLogs(ctx, 0)
	if err != nil {
		return nil, err
	}

	processed := make(map[int64]bool)
	var popular []PopularLocation

	for i, l := range logs {
		if processed[l.ID] {
			continue
		}
		processed[l.ID] = true

		cluster := PopularLocation{
			Latitude:    l.Latitude,
			Longitude:   l.Longitude,
			SearchCount: l.SearchCount,
			Radius:      l.Distance,
		}

		for j, other := range logs {
			if i == j || processed[other.ID] {
				continue
			}
			if gpx.Distance2D(l.Latitude, l.Longitude, other.Latitude, other.Longitude, true) > clusterDistanceMeters {
				continue
			}
			processed[other.ID] = true

			total := float64(cluster.SearchCount + other.SearchCount)
			cluster.Latitude = (cluster.Latitude*float64(cluster.SearchCount) + other.Latitude*float64(other.SearchCount)) / total
			cluster.Longitude = (cluster.Longitude*float64(cluster.SearchCount) + other.Longitude*float64(other.SearchCount)) / total
			cluster.SearchCount += other.SearchCount
			if other.Distance > cluster.Radius {
				cluster.Radius = other.Distance
			}
		}

		popular = append(popular, cluster)
	}

	sort.SliceStable(popular, func(i, j int) bool {
		return popular[i].SearchCount > popular[j].SearchCount
	})
	if limit > 0 && len(popular) > limit {
		popular = popular[:limit]
	}
	return popular, nil
}
