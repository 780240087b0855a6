package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/patrickmn/go-cache"
)

func bestPricesKey(entryID, concern string) string {
	return "best_prices_" + entryID + "_" + concern
}

// SaveBestPrices stores the last published result of one coordinator.
func (s *Storage) SaveBestPrices(ctx context.Context, entryID, concern string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s results: %w", concern, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO best_prices (entry_id, concern, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entry_id, concern) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, entryID, concern, data)
	if err != nil {
		return fmt.Errorf("error saving %s results: %w", concern, err)
	}

	s.cache.Delete(bestPricesKey(entryID, concern))
	return nil
}

// LoadBestPrices decodes the stored result into dst. It reports false when
// nothing was stored for the entry and concern.
func (s *Storage) LoadBestPrices(ctx context.Context, entryID, concern string, dst any) (bool, error) {
	key := bestPricesKey(entryID, concern)

	data, found := s.cache.Get(key)
	if found {
		s.log.Debug("Using cached data", "key", key)
	} else {
		var raw []byte
		err := s.db.QueryRowContext(ctx,
			"SELECT data FROM best_prices WHERE entry_id = ? AND concern = ?", entryID, concern,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("error querying %s results: %w", concern, err)
		}
		s.cache.Set(key, raw, cache.DefaultExpiration)
		data = raw
	}

	if err := json.Unmarshal(data.([]byte), dst); err != nil {
		return false, fmt.Errorf("error unmarshaling %s results: %w", concern, err)
	}
	return true, nil
}
