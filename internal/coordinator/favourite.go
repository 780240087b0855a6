package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rubiojr/nswfuel/internal/schedule"
	"github.com/rubiojr/nswfuel/pkg/api"
)

// FavouriteConfig pins a single station.
type FavouriteConfig struct {
	StationCode    string
	PreferredFuels []string
	Schedule       schedule.Schedule
}

// FavouriteResult holds the preferred-fuel prices of the pinned station,
// cheapest first.
type FavouriteResult struct {
	BestPriceResult
	StationCode string             `json:"station_code"`
	Prices      []api.JoinedRecord `json:"prices"`
}

// Favourite polls one station by code.
type Favourite struct {
	*Coordinator[FavouriteResult]
	cfg    FavouriteConfig
	source PriceSource
	log    *slog.Logger
	now    func() time.Time
}

func NewFavourite(cfg FavouriteConfig, source PriceSource, logger *slog.Logger) *Favourite {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg.StationCode = strings.TrimSpace(cfg.StationCode)
	f := &Favourite{cfg: cfg, source: source, log: logger, now: time.Now}
	f.Coordinator = New("favourite", cfg.Schedule, f.update, logger)
	return f
}

// RefreshFavourite runs a favourite-station refresh immediately.
func (f *Favourite) RefreshFavourite(ctx context.Context) (FavouriteResult, error) {
	return f.Refresh(ctx)
}

func (f *Favourite) update(ctx context.Context) (FavouriteResult, error) {
	checkedAt := f.now().UTC()
	if f.cfg.StationCode == "" {
		f.log.Debug("no favourite station configured")
		return FavouriteResult{
			BestPriceResult: BestPriceResult{CheckedAt: checkedAt},
			Prices:          []api.JoinedRecord{},
		}, nil
	}
	return StationBest(ctx, f.source, f.cfg.StationCode, f.cfg.PreferredFuels, checkedAt)
}

// StationBest fetches a station's prices, keeps the preferred fuels ranked
// by price and picks the cheapest.
func StationBest(ctx context.Context, source PriceSource, stationCode string, preferred []string, checkedAt time.Time) (FavouriteResult, error) {
	payload, err := source.StationPrices(ctx, stationCode)
	if err != nil {
		return FavouriteResult{}, fmt.Errorf("station %s request failed: %w", stationCode, err)
	}

	ranked := api.FilterAndRank(api.JoinStationPrices(payload), preferred)
	result := FavouriteResult{
		BestPriceResult: BestPriceResult{LocationID: stationCode, CheckedAt: checkedAt},
		StationCode:     stationCode,
		Prices:          ranked,
	}
	if best, ok := api.PickCheapest(ranked); ok {
		result.Best = &best
	}
	return result, nil
}
