// Package notify sends a desktop notification when a location's best price
// drops.
package notify

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rubiojr/nswfuel/internal/coordinator"
	"github.com/shopspring/decimal"
)

// SendFunc delivers one notification.
type SendFunc func(title, body string) error

// Desktop sends through the platform notification service.
func Desktop(title, body string) error {
	return beeep.Notify(title, body, "")
}

// PriceDrops remembers the last best price of every location and notifies
// when a newer result is cheaper. The first result seen for a location only
// sets the baseline.
type PriceDrops struct {
	entry string
	send  SendFunc
	log   *slog.Logger

	mu       sync.Mutex
	previous map[string]decimal.Decimal
}

func NewPriceDrops(entry string, send SendFunc, logger *slog.Logger) *PriceDrops {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if send == nil {
		send = Desktop
	}
	return &PriceDrops{entry: entry, send: send, log: logger, previous: map[string]decimal.Decimal{}}
}

// Check compares results against the previous ones.
func (p *PriceDrops) Check(results coordinator.NearbyResults) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		best := results[id].Best
		if best == nil || !best.Price.Valid {
			continue
		}
		old, seen := p.previous[id]
		p.previous[id] = best.Price.Decimal
		if !seen || !best.Price.Decimal.LessThan(old) {
			continue
		}

		title := fmt.Sprintf("%s: cheaper %s near %s", p.entry, best.FuelType, id)
		body := fmt.Sprintf("%s at %s %s (was %s)", best.Price.Decimal.String(), best.Brand, best.Name, old.String())
		if err := p.send(title, body); err != nil {
			p.log.Warn("notification failed", "location_id", id, "error", err)
		}
	}
}
