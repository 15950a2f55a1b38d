package holdings

import (
	"context"
	"sync"
	"time"

	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Tracker caches hedge-venue holdings per underlying so a reconcile cycle
// does not hammer the venue for every underlying every tick. Refresh
// serves the cache while it is younger than resyncInterval and re-queries
// the venue once it goes stale. Observe installs a quantity the caller
// read from the venue itself, so every cached value traces back to a
// venue response rather than an arithmetic adjustment.
type Tracker struct {
	client         venue.HoldingsSource
	resyncInterval time.Duration
	log            *zap.Logger
	clock          func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	quantity float64
	syncedAt time.Time
}

func NewTracker(client venue.HoldingsSource, resyncInterval time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		client:         client,
		resyncInterval: resyncInterval,
		log:            log,
		clock:          time.Now,
		entries:        make(map[string]entry),
	}
}

// Refresh returns the held hedge quantity for underlying, syncing from the
// venue when the cached value is missing or older than the resync
// interval.
func (t *Tracker) Refresh(ctx context.Context, underlying string) (float64, error) {
	t.mu.Lock()
	e, ok := t.entries[underlying]
	fresh := ok && t.clock().Sub(e.syncedAt) < t.resyncInterval
	t.mu.Unlock()
	if fresh {
		return e.quantity, nil
	}
	return t.Sync(ctx, underlying)
}

// Sync unconditionally re-queries the venue and replaces the cached entry,
// discarding any optimistic fill adjustments.
func (t *Tracker) Sync(ctx context.Context, underlying string) (float64, error) {
	holding, err := t.client.FetchHolding(ctx, underlying)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.entries[underlying] = entry{quantity: holding.Quantity, syncedAt: t.clock()}
	t.mu.Unlock()
	t.log.Debug("synced hedge holding",
		zap.String("underlying", underlying),
		zap.Float64("quantity", holding.Quantity))
	return holding.Quantity, nil
}

// Observe replaces the cached quantity with one the caller just read
// from the venue. The execution coordinator reports the holding it
// measured while confirming a fill; setting the absolute value means a
// resync that landed mid-flight cannot be compounded with the fill a
// second time.
func (t *Tracker) Observe(underlying string, quantity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[underlying] = entry{quantity: quantity, syncedAt: t.clock()}
}

// Holding returns the cached quantity without any venue round trip.
func (t *Tracker) Holding(underlying string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[underlying]
	return e.quantity, ok
}
