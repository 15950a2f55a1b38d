package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"opt-hedge-bot/internal/hedge"
	"opt-hedge-bot/internal/holdings"
	"opt-hedge-bot/internal/state"
	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Config bounds the retry and fill-wait behaviour of the coordinator.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	FillTimeout  time.Duration
	FillPoll     time.Duration
}

// Coordinator drives one hedge intent from placement to a fill verdict.
// The venue only acknowledges submissions with a tx hash, so fills are
// measured as the change in the account holding against a baseline taken
// before placement. That same measurement resolves ambiguous transport
// errors: if the holding moved, the order landed and must not be resent.
type Coordinator struct {
	orders  venue.OrderPlacer
	source  venue.HoldingsSource
	tracker *holdings.Tracker
	store   state.Store
	cfg     Config
	log     *zap.Logger
}

func New(orders venue.OrderPlacer, source venue.HoldingsSource, tracker *holdings.Tracker, store state.Store, cfg Config, log *zap.Logger) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 15 * time.Second
	}
	if cfg.FillPoll <= 0 {
		cfg.FillPoll = time.Second
	}
	return &Coordinator{
		orders:  orders,
		source:  source,
		tracker: tracker,
		store:   store,
		cfg:     cfg,
		log:     log,
	}
}

const fillEpsilon = 1e-9

// Execute places the intent and waits for its fill. It always returns an
// outcome; errors along the way are folded into the outcome status so the
// engine can treat every dispatch uniformly.
func (c *Coordinator) Execute(ctx context.Context, intent hedge.Intent) hedge.Outcome {
	baseline, err := c.source.FetchHolding(ctx, intent.Underlying)
	if err != nil {
		return c.failed(intent, "", fmt.Sprintf("baseline holding: %v", err))
	}

	txHash, placed, outcome := c.place(ctx, intent, baseline.Quantity)
	if !placed {
		return outcome
	}

	filled, final := c.awaitFill(ctx, intent, baseline.Quantity)
	if c.tracker != nil && filled != 0 {
		// Record the absolute holding the fill measurement saw. The
		// engine's refresh may have resynced the tracker mid-flight,
		// so adding the fill on top would count it twice.
		c.tracker.Observe(intent.Underlying, baseline.Quantity+filled)
	}
	final.TxHash = txHash
	return final
}

func (c *Coordinator) place(ctx context.Context, intent hedge.Intent, baseline float64) (string, bool, hedge.Outcome) {
	cacheKey := "cloid:" + intent.ClientID
	if c.store != nil && intent.ClientID != "" {
		if txHash, ok, err := c.store.Get(ctx, cacheKey); err == nil && ok {
			c.log.Info("intent already placed, skipping submission",
				zap.String("underlying", intent.Underlying),
				zap.String("client_id", intent.ClientID))
			return txHash, true, hedge.Outcome{}
		}
	}

	req := venue.OrderRequest{
		Underlying: intent.Underlying,
		IsBuy:      intent.Side == hedge.SideBuy,
		Size:       intent.Size,
		LimitPrice: intent.WorstPrice,
		ClientID:   intent.ClientID,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.orders.PlaceOrder(ctx, req)
		if err == nil {
			c.persistPlacement(ctx, cacheKey, intent.ClientID, res.TxHash)
			return res.TxHash, true, hedge.Outcome{}
		}
		if errors.Is(err, venue.ErrRejected) {
			return "", false, hedge.Outcome{Intent: intent, Status: hedge.OutcomeRejected, Reason: err.Error()}
		}
		if errors.Is(err, venue.ErrAuth) {
			return "", false, c.failed(intent, "", err.Error())
		}
		lastErr = err

		// A transport error is ambiguous: the order may have landed.
		// The holding tells us which world we are in.
		if cur, herr := c.source.FetchHolding(ctx, intent.Underlying); herr == nil {
			if math.Abs(cur.Quantity-baseline) > fillEpsilon {
				c.log.Warn("holding moved after ambiguous placement error, treating order as placed",
					zap.String("underlying", intent.Underlying),
					zap.Error(err))
				c.persistPlacement(ctx, cacheKey, intent.ClientID, "")
				return "", true, hedge.Outcome{}
			}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", false, c.failed(intent, "", ctx.Err().Error())
		case <-time.After(c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))):
		}
	}
	return "", false, c.failed(intent, "", fmt.Sprintf("placement failed after %d attempts: %v", c.cfg.MaxAttempts, lastErr))
}

func (c *Coordinator) awaitFill(ctx context.Context, intent hedge.Intent, baseline float64) (float64, hedge.Outcome) {
	want := intent.Size
	if intent.Side == hedge.SideSell {
		want = -intent.Size
	}
	deadline := time.Now().Add(c.cfg.FillTimeout)
	var filled float64
	for {
		cur, err := c.source.FetchHolding(ctx, intent.Underlying)
		if err == nil {
			filled = cur.Quantity - baseline
			if math.Abs(filled-want) <= math.Abs(want)*1e-6+fillEpsilon {
				return filled, hedge.Outcome{Intent: intent, Status: hedge.OutcomeFilled, Filled: filled}
			}
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return filled, c.partialOrFailed(intent, filled, ctx.Err().Error())
		case <-time.After(c.cfg.FillPoll):
		}
	}
	return filled, c.partialOrFailed(intent, filled, "fill timeout")
}

func (c *Coordinator) partialOrFailed(intent hedge.Intent, filled float64, reason string) hedge.Outcome {
	if math.Abs(filled) > fillEpsilon {
		return hedge.Outcome{Intent: intent, Status: hedge.OutcomePartial, Filled: filled, Reason: reason}
	}
	return hedge.Outcome{Intent: intent, Status: hedge.OutcomeFailed, Reason: reason}
}

func (c *Coordinator) failed(intent hedge.Intent, txHash, reason string) hedge.Outcome {
	return hedge.Outcome{Intent: intent, Status: hedge.OutcomeFailed, TxHash: txHash, Reason: reason}
}

func (c *Coordinator) persistPlacement(ctx context.Context, cacheKey, clientID, txHash string) {
	if c.store == nil || clientID == "" {
		return
	}
	if err := c.store.Set(ctx, cacheKey, txHash); err != nil {
		c.log.Warn("failed to persist placement", zap.String("client_id", clientID), zap.Error(err))
	}
}
