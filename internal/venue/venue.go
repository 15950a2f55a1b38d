package venue

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy shared by both venue clients. Callers classify with
// errors.Is; anything unwrapped is treated as transport-level.
var (
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrTransport       = errors.New("venue transport error")
	ErrRejected        = errors.New("order rejected by venue")
	ErrAuth            = errors.New("venue authentication failed")
)

// DeltaQuote is a point-in-time per-contract delta from the options venue.
type DeltaQuote struct {
	ContractID string
	Delta      float64
	MarkPrice  float64
	AsOf       time.Time
}

// Holding is the hedge venue's current position in one underlying.
// Quantity is signed: positive long, negative short.
type Holding struct {
	Underlying string
	Quantity   float64
	AsOf       time.Time
}

// OrderRequest is a hedge order against the hedge venue. Size is unsigned;
// IsBuy carries the direction. LimitPrice is the worst acceptable price.
type OrderRequest struct {
	Underlying string
	IsBuy      bool
	Size       float64
	LimitPrice float64
	ClientID   string
}

type OrderResult struct {
	TxHash string
}

// MarketMeta describes the hedge venue's trading constraints for one market.
type MarketMeta struct {
	Underlying     string
	MarketID       int
	SizeDecimals   int
	PriceDecimals  int
	MinBaseAmount  float64
	LastTradePrice float64
}

// DeltaSource returns the latest usable quote for each requested contract.
// Contracts without a quote are simply absent from the result.
type DeltaSource interface {
	FetchDeltas(ctx context.Context, contracts []string) (map[string]DeltaQuote, error)
}

// HoldingsSource reads the hedge venue's account state for one underlying.
type HoldingsSource interface {
	FetchHolding(ctx context.Context, underlying string) (Holding, error)
}

// OrderPlacer submits and cancels hedge orders on the hedge venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, underlying, txHash string) error
}
