package exposure

import (
	"sort"
	"time"

	"opt-hedge-bot/internal/ledger"
	"opt-hedge-bot/internal/venue"
)

// Exposure is the aggregated option delta for one underlying.
type Exposure struct {
	Underlying  string
	TargetDelta float64
	// Partial marks an aggregate that excludes at least one position
	// because its quote was missing or stale. Hedging against a
	// partial aggregate would size the offset wrong, so the engine
	// skips these.
	Partial   bool
	Contracts []string
}

// Compute aggregates position deltas per underlying. It is a pure
// function of its inputs: same positions and quotes always yield the same
// result. Quotes older than maxAge (relative to now) count as missing.
func Compute(positions []ledger.Position, quotes map[string]venue.DeltaQuote, now time.Time, maxAge time.Duration) map[string]Exposure {
	out := make(map[string]Exposure)
	for _, pos := range positions {
		under := ledger.Underlying(pos.ContractID)
		if under == "" {
			continue
		}
		exp := out[under]
		exp.Underlying = under

		quote, ok := quotes[pos.ContractID]
		switch {
		case !ok:
			exp.Partial = true
		case maxAge > 0 && now.Sub(quote.AsOf) > maxAge:
			exp.Partial = true
		default:
			exp.TargetDelta += pos.Quantity * quote.Delta
			exp.Contracts = append(exp.Contracts, pos.ContractID)
		}
		out[under] = exp
	}
	for under, exp := range out {
		sort.Strings(exp.Contracts)
		out[under] = exp
	}
	return out
}
