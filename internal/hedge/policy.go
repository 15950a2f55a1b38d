package hedge

import "math"

// TargetHedge is the hedge quantity that offsets an option delta. A short
// call book (negative delta) wants a positive, long hedge.
func TargetHedge(targetDelta float64) float64 {
	return -targetDelta
}

// Gap is what remains to be traded: positive means the account holds too
// little, negative too much.
func Gap(targetHedge, held float64) float64 {
	return targetHedge - held
}

// Direction maps a non-zero gap onto an order side. A positive gap buys,
// a negative gap sells. Callers must not pass a zero gap; the policy has
// no side for it.
func Direction(gap float64) Side {
	if gap > 0 {
		return SideBuy
	}
	return SideSell
}

// SizeOrder turns a gap into an order size, or reports that no order is
// needed. The gap must strictly exceed the tolerance; equality stays put
// so a book hovering at the boundary does not flap. The size is rounded
// down to the venue's size increment, and anything under the venue
// minimum is dropped.
func SizeOrder(gap, tolerance, minOrderSize float64, sizeDecimals int) (float64, bool) {
	abs := math.Abs(gap)
	if abs <= tolerance {
		return 0, false
	}
	size := roundDown(abs, sizeDecimals)
	if size <= 0 || size < minOrderSize {
		return 0, false
	}
	return size, true
}

// WorstPrice caps a market order against the last trade. Buys accept up
// to lastPrice*(1+slippage), sells down to lastPrice*(1-slippage).
func WorstPrice(side Side, lastPrice, slippagePct float64) float64 {
	if side == SideBuy {
		return lastPrice * (1 + slippagePct)
	}
	return lastPrice * (1 - slippagePct)
}

func roundDown(x float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Floor(x*scale) / scale
}
