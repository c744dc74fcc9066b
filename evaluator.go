// FILE: evaluator.go
// Package main – mark-to-market profit math and TP/SL trigger checks.
// Pure functions: the simulator tick decides what to persist.

package main

// ProfitResult is a point-in-time valuation of an open order.
type ProfitResult struct {
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profitPercent"`
	CurrentPrice  float64 `json:"currentPrice"`
}

// Trigger reasons recorded on automatic closes.
const (
	ReasonTPHit       = "TP hit"
	ReasonSLHit       = "SL hit"
	ReasonManualClose = "Manual close"
)

// ComputeProfit returns the direction-signed PnL of the order at price.
// Leverage multiplies both the absolute profit and the percentage, but only
// when set; an unleveraged order (Leverage == 0) is valued 1:1. Values are
// rounded to two decimals, the precision the dashboard displays.
func ComputeProfit(o *Order, price float64) ProfitResult {
	diff := price - o.EntryPrice
	if o.Side == SideSell {
		diff = o.EntryPrice - price
	}
	profit := diff * o.Quantity
	pct := 0.0
	if o.EntryPrice != 0 {
		pct = diff / o.EntryPrice * 100
	}
	if o.Leverage > 0 {
		profit *= o.Leverage
		pct *= o.Leverage
	}
	return ProfitResult{
		Profit:        round2(profit),
		ProfitPercent: round2(pct),
		CurrentPrice:  price,
	}
}

// CheckTriggers reports which terminal state, if any, price pushes the order
// into. Unset thresholds (zero) never fire. Take-profit wins when a single
// tick crosses both levels.
func CheckTriggers(o *Order, price float64) (OrderStatus, string, bool) {
	if o.Side == SideBuy {
		if o.TakeProfitPrice > 0 && price >= o.TakeProfitPrice {
			return StatusFilled, ReasonTPHit, true
		}
		if o.StopLossPrice > 0 && price <= o.StopLossPrice {
			return StatusClosed, ReasonSLHit, true
		}
		return "", "", false
	}
	if o.TakeProfitPrice > 0 && price <= o.TakeProfitPrice {
		return StatusFilled, ReasonTPHit, true
	}
	if o.StopLossPrice > 0 && price >= o.StopLossPrice {
		return StatusClosed, ReasonSLHit, true
	}
	return "", "", false
}
