// Package gridmath implements the pure arithmetic of the DCA grid strategy
// (spec §4.2.1, §4.2.2, §4.2.3): the price ladder, the quantity ladder, the
// take-profit price, and symbol-filter rounding. Every function here is
// side-effect free and uses decimal.Decimal exclusively — no float64 ever
// touches a price or quantity.
package gridmath

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

var hundred = decimal.NewFromInt(100)

// PriceLadder builds the descending ladder of buy prices (spec §4.2.1).
//
//	p1 = P0 * (1 - firstOrderOffsetPct/100)
//	Δ  = p1 * gridLengthPct/100
//	s  = Δ / (n-1), or 0 when n == 1
//	pi = p1 - s*(i-1)
//
// The result is strictly non-increasing and p1 < P0 whenever
// firstOrderOffsetPct > 0 (property P1).
func PriceLadder(referencePrice, firstOrderOffsetPct, gridLengthPct decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, fmt.Errorf("gridmath: numOrders must be >= 1, got %d", n)
	}

	f := firstOrderOffsetPct.Div(hundred)
	g := gridLengthPct.Div(hundred)

	p1 := referencePrice.Mul(decimal.NewFromInt(1).Sub(f))
	depth := p1.Mul(g)

	step := decimal.Zero
	if n > 1 {
		step = depth.Div(decimal.NewFromInt(int64(n - 1)))
	}

	prices := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		prices[i] = p1.Sub(step.Mul(decimal.NewFromInt(int64(i))))
	}
	return prices, nil
}

// QuantityLadder sizes the buy ladder against prices so that the ladder's
// total notional equals budget (spec §4.2.2 steps 1-3):
//
//	q0   = budget / Σpi
//	qi~  = q0 * (1+growthPct/100)^(i-1)    (geometric growth)
//	k    = budget / Σ(pi*qi~)              (renormalize to budget)
//	qi   = qi~ * k
//
// budget is the caller's responsibility to compute: for a fresh cycle it is
// bot.Amount; when resuming a partially-filled cycle it is
// bot.Amount - Σ(price*quantity_filled) over existing filled buys (spec
// §4.2.2 step 4), and the caller must check that difference is positive
// before calling — ErrCycleBudgetExhausted is returned here if it is not.
func QuantityLadder(prices []decimal.Decimal, budget, growthPct decimal.Decimal) ([]decimal.Decimal, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("gridmath: prices must be non-empty")
	}
	if budget.Sign() <= 0 {
		return nil, core.ErrCycleBudgetExhausted
	}

	priceSum := decimal.Zero
	for _, p := range prices {
		priceSum = priceSum.Add(p)
	}
	if priceSum.Sign() <= 0 {
		return nil, fmt.Errorf("gridmath: sum of prices must be positive")
	}

	q0 := budget.Div(priceSum)

	growth := decimal.NewFromInt(1).Add(growthPct.Div(hundred))

	seed := make([]decimal.Decimal, len(prices))
	notionalSum := decimal.Zero
	factor := decimal.NewFromInt(1)
	for i, p := range prices {
		seed[i] = q0.Mul(factor)
		notionalSum = notionalSum.Add(p.Mul(seed[i]))
		factor = factor.Mul(growth)
	}

	if notionalSum.Sign() <= 0 {
		return nil, fmt.Errorf("gridmath: non-positive notional sum")
	}

	k := budget.Div(notionalSum)

	out := make([]decimal.Decimal, len(prices))
	for i, q := range seed {
		out[i] = q.Mul(k)
	}
	return out, nil
}

// Fill is a minimal (price, quantity) pair used by WeightedAverageEntry.
type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// WeightedAverageEntry computes Σ(price*qty) / Σ(qty) over a set of fills.
// Returns decimal.Zero if the quantity sum is zero.
func WeightedAverageEntry(fills []Fill) decimal.Decimal {
	notional := decimal.Zero
	qty := decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Quantity))
		qty = qty.Add(f.Quantity)
	}
	if qty.Sign() == 0 {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// TakeProfitPrice computes p_tp = weightedAvgEntry * (1 + profitPct/100)
// (spec §4.2.3 step 3).
func TakeProfitPrice(weightedAvgEntry, profitPct decimal.Decimal) decimal.Decimal {
	return weightedAvgEntry.Mul(decimal.NewFromInt(1).Add(profitPct.Div(hundred)))
}

// RoundQuantityDown truncates q down to the nearest multiple of step (spec
// §9: quantities always round down, never up, to avoid over-committing
// capital beyond what was sized).
func RoundQuantityDown(q, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return q
	}
	units := q.Div(step).Truncate(0)
	return units.Mul(step)
}

// RoundPriceToTick rounds p to the nearest multiple of tick. Grid prices
// are themselves derived from the reference price, not client input, so
// nearest (not strictly down) preserves the ladder's intended spacing.
func RoundPriceToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return p
	}
	units := p.Div(tick).Round(0)
	return units.Mul(tick)
}
