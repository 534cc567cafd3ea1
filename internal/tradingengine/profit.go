package tradingengine

import (
	"errors"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// ErrQuantityMismatch is returned by Profit when a COMPLETED cycle's total
// SELL fill quantity does not equal cycle.Quantity (spec §4.2.9) — a state
// that should never arise but is reported rather than silently averaged
// over.
var ErrQuantityMismatch = errors.New("quantity mismatch")

// Profit computes the realized profit of a cycle (spec §4.2.9). Cycles that
// are not yet COMPLETED report zero. A quantity mismatch reports
// ErrQuantityMismatch instead of a numeric result.
func Profit(cycle *core.TradingCycle, orders []*core.Order) (decimal.Decimal, error) {
	if cycle.Status != core.CycleStatusCompleted {
		return decimal.Zero, nil
	}

	buyNotional := decimal.Zero
	sellNotional := decimal.Zero
	sellFilledQty := decimal.Zero

	for _, o := range orders {
		switch o.Side {
		case core.OrderSideBuy:
			buyNotional = buyNotional.Add(o.Price.Mul(o.QuantityFilled))
		case core.OrderSideSell:
			sellNotional = sellNotional.Add(o.Price.Mul(o.QuantityFilled))
			sellFilledQty = sellFilledQty.Add(o.QuantityFilled)
		}
	}

	if !sellFilledQty.Equal(cycle.Quantity) {
		return decimal.Zero, ErrQuantityMismatch
	}

	return sellNotional.Sub(buyNotional).Round(2), nil
}
