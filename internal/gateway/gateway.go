// Package gateway defines the Exchange Gateway capability (spec §4.1): REST
// order operations, a listen-key user-data stream, and a ticker stream. Two
// implementations exist: binance (a real HTTP+WS client) and memory (an
// in-process test double used throughout internal/tradingengine's tests).
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Side is BUY or SELL, as understood by the exchange wire protocol.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus mirrors the raw exchange order states (spec §6: field `X`).
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// NewOrderResult is what new_order returns (spec §4.1).
type NewOrderResult struct {
	OrderID      int64
	Status       OrderStatus
	ExecutedQty  decimal.Decimal
	Raw          string
}

// CancelResult is what cancel_order returns.
type CancelResult struct {
	Status      OrderStatus
	ExecutedQty decimal.Decimal
}

// OrderState is what get_order returns.
type OrderState struct {
	Status      OrderStatus
	ExecutedQty decimal.Decimal
	Raw         string
}

// ExecutionReport is a decoded user-data stream frame for one order's state
// change (spec §6 field names: i=OrderID, X=status, z=cumulative qty).
type ExecutionReport struct {
	Symbol                 string
	OrderID                int64
	Side                   Side
	Status                 OrderStatus
	CumulativeExecutedQty  decimal.Decimal
	Raw                    string
}

// TickerFrame is a decoded ticker-stream frame (spec §6 field `c`).
type TickerFrame struct {
	Symbol string
	Price  decimal.Decimal
}

// Gateway is the capability contract every exchange adapter (real or test
// double) implements. All operations take credentials implicitly per
// gateway instance (spec §4.1, §9 "credential isolation").
type Gateway interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	NewOrder(ctx context.Context, symbol string, side Side, quantity, price decimal.Decimal) (NewOrderResult, error)

	// CancelOrder is idempotent: an "unknown order" response from the
	// exchange is folded into a terminal-looking success (spec §4.1).
	CancelOrder(ctx context.Context, symbol string, orderID int64) (CancelResult, error)

	GetOrder(ctx context.Context, symbol string, orderID int64) (OrderState, error)

	NewListenKey(ctx context.Context) (string, error)

	// UserDataStream and TickerStream register onMessage and return. The
	// binance gateway delivers decoded frames until Stop closes its
	// sockets; cancelling ctx ends only its listen-key renewal loop. Both
	// are responsible for their own reconnection and, for UserDataStream,
	// listen-key renewal.
	UserDataStream(ctx context.Context, listenKey string, onMessage func(ExecutionReport)) error
	TickerStream(ctx context.Context, symbol string, onMessage func(TickerFrame)) error

	// Stop closes all streams owned by this gateway. Idempotent; the binance
	// gateway waits a bounded time for its socket goroutines to exit.
	Stop()
}
