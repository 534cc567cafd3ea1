// Package core defines the shared domain types for the grid trading engine.
package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BotStatus is the lifecycle status of a Bot.
type BotStatus string

const (
	BotStatusRunning   BotStatus = "RUNNING"
	BotStatusLastCycle BotStatus = "LAST_CYCLE"
	BotStatusStopped   BotStatus = "STOPPED"
)

// CycleStatus is the lifecycle status of a TradingCycle.
type CycleStatus string

const (
	CycleStatusActive    CycleStatus = "ACTIVE"
	CycleStatusCompleted CycleStatus = "COMPLETED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// OrderSide is BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus mirrors the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status will never change again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Bot is the configuration and credentials for one DCA grid strategy instance.
type Bot struct {
	ID   uuid.UUID
	Name string

	APIKey    string
	APISecret string

	Exchange string
	Symbol   string

	Amount                 decimal.Decimal
	GridLength             decimal.Decimal
	FirstOrderOffset       decimal.Decimal
	NumOrders              int
	NextOrderVolume        decimal.Decimal
	ProfitPercentage       decimal.Decimal
	PriceChangePercentage  decimal.Decimal
	UpperPriceLimit        decimal.Decimal // zero value means "unset"

	// PartialNumOrders is persisted but never read. See spec §9 Open
	// Question 1 / DESIGN.md: kept as a deprecated column only.
	PartialNumOrders int

	IsActive bool
	Status   BotStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradingCycle is one round-trip of the grid strategy: grid -> accumulate -> TP fill -> close.
type TradingCycle struct {
	ID    uuid.UUID
	BotID uuid.UUID

	// Snapshot of the bot's strategy params at cycle start.
	Amount                decimal.Decimal
	GridLength            decimal.Decimal
	FirstOrderOffset      decimal.Decimal
	NumOrders             int
	NextOrderVolume       decimal.Decimal
	ProfitPercentage      decimal.Decimal
	PriceChangePercentage decimal.Decimal
	Symbol                string
	Exchange              string

	Price    decimal.Decimal // reference market price when the current grid was built
	Quantity decimal.Decimal // total base quantity committed across the current grid

	Status CycleStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is one exchange-side limit order belonging to a TradingCycle.
type Order struct {
	ID              uuid.UUID
	CycleID         uuid.UUID
	ExchangeOrderID int64 // zero until acknowledged by the exchange

	Side        OrderSide
	Type        string // always "LIMIT"
	TimeInForce string // always "GTC"

	Price          decimal.Decimal
	Quantity       decimal.Decimal
	QuantityFilled decimal.Decimal

	Status OrderStatus

	// Number is the 1-based ordinal within the cycle: grid orders are
	// 1..NumOrders, the take-profit order is NumOrders+1.
	Number int

	// ExchangeOrderData is the last raw payload echoed by the exchange,
	// kept verbatim for audit. Never parsed by the engine itself.
	ExchangeOrderData string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Amount returns price * quantity (the intended notional of the order).
func (o *Order) Amount() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}

// IsOpen reports whether the order can still receive fills.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}
