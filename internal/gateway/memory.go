package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

type memOrder struct {
	symbol      string
	side        Side
	price       decimal.Decimal
	quantity    decimal.Decimal
	executedQty decimal.Decimal
	status      OrderStatus
}

// Memory is an in-process Gateway double: an in-memory order book keyed by
// exchange order ID, a settable "market price", and direct hooks
// (Fill/PushTicker) that let tests drive the exact execution-report and
// ticker sequences spec §8's scenarios (S3-S6) describe.
type Memory struct {
	mu     sync.Mutex
	orders map[int64]*memOrder
	nextID int64

	price decimal.Decimal

	execCallback   func(ExecutionReport)
	tickerCallback func(TickerFrame)

	listenKeyCounter int64
	stopped          atomic.Bool

	// RejectNotional, when set, causes NewOrder to return ErrValidation
	// for any order whose notional is below it — simulating a venue
	// minimum-notional filter.
	RejectNotional decimal.Decimal
}

// NewMemory creates a Memory gateway with the given initial market price.
func NewMemory(initialPrice decimal.Decimal) *Memory {
	return &Memory{
		orders: make(map[int64]*memOrder),
		price:  initialPrice,
	}
}

func (m *Memory) TickerPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

// SetPrice updates the reference market price used by TickerPrice.
func (m *Memory) SetPrice(p decimal.Decimal) {
	m.mu.Lock()
	m.price = p
	m.mu.Unlock()
}

// PushTicker delivers a ticker frame to the registered callback, as the
// real exchange's ticker websocket would.
func (m *Memory) PushTicker(symbol string, price decimal.Decimal) {
	m.SetPrice(price)
	m.mu.Lock()
	cb := m.tickerCallback
	m.mu.Unlock()
	if cb != nil {
		cb(TickerFrame{Symbol: symbol, Price: price})
	}
}

func (m *Memory) NewOrder(_ context.Context, symbol string, side Side, quantity, price decimal.Decimal) (NewOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RejectNotional.IsPositive() {
		notional := price.Mul(quantity)
		if notional.LessThan(m.RejectNotional) {
			return NewOrderResult{}, fmt.Errorf("memory gateway: notional %s below minimum: %w", notional, core.ErrValidation)
		}
	}

	m.nextID++
	id := m.nextID
	m.orders[id] = &memOrder{
		symbol:   symbol,
		side:     side,
		price:    price,
		quantity: quantity,
		status:   StatusNew,
	}

	return NewOrderResult{
		OrderID:     id,
		Status:      StatusNew,
		ExecutedQty: decimal.Zero,
		Raw:         fmt.Sprintf(`{"orderId":%d,"status":"NEW"}`, id),
	}, nil
}

func (m *Memory) CancelOrder(_ context.Context, _ string, orderID int64) (CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		// Unknown order: fold into a terminal-looking success (spec §4.1).
		return CancelResult{Status: StatusCanceled, ExecutedQty: decimal.Zero}, nil
	}
	if o.status.isTerminal() {
		return CancelResult{Status: o.status, ExecutedQty: o.executedQty}, nil
	}
	o.status = StatusCanceled
	return CancelResult{Status: o.status, ExecutedQty: o.executedQty}, nil
}

func (m *Memory) GetOrder(_ context.Context, _ string, orderID int64) (OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("memory gateway: order %d unknown: %w", orderID, core.ErrAlreadyTerminal)
	}
	return OrderState{Status: o.status, ExecutedQty: o.executedQty, Raw: ""}, nil
}

func (m *Memory) NewListenKey(_ context.Context) (string, error) {
	m.listenKeyCounter++
	return fmt.Sprintf("memory-listen-key-%d", m.listenKeyCounter), nil
}

func (m *Memory) UserDataStream(ctx context.Context, _ string, onMessage func(ExecutionReport)) error {
	m.mu.Lock()
	m.execCallback = onMessage
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (m *Memory) TickerStream(ctx context.Context, _ string, onMessage func(TickerFrame)) error {
	m.mu.Lock()
	m.tickerCallback = onMessage
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (m *Memory) Stop() {
	m.stopped.Store(true)
}

// Fill simulates the exchange reporting a (partial) fill for orderID and
// pushes the corresponding execution report to the registered callback,
// exactly mirroring spec §8 S3's literal sequence.
func (m *Memory) Fill(orderID int64, status OrderStatus, cumulativeExecutedQty decimal.Decimal) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	o.status = status
	o.executedQty = cumulativeExecutedQty
	symbol := o.symbol
	side := o.side
	cb := m.execCallback
	m.mu.Unlock()

	if cb != nil {
		cb(ExecutionReport{
			Symbol:                symbol,
			OrderID:               orderID,
			Side:                  side,
			Status:                status,
			CumulativeExecutedQty: cumulativeExecutedQty,
		})
	}
}

func (s OrderStatus) isTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

var _ Gateway = (*Memory)(nil)
