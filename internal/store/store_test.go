package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBot() *core.Bot {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &core.Bot{
		ID:                    uuid.New(),
		Name:                  "btc-grid",
		APIKey:                "key",
		APISecret:             "secret",
		Exchange:              "binance",
		Symbol:                "BTCUSDT",
		Amount:                decimal.NewFromInt(1000),
		GridLength:            decimal.NewFromInt(10),
		FirstOrderOffset:      decimal.NewFromFloat(0.5),
		NumOrders:             5,
		NextOrderVolume:       decimal.NewFromInt(10),
		ProfitPercentage:      decimal.NewFromInt(2),
		PriceChangePercentage: decimal.NewFromInt(3),
		UpperPriceLimit:       decimal.Zero,
		IsActive:              true,
		Status:                core.BotStatusRunning,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestStore_CreateAndGetBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()

	require.NoError(t, s.CreateBot(ctx, b))

	got, err := s.GetBot(ctx, b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)
	assert.True(t, b.Amount.Equal(got.Amount))
	assert.Equal(t, b.Status, got.Status)
}

func TestStore_UpdateBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))

	b.Status = core.BotStatusStopped
	b.IsActive = false
	require.NoError(t, s.UpdateBot(ctx, b))

	got, err := s.GetBot(ctx, b.ID.String())
	require.NoError(t, err)
	assert.Equal(t, core.BotStatusStopped, got.Status)
	assert.False(t, got.IsActive)
}

func TestStore_ListBots_ActiveOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := newTestBot()
	inactive := newTestBot()
	inactive.IsActive = false
	require.NoError(t, s.CreateBot(ctx, active))
	require.NoError(t, s.CreateBot(ctx, inactive))

	all, err := s.ListBots(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := s.ListBots(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, active.ID, onlyActive[0].ID)
}

func newTestCycle(botID uuid.UUID) *core.TradingCycle {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &core.TradingCycle{
		ID:                    uuid.New(),
		BotID:                 botID,
		Amount:                decimal.NewFromInt(1000),
		GridLength:            decimal.NewFromInt(10),
		FirstOrderOffset:      decimal.NewFromFloat(0.5),
		NumOrders:             5,
		NextOrderVolume:       decimal.NewFromInt(10),
		ProfitPercentage:      decimal.NewFromInt(2),
		PriceChangePercentage: decimal.NewFromInt(3),
		Symbol:                "BTCUSDT",
		Exchange:              "binance",
		Price:                 decimal.NewFromInt(25000),
		Quantity:              decimal.Zero,
		Status:                core.CycleStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestStore_OneActiveCyclePerBot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))

	first := newTestCycle(b.ID)
	require.NoError(t, s.CreateCycle(ctx, first))

	second := newTestCycle(b.ID)
	err := s.CreateCycle(ctx, second)
	assert.Error(t, err, "a second ACTIVE cycle for the same bot must be rejected by the unique index")
}

func TestStore_GetActiveCycle_NoneReturnsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))

	got, err := s.GetActiveCycle(ctx, b.ID.String())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnitOfWork_CommitPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))

	cycle := newTestCycle(b.ID)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.CreateCycle(ctx, cycle))
	require.NoError(t, uow.Commit())

	got, err := s.GetActiveCycle(ctx, b.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cycle.ID, got.ID)
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))

	cycle := newTestCycle(b.ID)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.CreateCycle(ctx, cycle))
	require.NoError(t, uow.Rollback())

	got, err := s.GetActiveCycle(ctx, b.ID.String())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func newTestOrder(cycleID uuid.UUID, number int) *core.Order {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &core.Order{
		ID:                uuid.New(),
		CycleID:           cycleID,
		ExchangeOrderID:   int64(1000 + number),
		Side:              core.OrderSideBuy,
		Type:              "LIMIT",
		TimeInForce:       "GTC",
		Price:             decimal.NewFromInt(int64(25000 - number*100)),
		Quantity:          decimal.NewFromFloat(0.01),
		QuantityFilled:    decimal.Zero,
		Status:            core.OrderStatusNew,
		Number:            number,
		ExchangeOrderData: "{}",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestUnitOfWork_OrderQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := newTestBot()
	require.NoError(t, s.CreateBot(ctx, b))
	cycle := newTestCycle(b.ID)
	require.NoError(t, s.CreateCycle(ctx, cycle))

	uow, err := s.Begin(ctx)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, uow.CreateOrder(ctx, newTestOrder(cycle.ID, i)))
	}
	sell := newTestOrder(cycle.ID, 4)
	sell.Side = core.OrderSideSell
	require.NoError(t, uow.CreateOrder(ctx, sell))

	all, err := uow.ListOrdersByCycle(ctx, cycle.ID.String())
	require.NoError(t, err)
	assert.Len(t, all, 4)

	buys, err := uow.ListOrdersByCycleAndSide(ctx, cycle.ID.String(), core.OrderSideBuy)
	require.NoError(t, err)
	assert.Len(t, buys, 3)

	byExchangeID, err := uow.GetOrderByExchangeID(ctx, cycle.ID.String(), 1001)
	require.NoError(t, err)
	require.NotNil(t, byExchangeID)
	assert.Equal(t, 1, byExchangeID.Number)

	buys[0].Status = core.OrderStatusFilled
	buys[0].QuantityFilled = buys[0].Quantity
	require.NoError(t, uow.UpdateOrder(ctx, buys[0]))
	require.NoError(t, uow.Commit())

	filled, err := s.ListOrdersByCycle(ctx, cycle.ID.String())
	require.NoError(t, err)
	var foundFilled bool
	for _, o := range filled {
		if o.ID == buys[0].ID {
			foundFilled = true
			assert.Equal(t, core.OrderStatusFilled, o.Status)
		}
	}
	assert.True(t, foundFilled)
}
