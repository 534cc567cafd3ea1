package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/gateway"
	"gridbot/internal/store"
	"gridbot/internal/supervisor"
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...interface{})                  {}
func (l *nopLogger) Info(string, ...interface{})                   {}
func (l *nopLogger) Warn(string, ...interface{})                   {}
func (l *nopLogger) Error(string, ...interface{})                  {}
func (l *nopLogger) WithField(string, interface{}) core.Logger     { return l }
func (l *nopLogger) WithFields(map[string]interface{}) core.Logger { return l }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) (*Service, *store.Store, *supervisor.Supervisor) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sup := supervisor.New(st, config.DefaultSymbolFilters(), &nopLogger{}, func(bot *core.Bot) gateway.Gateway {
		return gateway.NewMemory(d("25000"))
	})
	return New(st, sup), st, sup
}

func newBotConfig() *core.Bot {
	return &core.Bot{
		Name:                  "btc-grid",
		APIKey:                "key",
		APISecret:             "secret",
		Exchange:              "binance",
		Symbol:                "BTCUSDT",
		Amount:                d("1000"),
		GridLength:            d("10"),
		FirstOrderOffset:      d("1"),
		NumOrders:             5,
		NextOrderVolume:       d("5"),
		ProfitPercentage:      d("1"),
		PriceChangePercentage: d("0.5"),
	}
}

func TestCreateBot_PersistsStoppedAndInactive(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	bot, err := svc.CreateBot(ctx, newBotConfig())
	require.NoError(t, err)
	assert.False(t, bot.IsActive)
	assert.Equal(t, core.BotStatusStopped, bot.Status)
	assert.NotEqual(t, uuid.Nil, bot.ID)
}

func TestUpdateBot_DoesNotMutateLifecycleFields(t *testing.T) {
	svc, _, sup := newService(t)
	ctx := context.Background()

	bot, err := svc.CreateBot(ctx, newBotConfig())
	require.NoError(t, err)
	require.NoError(t, svc.StartBot(ctx, bot.ID))
	assert.True(t, sup.IsInstalled(bot.ID.String()))

	updated, err := svc.UpdateBot(ctx, bot.ID, func(b *core.Bot) {
		b.ProfitPercentage = d("2")
		b.IsActive = false // must be ignored: update_bot never mutates lifecycle
	})
	require.NoError(t, err)
	assert.True(t, updated.ProfitPercentage.Equal(d("2")))
	assert.True(t, updated.IsActive, "update_bot must not mutate is_active")
	assert.Equal(t, core.BotStatusRunning, updated.Status)
}

func TestStartBot_InstallsPipeline(t *testing.T) {
	svc, st, sup := newService(t)
	ctx := context.Background()

	bot, err := svc.CreateBot(ctx, newBotConfig())
	require.NoError(t, err)

	require.NoError(t, svc.StartBot(ctx, bot.ID))
	assert.True(t, sup.IsInstalled(bot.ID.String()))

	reloaded, err := st.GetBot(ctx, bot.ID.String())
	require.NoError(t, err)
	assert.True(t, reloaded.IsActive)
	assert.Equal(t, core.BotStatusRunning, reloaded.Status)
}

func TestStopBot_CancelsOrdersAndReleasesPipeline(t *testing.T) {
	svc, st, sup := newService(t)
	ctx := context.Background()

	bot, err := svc.CreateBot(ctx, newBotConfig())
	require.NoError(t, err)
	require.NoError(t, svc.StartBot(ctx, bot.ID))

	require.NoError(t, svc.StopBot(ctx, bot.ID))
	assert.False(t, sup.IsInstalled(bot.ID.String()))

	reloaded, err := st.GetBot(ctx, bot.ID.String())
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)
	assert.Equal(t, core.BotStatusStopped, reloaded.Status)

	cycles, err := st.ListCycles(ctx, bot.ID.String())
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, core.CycleStatusCancelled, cycles[0].Status)

	orders, err := st.ListOrdersByCycle(ctx, cycles[0].ID.String())
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, core.OrderStatusCanceled, o.Status)
	}
}

func TestCycleProfit_QuantityMismatchSentinel(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	bot, err := svc.CreateBot(ctx, newBotConfig())
	require.NoError(t, err)
	bot.IsActive = true
	require.NoError(t, st.UpdateBot(ctx, bot))

	cycle := &core.TradingCycle{
		ID:        uuid.New(),
		BotID:     bot.ID,
		Amount:    bot.Amount,
		NumOrders: bot.NumOrders,
		Symbol:    bot.Symbol,
		Exchange:  bot.Exchange,
		Price:     d("25000"),
		Quantity:  d("1"),
		Status:    core.CycleStatusCompleted,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.CreateCycle(ctx, cycle))

	result, err := svc.CycleProfit(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, "quantity mismatch", result)
}
