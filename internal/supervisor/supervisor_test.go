package supervisor

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
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...interface{})                      {}
func (l *nopLogger) Info(string, ...interface{})                       {}
func (l *nopLogger) Warn(string, ...interface{})                       {}
func (l *nopLogger) Error(string, ...interface{})                      {}
func (l *nopLogger) WithField(string, interface{}) core.Logger         { return l }
func (l *nopLogger) WithFields(map[string]interface{}) core.Logger     { return l }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestBot(active bool) *core.Bot {
	status := core.BotStatusStopped
	if active {
		status = core.BotStatusRunning
	}
	return &core.Bot{
		ID:                    uuid.New(),
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
		IsActive:              active,
		Status:                status,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sup := New(st, config.DefaultSymbolFilters(), &nopLogger{}, func(bot *core.Bot) gateway.Gateway {
		return gateway.NewMemory(d("25000"))
	})
	return sup, st
}

func TestInstall_BuildsPipelineAndLaunchesCycle(t *testing.T) {
	sup, st := newTestSupervisor(t)
	ctx := context.Background()

	bot := newTestBot(true)
	require.NoError(t, st.CreateBot(ctx, bot))

	require.NoError(t, sup.Install(ctx, bot))
	assert.True(t, sup.IsInstalled(bot.ID.String()))
	assert.NotNil(t, sup.Machine(bot.ID.String()))

	cycle, err := st.GetActiveCycle(ctx, bot.ID.String())
	require.NoError(t, err)
	require.NotNil(t, cycle)
}

func TestInstall_IsIdempotent(t *testing.T) {
	sup, st := newTestSupervisor(t)
	ctx := context.Background()

	bot := newTestBot(true)
	require.NoError(t, st.CreateBot(ctx, bot))

	require.NoError(t, sup.Install(ctx, bot))
	require.NoError(t, sup.Install(ctx, bot))

	cycles, err := st.ListCycles(ctx, bot.ID.String())
	require.NoError(t, err)
	assert.Len(t, cycles, 1, "a second Install must not start a second cycle")
}

func TestInstall_InactiveBotIsNoop(t *testing.T) {
	sup, st := newTestSupervisor(t)
	ctx := context.Background()

	bot := newTestBot(false)
	require.NoError(t, st.CreateBot(ctx, bot))

	require.NoError(t, sup.Install(ctx, bot))
	assert.False(t, sup.IsInstalled(bot.ID.String()))

	cycle, err := st.GetActiveCycle(ctx, bot.ID.String())
	require.NoError(t, err)
	assert.Nil(t, cycle)
}

func TestRelease_RemovesFromActiveSetAndLeavesOrdersIntact(t *testing.T) {
	sup, st := newTestSupervisor(t)
	ctx := context.Background()

	bot := newTestBot(true)
	require.NoError(t, st.CreateBot(ctx, bot))
	require.NoError(t, sup.Install(ctx, bot))

	cycle, err := st.GetActiveCycle(ctx, bot.ID.String())
	require.NoError(t, err)
	ordersBefore, err := st.ListOrdersByCycle(ctx, cycle.ID.String())
	require.NoError(t, err)
	require.NotEmpty(t, ordersBefore)

	sup.Release(bot.ID.String())
	assert.False(t, sup.IsInstalled(bot.ID.String()))

	ordersAfter, err := st.ListOrdersByCycle(ctx, cycle.ID.String())
	require.NoError(t, err)
	require.Len(t, ordersAfter, len(ordersBefore))
	for _, o := range ordersAfter {
		assert.Equal(t, core.OrderStatusNew, o.Status, "release must not cancel exchange-side orders")
	}
}

func TestInstallBots_IsolatesOneBotsFailure(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sup := New(st, config.DefaultSymbolFilters(), &nopLogger{}, func(bot *core.Bot) gateway.Gateway {
		return gateway.NewMemory(d("25000"))
	})

	good := newTestBot(true)
	bad := newTestBot(true)
	bad.NumOrders = 0 // gridmath.PriceLadder rejects n < 1

	ctx := context.Background()
	require.NoError(t, st.CreateBot(ctx, good))
	require.NoError(t, st.CreateBot(ctx, bad))

	err = sup.InstallBots(ctx, []*core.Bot{good, bad})
	require.Error(t, err, "a failing bot must surface an error")
	assert.True(t, sup.IsInstalled(good.ID.String()), "the good bot must install despite the bad bot's failure")
	assert.False(t, sup.IsInstalled(bad.ID.String()))
}

func TestReleaseAll_ReleasesEveryActiveBot(t *testing.T) {
	sup, st := newTestSupervisor(t)
	ctx := context.Background()

	bot1 := newTestBot(true)
	bot2 := newTestBot(true)
	require.NoError(t, st.CreateBot(ctx, bot1))
	require.NoError(t, st.CreateBot(ctx, bot2))
	require.NoError(t, sup.Install(ctx, bot1))
	require.NoError(t, sup.Install(ctx, bot2))

	sup.ReleaseAll()
	assert.False(t, sup.IsInstalled(bot1.ID.String()))
	assert.False(t, sup.IsInstalled(bot2.ID.String()))
}
