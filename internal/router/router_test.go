package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
	"gridbot/internal/gateway"
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...interface{})                  {}
func (l *nopLogger) Info(string, ...interface{})                   {}
func (l *nopLogger) Warn(string, ...interface{})                   {}
func (l *nopLogger) Error(string, ...interface{})                  {}
func (l *nopLogger) WithField(string, interface{}) core.Logger     { return l }
func (l *nopLogger) WithFields(map[string]interface{}) core.Logger { return l }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeEngine records every call the router dispatches to it, so tests can
// assert on what arrived without needing a real tradingengine.Machine.
type fakeEngine struct {
	mu      sync.Mutex
	reports []gateway.ExecutionReport
	prices  []decimal.Decimal
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) OnExecutionReport(_ context.Context, event gateway.ExecutionReport) error {
	e.mu.Lock()
	e.reports = append(e.reports, event)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) OnTicker(_ context.Context, price decimal.Decimal) error {
	e.mu.Lock()
	e.prices = append(e.prices, price)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) count() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reports), len(e.prices)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestStart_DispatchesTickerFramesMatchingSymbol(t *testing.T) {
	gw := gateway.NewMemory(d("25000"))
	eng := newFakeEngine()
	r := New(gw, eng, "BTCUSDT", &nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	gw.PushTicker("BTCUSDT", d("25500"))
	// A frame for a different symbol must never reach the engine.
	gw.PushTicker("ETHUSDT", d("1700"))

	waitFor(t, func() bool {
		_, prices := eng.count()
		return prices == 1
	})

	_, prices := eng.count()
	assert.Equal(t, 1, prices)
	assert.True(t, eng.prices[0].Equal(d("25500")))
}

func TestStart_DispatchesExecutionReports(t *testing.T) {
	gw := gateway.NewMemory(d("25000"))
	eng := newFakeEngine()
	r := New(gw, eng, "BTCUSDT", &nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	res, err := gw.NewOrder(ctx, "BTCUSDT", gateway.SideBuy, d("1"), d("25000"))
	require.NoError(t, err)
	gw.Fill(res.OrderID, gateway.StatusFilled, d("1"))

	waitFor(t, func() bool {
		reports, _ := eng.count()
		return reports == 1
	})

	reports, _ := eng.count()
	assert.Equal(t, 1, reports)
	assert.Equal(t, gateway.StatusFilled, eng.reports[0].Status)
}

func TestStop_DrainsPoolWithoutBlockingForever(t *testing.T) {
	gw := gateway.NewMemory(d("25000"))
	eng := newFakeEngine()
	r := New(gw, eng, "BTCUSDT", &nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
