// Package router implements the per-bot Event Router (C5, spec §4.3): it
// subscribes to one bot's user-data and ticker streams and dispatches
// decoded frames into the trading state machine via a worker pool, so the
// websocket read loop inside the gateway never blocks on state-machine
// work. Grounded on the teacher's pkg/concurrency/pool.go (alitto/pond
// wrapper) and internal/engine/gridengine/engine.go's execute() (fan work
// out to a pool rather than run it inline on the event-delivery goroutine).
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/gateway"
)

// Router subscribes one bot's gateway streams and dispatches frames to its
// state machine through a bounded worker pool.
type Router struct {
	gw     gateway.Gateway
	engine engine
	symbol string
	logger core.Logger

	pool *pond.WorkerPool
	ctx  context.Context
}

// engine is the subset of tradingengine.Machine the router drives. Kept as
// a narrow interface (rather than importing tradingengine directly) so the
// two packages don't form an import cycle, mirroring the teacher's
// engine.Engine abstraction over gridengine.Engine.
type engine interface {
	OnExecutionReport(ctx context.Context, event gateway.ExecutionReport) error
	OnTicker(ctx context.Context, price decimal.Decimal) error
}

// New builds a Router for one bot's gateway and state machine. The pool is
// fixed at a single worker: spec §5 requires a BUY-fill event be processed
// to completion before the next event for the same bot is processed, and a
// per-bot FIFO mailbox is the only way a pool can honor that (Machine.mu
// only rules out corruption, not reordering across concurrent workers).
// Different bots each get their own Router/pool, so this never limits
// cross-bot parallelism (spec §5: "different bots run fully in parallel").
func New(gw gateway.Gateway, eng engine, symbol string, logger core.Logger) *Router {
	pool := pond.New(
		1, 64,
		pond.MinWorkers(1),
		pond.IdleTimeout(60*time.Second),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("router worker pool panic recovered", "panic", p)
		}),
	)

	return &Router{
		gw:     gw,
		engine: eng,
		symbol: symbol,
		logger: logger.WithField("component", "router"),
		pool:   pool,
	}
}

// Start obtains a listen key and subscribes both streams. Each incoming
// frame is submitted to the worker pool rather than processed inline, so a
// slow state-machine operation never stalls the gateway's read loop.
func (r *Router) Start(ctx context.Context) error {
	r.ctx = ctx

	listenKey, err := r.gw.NewListenKey(ctx)
	if err != nil {
		return fmt.Errorf("router: new listen key: %w", err)
	}

	if err := r.gw.UserDataStream(ctx, listenKey, func(event gateway.ExecutionReport) {
		r.dispatch(func(dispatchCtx context.Context) error {
			return r.engine.OnExecutionReport(dispatchCtx, event)
		})
	}); err != nil {
		return fmt.Errorf("router: subscribe user data stream: %w", err)
	}

	if err := r.gw.TickerStream(ctx, r.symbol, func(frame gateway.TickerFrame) {
		if frame.Symbol != r.symbol {
			return
		}
		r.dispatch(func(dispatchCtx context.Context) error {
			return r.engine.OnTicker(dispatchCtx, frame.Price)
		})
	}); err != nil {
		return fmt.Errorf("router: subscribe ticker stream: %w", err)
	}

	return nil
}

func (r *Router) dispatch(task func(ctx context.Context) error) {
	r.pool.Submit(func() {
		if err := task(r.ctx); err != nil {
			r.logger.Error("dispatched event handler failed", "error", err)
		}
	})
}

// Stop closes the gateway's streams and drains the worker pool.
func (r *Router) Stop() {
	r.gw.Stop()
	r.pool.StopAndWait()
}
