// Package supervisor implements the Bot Supervisor (C6, spec §4.4): it
// owns the set of currently-running bots, builds each one's private
// gateway + state machine + router, and fans lifecycle operations out
// across them. Grounded on the teacher's internal/bootstrap/app.go (the
// Runner interface and errgroup-based fan-out over independently-lived
// components) generalized from one shared exchange client to one
// gateway per bot (spec §9 "credential isolation").
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/gateway"
	"gridbot/internal/router"
	"gridbot/internal/store"
	"gridbot/internal/tradingengine"
)

// GatewayFactory builds a private Gateway for one bot's credentials. The
// real process wires gateway.NewBinance here; tests wire a factory that
// returns gateway.Memory instances.
type GatewayFactory func(bot *core.Bot) gateway.Gateway

// runningBot holds everything one active bot's pipeline owns (spec §4.4:
// "own per-bot gateway, state machine, router").
type runningBot struct {
	gw      gateway.Gateway
	machine *tradingengine.Machine
	router  *router.Router
	cancel  context.CancelFunc
}

// Supervisor owns the set of running bots (C6).
type Supervisor struct {
	st        *store.Store
	filters   config.SymbolFilterTable
	logger    core.Logger
	gwFactory GatewayFactory

	mu     sync.Mutex
	active map[string]*runningBot // keyed by bot ID
}

// New builds a Supervisor. gwFactory is called once per installed bot to
// build that bot's private gateway instance.
func New(st *store.Store, filters config.SymbolFilterTable, logger core.Logger, gwFactory GatewayFactory) *Supervisor {
	return &Supervisor{
		st:        st,
		filters:   filters,
		logger:    logger.WithField("component", "supervisor"),
		gwFactory: gwFactory,
		active:    make(map[string]*runningBot),
	}
}

// Run implements bootstrap.Runner: it installs every active bot and then
// blocks until ctx is cancelled, releasing every installed pipeline on the
// way out. This is the top-level entry point the process's main
// goroutine drives under signal.NotifyContext.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.InstallAll(ctx); err != nil {
		s.logger.Error("initial bot installation had failures", "error", err)
	}

	<-ctx.Done()
	s.ReleaseAll()
	return nil
}

// InstallAll loads every active bot from persistence and installs it
// (spec §4.4 flow: "C6 loads active bots from C2"). Called once at
// process startup.
func (s *Supervisor) InstallAll(ctx context.Context) error {
	bots, err := s.st.ListBots(ctx, true)
	if err != nil {
		return fmt.Errorf("supervisor: list active bots: %w", err)
	}
	return s.InstallBots(ctx, bots)
}

// InstallBots installs many bots concurrently (spec §4.4 "install_bots").
// One bot's installation failure is isolated from its siblings: errors are
// collected, not propagated fail-fast, so a single bad bot can never abort
// the others' startup (spec §7 "C6 isolates one bot's failure from
// others"). Grounded on the teacher's internal/bootstrap/app.go use of
// errgroup, adapted here to not cancel siblings on first error.
func (s *Supervisor) InstallBots(ctx context.Context, bots []*core.Bot) error {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var errs []error

	for _, bot := range bots {
		bot := bot
		g.Go(func() error {
			if err := s.Install(gctx, bot); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("bot %s: %w", bot.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait() // individual goroutines never return an error; see above

	if len(errs) > 0 {
		return fmt.Errorf("supervisor: %d bot(s) failed to install: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Install builds and starts one bot's pipeline: gateway, state machine,
// listen key, router subscriptions (spec §4.4 "install_bots" per-bot
// steps). Idempotent: installing an already-active bot is a no-op.
func (s *Supervisor) Install(ctx context.Context, bot *core.Bot) error {
	s.mu.Lock()
	if _, ok := s.active[bot.ID.String()]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if !bot.IsActive {
		return nil
	}

	gw := s.gwFactory(bot)
	machine := tradingengine.New(bot, gw, s.st, s.filters, s.logger)

	// launch() is synchronous (spec §4.4): resume/create the cycle and
	// reconcile open orders before the pipeline is considered installed.
	if err := machine.Launch(ctx); err != nil {
		gw.Stop()
		return fmt.Errorf("supervisor: launch bot %s: %w", bot.ID, err)
	}

	pipelineCtx, cancel := context.WithCancel(ctx)
	r := router.New(gw, machine, bot.Symbol, s.logger)
	if err := r.Start(pipelineCtx); err != nil {
		cancel()
		gw.Stop()
		return fmt.Errorf("supervisor: start router for bot %s: %w", bot.ID, err)
	}

	s.mu.Lock()
	s.active[bot.ID.String()] = &runningBot{gw: gw, machine: machine, router: r, cancel: cancel}
	s.mu.Unlock()

	s.logger.Info("bot installed", "bot_id", bot.ID.String(), "symbol", bot.Symbol)
	return nil
}

// Release stops one bot's pipeline and removes it from the active set.
// Never cancels the bot's open orders on the exchange (spec §4.4: "stopping
// the process must leave exchange state intact so launch() can reconcile
// on restart").
func (s *Supervisor) Release(botID string) {
	s.mu.Lock()
	rb, ok := s.active[botID]
	if ok {
		delete(s.active, botID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	rb.cancel()
	rb.router.Stop()
	s.logger.Info("bot released", "bot_id", botID)
}

// ReleaseAll stops every currently active bot's pipeline.
func (s *Supervisor) ReleaseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Release(id)
	}
}

// Machine returns the running state machine for botID, or nil if the bot
// is not currently installed. Used by admin commands that need to act on
// a live pipeline (e.g. stop_bot's cancel_cycle_orders).
func (s *Supervisor) Machine(botID string) *tradingengine.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	rb, ok := s.active[botID]
	if !ok {
		return nil
	}
	return rb.machine
}

// IsInstalled reports whether botID currently has a running pipeline.
func (s *Supervisor) IsInstalled(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[botID]
	return ok
}
