// Package bootstrap wires the process together: configuration, logging,
// persistence, and the supervisor's signal-aware lifecycle. Grounded on
// the teacher's internal/bootstrap/app.go (App.Run(runners...) driven by
// signal.NotifyContext + errgroup.WithContext).
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/logging"
	"gridbot/internal/store"
)

// App holds the process's core dependencies, assembled once at startup.
type App struct {
	Cfg     *config.Config
	Logger  *logging.ZapLogger
	Store   *store.Store
	Filters config.SymbolFilterTable
}

// NewApp loads configuration, initializes logging, opens persistence, and
// loads the symbol filter table (spec §6). symbolFiltersPath may be empty,
// in which case only the built-in defaults (spec §6's seed table) apply.
func NewApp(symbolFiltersPath string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}

	level := "INFO"
	if cfg.IsDevelopment() {
		level = "DEBUG"
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: init logger: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}

	filters, err := config.LoadSymbolFilters(symbolFiltersPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("bootstrap: load symbol filters: %w", err)
	}

	return &App{Cfg: cfg, Logger: logger, Store: st, Filters: filters}, nil
}

// Close releases resources owned by the App.
func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.Store.Close()
}

// Runner is a long-running component the app's lifecycle manages.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts every runner under a context cancelled by SIGINT/SIGTERM and
// waits for them all to finish or for the first error.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var logger core.Logger = a.Logger
	logger.Info("starting gridbot")

	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("gridbot stopped with error", "error", err)
		return err
	}

	logger.Info("gridbot shut down gracefully")
	return nil
}
