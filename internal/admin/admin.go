// Package admin implements the Admin Commands adaptor (C7, spec §4.5): a
// thin translation layer from external control requests (the out-of-scope
// HTTP/HTML surface, spec §1) into Supervisor and Persistence operations.
// The teacher has no direct analogue (its control surface is gRPC plus a
// config file, not a CRUD admin API); this service-struct-wrapping-store
// shape follows the same construction convention as the teacher's
// internal/engine/simple/engine.go (a struct holding its store and exchange
// dependencies, with one method per operation).
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridbot/internal/core"
	"gridbot/internal/store"
	"gridbot/internal/supervisor"
	"gridbot/internal/tradingengine"
)

// Service implements the §4.5 admin operations. It exposes no HTTP
// itself (out of scope per spec §1); an external net/http mux would call
// these methods for the bot, cycle and order routes. The dashboard,
// balance and live-ticker views have no method here.
type Service struct {
	st  *store.Store
	sup *supervisor.Supervisor
}

// New builds an admin Service over a persistence handle and the
// supervisor that owns running bot pipelines.
func New(st *store.Store, sup *supervisor.Supervisor) *Service {
	return &Service{st: st, sup: sup}
}

// CreateBot persists a new, stopped bot (spec §4.5 "create_bot"). cfg
// carries the caller-supplied strategy parameters and credentials;
// identity and lifecycle fields are server-managed and overwritten here.
func (s *Service) CreateBot(ctx context.Context, cfg *core.Bot) (*core.Bot, error) {
	now := time.Now().UTC()
	cfg.ID = uuid.New()
	cfg.IsActive = false
	cfg.Status = core.BotStatusStopped
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.st.CreateBot(ctx, cfg); err != nil {
		return nil, fmt.Errorf("admin: create bot: %w", err)
	}
	return cfg, nil
}

// UpdateBot patches an existing bot's configuration. Must not mutate
// is_active or status (spec §4.5 "update_bot") — those only change via
// StartBot/StopBot.
func (s *Service) UpdateBot(ctx context.Context, id uuid.UUID, fields func(*core.Bot)) (*core.Bot, error) {
	bot, err := s.st.GetBot(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("admin: update bot: %w", err)
	}

	wasActive := bot.IsActive
	wasStatus := bot.Status

	fields(bot)

	bot.IsActive = wasActive
	bot.Status = wasStatus
	bot.UpdatedAt = time.Now().UTC()

	if err := s.st.UpdateBot(ctx, bot); err != nil {
		return nil, fmt.Errorf("admin: update bot: %w", err)
	}
	return bot, nil
}

// StartBot flips a bot active and installs its pipeline (spec §4.5
// "start_bot").
func (s *Service) StartBot(ctx context.Context, id uuid.UUID) error {
	bot, err := s.st.GetBot(ctx, id.String())
	if err != nil {
		return fmt.Errorf("admin: start bot: %w", err)
	}

	bot.IsActive = true
	bot.Status = core.BotStatusRunning
	bot.UpdatedAt = time.Now().UTC()
	if err := s.st.UpdateBot(ctx, bot); err != nil {
		return fmt.Errorf("admin: start bot: persist: %w", err)
	}

	if err := s.sup.Install(ctx, bot); err != nil {
		return fmt.Errorf("admin: start bot: install: %w", err)
	}
	return nil
}

// StopBot marks a bot stopped, cancels its current cycle's open orders,
// closes the cycle, and releases its pipeline (spec §4.5 "stop_bot").
func (s *Service) StopBot(ctx context.Context, id uuid.UUID) error {
	bot, err := s.st.GetBot(ctx, id.String())
	if err != nil {
		return fmt.Errorf("admin: stop bot: %w", err)
	}

	bot.IsActive = false
	bot.Status = core.BotStatusStopped
	bot.UpdatedAt = time.Now().UTC()
	if err := s.st.UpdateBot(ctx, bot); err != nil {
		return fmt.Errorf("admin: stop bot: persist: %w", err)
	}

	if machine := s.sup.Machine(id.String()); machine != nil {
		if err := machine.CancelCycleOrders(ctx); err != nil {
			return fmt.Errorf("admin: stop bot: cancel cycle orders: %w", err)
		}
	}

	cycle, err := s.st.GetActiveCycle(ctx, id.String())
	if err != nil {
		return fmt.Errorf("admin: stop bot: load active cycle: %w", err)
	}
	if cycle != nil {
		cycle.Status = core.CycleStatusCancelled
		if err := s.st.UpdateCycle(ctx, cycle); err != nil {
			return fmt.Errorf("admin: stop bot: persist cancelled cycle: %w", err)
		}
	}

	s.sup.Release(id.String())
	return nil
}

// ListBots returns every persisted bot.
func (s *Service) ListBots(ctx context.Context) ([]*core.Bot, error) {
	bots, err := s.st.ListBots(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("admin: list bots: %w", err)
	}
	return bots, nil
}

// GetBot loads one bot by ID.
func (s *Service) GetBot(ctx context.Context, id uuid.UUID) (*core.Bot, error) {
	bot, err := s.st.GetBot(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("admin: get bot: %w", err)
	}
	return bot, nil
}

// ListCycles returns every cycle ever created for a bot, oldest first.
func (s *Service) ListCycles(ctx context.Context, botID uuid.UUID) ([]*core.TradingCycle, error) {
	cycles, err := s.st.ListCycles(ctx, botID.String())
	if err != nil {
		return nil, fmt.Errorf("admin: list cycles: %w", err)
	}
	return cycles, nil
}

// ListOrders returns every order belonging to a cycle, ordered by its
// per-cycle number.
func (s *Service) ListOrders(ctx context.Context, cycleID uuid.UUID) ([]*core.Order, error) {
	orders, err := s.st.ListOrdersByCycle(ctx, cycleID.String())
	if err != nil {
		return nil, fmt.Errorf("admin: list orders: %w", err)
	}
	return orders, nil
}

// CycleProfit computes the realized profit of a cycle (spec §4.2.9). The
// sentinel string "quantity mismatch" is returned, not an error, when
// (I2) does not hold — matching spec §4.2.9's literal wording.
func (s *Service) CycleProfit(ctx context.Context, cycleID uuid.UUID) (string, error) {
	cycle, err := s.st.GetCycle(ctx, cycleID.String())
	if err != nil {
		return "", fmt.Errorf("admin: cycle profit: load cycle: %w", err)
	}

	orders, err := s.st.ListOrdersByCycle(ctx, cycleID.String())
	if err != nil {
		return "", fmt.Errorf("admin: cycle profit: list orders: %w", err)
	}

	profit, err := tradingengine.Profit(cycle, orders)
	if errors.Is(err, tradingengine.ErrQuantityMismatch) {
		return "quantity mismatch", nil
	}
	if err != nil {
		return "", fmt.Errorf("admin: cycle profit: %w", err)
	}
	return profit.String(), nil
}
