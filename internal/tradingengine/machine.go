// Package tradingengine implements the per-bot trading state machine (spec
// §4.2): grid placement, take-profit maintenance, execution-report and
// ticker reaction, cycle completion, crash recovery. Grounded on the
// teacher's internal/engine/gridengine/engine.go and coordinator.go — the
// lean orchestrator over a strategy + store + exchange shape carries over
// unchanged, but the strategy itself (gridmath) and the persisted entities
// (core.Bot/TradingCycle/Order) are specific to the DCA grid domain rather
// than the teacher's inventory-skew market maker.
package tradingengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/gateway"
	"gridbot/internal/gridmath"
	"gridbot/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Machine binds one Bot to one Gateway and one Store (C4). All public
// operations are serialized through mu (spec §5: "all C4 operations for
// one bot are serialized through a per-bot mailbox/lock").
type Machine struct {
	mu sync.Mutex

	bot     *core.Bot
	gw      gateway.Gateway
	st      *store.Store
	filters config.SymbolFilterTable
	logger  core.Logger

	cycle *core.TradingCycle
}

// New constructs a Machine for bot. The bot's current cycle, if any, is
// not loaded until Launch is called.
func New(bot *core.Bot, gw gateway.Gateway, st *store.Store, filters config.SymbolFilterTable, logger core.Logger) *Machine {
	return &Machine{
		bot:     bot,
		gw:      gw,
		st:      st,
		filters: filters,
		logger:  logger.WithField("bot_id", bot.ID.String()),
	}
}

// Bot returns the bot this machine is bound to.
func (m *Machine) Bot() *core.Bot {
	return m.bot
}

// Launch is the idempotent startup operation (spec §4.2 "launch()").
func (m *Machine) Launch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.bot.IsActive {
		return nil
	}

	active, err := m.st.GetActiveCycle(ctx, m.bot.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: launch: load active cycle: %w", err)
	}

	if active != nil {
		m.cycle = active
		if err := m.reconcileOpenOrders(ctx); err != nil {
			return fmt.Errorf("tradingengine: launch: reconcile: %w", err)
		}

		orders, err := m.st.ListOrdersByCycle(ctx, active.ID.String())
		if err != nil {
			return fmt.Errorf("tradingengine: launch: list orders: %w", err)
		}
		if len(orders) == 0 {
			if err := m.placeGrid(ctx); err != nil {
				return fmt.Errorf("tradingengine: launch: place grid: %w", err)
			}
		}
		return nil
	}

	return m.startNewCycle(ctx)
}

// OnExecutionReport handles one exchange-pushed order state change (spec
// §4.2 "on_execution_report(event)").
func (m *Machine) OnExecutionReport(ctx context.Context, event gateway.ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cycle == nil {
		return nil
	}

	order, err := m.st.GetOrderByExchangeID(ctx, m.cycle.ID.String(), event.OrderID)
	if err != nil {
		return fmt.Errorf("tradingengine: on_execution_report: lookup order: %w", err)
	}
	if order == nil {
		m.logger.Debug("execution report for unknown order ignored", "exchange_order_id", event.OrderID)
		return nil
	}

	if event.Status == gateway.StatusPartiallyFilled || event.Status == gateway.StatusFilled {
		order.Status = core.OrderStatus(event.Status)
		order.QuantityFilled = event.CumulativeExecutedQty
		order.ExchangeOrderData = event.Raw
		if err := m.st.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("tradingengine: on_execution_report: persist order: %w", err)
		}
	}

	if order.Side == core.OrderSideBuy {
		if err := m.updateTakeProfit(ctx); err != nil {
			return fmt.Errorf("tradingengine: on_execution_report: update take profit: %w", err)
		}
	} else if order.Side == core.OrderSideSell && event.Status == gateway.StatusFilled {
		if err := m.checkCycleCompletion(ctx, order); err != nil {
			return fmt.Errorf("tradingengine: on_execution_report: check completion: %w", err)
		}
	}

	return nil
}

// OnTicker reacts to one ticker tick for this bot's symbol (spec §4.2
// "on_ticker(price)").
func (m *Machine) OnTicker(ctx context.Context, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkGridUpdate(ctx, price)
}

// CancelCycleOrders cancels every NEW order in the current cycle (spec
// §4.2.4). Exported so admin stop_bot can call it directly.
func (m *Machine) CancelCycleOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCycleOrders(ctx)
}

// --- internal operations, all called with mu held ------------------------

// placeGrid computes and places a fresh buy ladder for the current cycle
// (spec §4.2.1, §4.2.2). A ladder that would breach UpperPriceLimit is
// refused with core.ErrInvariant and no grid order is placed — see
// DESIGN.md Open Question 2. Nothing retries it at a lower price:
// checkGridUpdate re-grids only on upward drift, and Launch calls
// placeGrid again only for a cycle with no order rows at all, at that
// cycle's stored reference price.
func (m *Machine) placeGrid(ctx context.Context) error {
	c := m.cycle

	prices, err := gridmath.PriceLadder(c.Price, c.FirstOrderOffset, c.GridLength, c.NumOrders)
	if err != nil {
		return fmt.Errorf("gridmath: %w", err)
	}

	if m.bot.UpperPriceLimit.IsPositive() {
		for _, p := range prices {
			if p.GreaterThan(m.bot.UpperPriceLimit) {
				return fmt.Errorf("tradingengine: grid price %s exceeds upper_price_limit %s: %w", p, m.bot.UpperPriceLimit, core.ErrInvariant)
			}
		}
	}

	budget, err := m.remainingBudget(ctx, c)
	if err != nil {
		return err
	}

	quantities, err := gridmath.QuantityLadder(prices, budget, c.NextOrderVolume)
	if err != nil {
		return err
	}

	filter, err := m.filters.Lookup(c.Symbol)
	if err != nil {
		return fmt.Errorf("tradingengine: %w", err)
	}

	existing, err := m.st.ListOrdersByCycle(ctx, c.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: list existing orders: %w", err)
	}
	placedNumbers := make(map[int]bool, len(existing))
	totalQuantity := decimal.Zero
	for _, o := range existing {
		// CANCELED/REJECTED orders free their number: a re-grid cancels every
		// grid order (spec §4.2.5) but never deletes the rows (I4), so a
		// terminal-by-cancellation order must not be mistaken for a number
		// still occupied by a live order, nor must its quantity still count
		// toward the cycle's committed total (P4).
		if o.Status == core.OrderStatusCanceled || o.Status == core.OrderStatusRejected {
			continue
		}
		placedNumbers[o.Number] = true
		if o.Side == core.OrderSideBuy {
			totalQuantity = totalQuantity.Add(o.Quantity)
		}
	}

	for i := range prices {
		number := i + 1
		if placedNumbers[number] {
			continue
		}

		price := gridmath.RoundPriceToTick(prices[i], filter.PriceTick)
		quantity := gridmath.RoundQuantityDown(quantities[i], filter.QtyStep)

		notional := price.Mul(quantity)
		if notional.LessThan(filter.MinNotional) {
			return fmt.Errorf("tradingengine: order %d notional %s below min %s: %w", number, notional, filter.MinNotional, core.ErrValidation)
		}

		result, err := m.gw.NewOrder(ctx, c.Symbol, gateway.SideBuy, quantity, price)
		if err != nil {
			m.logger.Error("place grid order failed", "number", number, "error", err)
			return err
		}

		order := &core.Order{
			ID:                uuid.New(),
			CycleID:           c.ID,
			ExchangeOrderID:   result.OrderID,
			Side:              core.OrderSideBuy,
			Type:              "LIMIT",
			TimeInForce:       "GTC",
			Price:             price,
			Quantity:          quantity,
			QuantityFilled:    result.ExecutedQty,
			Status:            core.OrderStatus(result.Status),
			Number:            number,
			ExchangeOrderData: result.Raw,
		}
		if err := m.st.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("tradingengine: persist grid order: %w", err)
		}

		totalQuantity = totalQuantity.Add(quantity)
	}

	c.Quantity = totalQuantity
	if err := m.st.UpdateCycle(ctx, c); err != nil {
		return fmt.Errorf("tradingengine: persist cycle quantity: %w", err)
	}

	return nil
}

// remainingBudget implements spec §4.2.2 step 4: the fresh-cycle budget is
// bot.Amount; resuming a partially-filled cycle subtracts money already
// spent on filled buys.
func (m *Machine) remainingBudget(ctx context.Context, c *core.TradingCycle) (decimal.Decimal, error) {
	buys, err := m.st.ListOrdersByCycle(ctx, c.ID.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("tradingengine: list orders for budget: %w", err)
	}

	spent := decimal.Zero
	for _, o := range buys {
		if o.Side == core.OrderSideBuy {
			spent = spent.Add(o.Price.Mul(o.QuantityFilled))
		}
	}
	if spent.IsZero() {
		return m.bot.Amount, nil
	}
	return m.bot.Amount.Sub(spent), nil
}

// updateTakeProfit recomputes and replaces the aggregate TP order after any
// BUY update (spec §4.2.3).
func (m *Machine) updateTakeProfit(ctx context.Context) error {
	c := m.cycle

	orders, err := m.st.ListOrdersByCycle(ctx, c.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: list orders for TP: %w", err)
	}

	var buyFills []gridmath.Fill
	buyFilledQty := decimal.Zero
	sellFilledQty := decimal.Zero
	var activeSell *core.Order

	for _, o := range orders {
		if o.Side == core.OrderSideBuy {
			if o.QuantityFilled.IsPositive() {
				buyFills = append(buyFills, gridmath.Fill{Price: o.Price, Quantity: o.QuantityFilled})
				buyFilledQty = buyFilledQty.Add(o.QuantityFilled)
			}
		} else {
			sellFilledQty = sellFilledQty.Add(o.QuantityFilled)
			if o.Status == core.OrderStatusNew || o.Status == core.OrderStatusPartiallyFilled {
				activeSell = o
			}
		}
	}

	if len(buyFills) == 0 {
		return nil
	}

	avgEntry := gridmath.WeightedAverageEntry(buyFills)
	tpPrice := gridmath.TakeProfitPrice(avgEntry, c.ProfitPercentage)
	tpQuantity := buyFilledQty.Sub(sellFilledQty)
	if !tpQuantity.IsPositive() {
		return nil
	}

	filter, err := m.filters.Lookup(c.Symbol)
	if err != nil {
		return fmt.Errorf("tradingengine: %w", err)
	}
	tpPrice = gridmath.RoundPriceToTick(tpPrice, filter.PriceTick)
	tpQuantity = gridmath.RoundQuantityDown(tpQuantity, filter.QtyStep)
	if !tpQuantity.IsPositive() {
		return nil
	}

	// (I1): cancel-before-replace.
	if activeSell != nil {
		result, err := m.gw.CancelOrder(ctx, c.Symbol, activeSell.ExchangeOrderID)
		if err != nil && !gateway.IsAlreadyTerminal(err) {
			m.logger.Error("cancel existing TP failed", "error", err)
			return err
		}
		activeSell.Status = core.OrderStatusCanceled
		// An AlreadyTerminal response carries no executed-qty data (the
		// order was already finalized exchange-side, possibly by a fill),
		// and the gateways fold it into a success with a zero executed
		// qty. quantity_filled never decreases, so keep whatever fill
		// quantity persistence already recorded unless the reported one
		// is larger.
		if err == nil && result.ExecutedQty.GreaterThan(activeSell.QuantityFilled) {
			activeSell.QuantityFilled = result.ExecutedQty
		}
		if err := m.st.UpdateOrder(ctx, activeSell); err != nil {
			return fmt.Errorf("tradingengine: persist cancelled TP: %w", err)
		}
	}

	result, err := m.gw.NewOrder(ctx, c.Symbol, gateway.SideSell, tpQuantity, tpPrice)
	if err != nil {
		m.logger.Error("place TP order failed", "error", err)
		return err
	}

	tp := &core.Order{
		ID:                uuid.New(),
		CycleID:           c.ID,
		ExchangeOrderID:   result.OrderID,
		Side:              core.OrderSideSell,
		Type:              "LIMIT",
		TimeInForce:       "GTC",
		Price:             tpPrice,
		Quantity:          tpQuantity,
		QuantityFilled:    result.ExecutedQty,
		Status:            core.OrderStatus(result.Status),
		Number:            c.NumOrders + 1,
		ExchangeOrderData: result.Raw,
	}
	return m.st.CreateOrder(ctx, tp)
}

// cancelCycleOrders cancels every NEW order in the current cycle (spec
// §4.2.4). Failures are logged and skipped, never raised.
func (m *Machine) cancelCycleOrders(ctx context.Context) error {
	if m.cycle == nil {
		return nil
	}

	orders, err := m.st.ListOrdersByCycleAndStatus(ctx, m.cycle.ID.String(), core.OrderStatusNew)
	if err != nil {
		return fmt.Errorf("tradingengine: list NEW orders: %w", err)
	}

	for _, o := range orders {
		result, err := m.gw.CancelOrder(ctx, m.cycle.Symbol, o.ExchangeOrderID)
		if err != nil {
			m.logger.Error("cancel cycle order failed", "order_id", o.ID, "error", err)
			continue
		}
		o.Status = core.OrderStatusCanceled
		o.QuantityFilled = result.ExecutedQty
		if err := m.st.UpdateOrder(ctx, o); err != nil {
			m.logger.Error("persist cancelled order failed", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

// checkGridUpdate implements the re-grid trigger (spec §4.2.5): upward
// drift past price_change_percentage AND every order still NEW.
func (m *Machine) checkGridUpdate(ctx context.Context, currentPrice decimal.Decimal) error {
	if m.cycle == nil || m.cycle.Price.IsZero() {
		return nil
	}

	deltaPct := currentPrice.Sub(m.cycle.Price).Div(m.cycle.Price).Mul(hundred)
	if deltaPct.LessThan(m.cycle.PriceChangePercentage) {
		return nil
	}

	orders, err := m.st.ListOrdersByCycle(ctx, m.cycle.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: list orders for re-grid check: %w", err)
	}
	for _, o := range orders {
		if o.Status != core.OrderStatusNew {
			return nil
		}
	}

	m.cycle.Price = currentPrice
	if err := m.st.UpdateCycle(ctx, m.cycle); err != nil {
		return fmt.Errorf("tradingengine: persist re-grid price: %w", err)
	}

	if err := m.cancelCycleOrders(ctx); err != nil {
		return err
	}
	return m.placeGrid(ctx)
}

// checkCycleCompletion runs after a SELL fills (spec §4.2.6).
func (m *Machine) checkCycleCompletion(ctx context.Context, sellOrder *core.Order) error {
	c := m.cycle

	orders, err := m.st.ListOrdersByCycle(ctx, c.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: list orders for completion check: %w", err)
	}

	sellFilledQty := decimal.Zero
	for _, o := range orders {
		if o.Side == core.OrderSideSell {
			sellFilledQty = sellFilledQty.Add(o.QuantityFilled)
		}
	}

	if !sellFilledQty.Equal(c.Quantity) {
		return nil
	}

	c.Status = core.CycleStatusCompleted

	// The LAST_CYCLE shutdown path writes the completed cycle and the
	// stopped bot together with no network I/O in between (spec §5: "must
	// not span awaiting network I/O"), so it is the one place in this
	// machine where batching both writes into a single unit of work is both
	// possible and meaningful — one commit, not two independent autocommits.
	if m.bot.Status == core.BotStatusLastCycle {
		m.bot.IsActive = false
		m.bot.Status = core.BotStatusStopped

		uow, err := m.st.Begin(ctx)
		if err != nil {
			return fmt.Errorf("tradingengine: persist completed cycle: begin: %w", err)
		}
		if err := uow.UpdateCycle(ctx, c); err != nil {
			uow.Rollback()
			return fmt.Errorf("tradingengine: persist completed cycle: %w", err)
		}
		if err := uow.UpdateBot(ctx, m.bot); err != nil {
			uow.Rollback()
			return fmt.Errorf("tradingengine: persist stopped bot: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return fmt.Errorf("tradingengine: persist completed cycle: %w", err)
		}

		m.cycle = nil
		return nil
	}

	if err := m.st.UpdateCycle(ctx, c); err != nil {
		return fmt.Errorf("tradingengine: persist completed cycle: %w", err)
	}

	if m.bot.IsActive {
		m.cycle = nil
		return m.startNewCycle(ctx)
	}

	m.cycle = nil
	return nil
}

// startNewCycle creates a fresh ACTIVE cycle at the current market price
// and places its grid (spec §4.2.7 "NONE -> ACTIVE").
func (m *Machine) startNewCycle(ctx context.Context) error {
	price, err := m.gw.TickerPrice(ctx, m.bot.Symbol)
	if err != nil {
		return fmt.Errorf("tradingengine: start new cycle: ticker price: %w", err)
	}

	now := time.Now().UTC()
	cycle := &core.TradingCycle{
		ID:                    uuid.New(),
		BotID:                 m.bot.ID,
		Amount:                m.bot.Amount,
		GridLength:            m.bot.GridLength,
		FirstOrderOffset:      m.bot.FirstOrderOffset,
		NumOrders:             m.bot.NumOrders,
		NextOrderVolume:       m.bot.NextOrderVolume,
		ProfitPercentage:      m.bot.ProfitPercentage,
		PriceChangePercentage: m.bot.PriceChangePercentage,
		Symbol:                m.bot.Symbol,
		Exchange:              m.bot.Exchange,
		Price:                 price,
		Quantity:              decimal.Zero,
		Status:                core.CycleStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := m.st.CreateCycle(ctx, cycle); err != nil {
		return fmt.Errorf("tradingengine: start new cycle: persist: %w", err)
	}

	m.cycle = cycle
	return m.placeGrid(ctx)
}

// reconcileOpenOrders queries the exchange for the authoritative state of
// every non-terminal persisted order and updates persistence before any
// grid action is taken (spec §4.2.8).
func (m *Machine) reconcileOpenOrders(ctx context.Context) error {
	orders, err := m.st.ListOrdersByCycle(ctx, m.cycle.ID.String())
	if err != nil {
		return fmt.Errorf("tradingengine: reconcile: list orders: %w", err)
	}

	var filledSell *core.Order
	for _, o := range orders {
		if o.Status.IsTerminal() {
			continue
		}
		state, err := m.gw.GetOrder(ctx, m.cycle.Symbol, o.ExchangeOrderID)
		if err != nil {
			m.logger.Error("reconcile get_order failed", "order_id", o.ID, "error", err)
			continue
		}
		o.Status = core.OrderStatus(state.Status)
		o.QuantityFilled = state.ExecutedQty
		o.ExchangeOrderData = state.Raw
		if err := m.st.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("tradingengine: reconcile: persist order: %w", err)
		}
		if o.Side == core.OrderSideSell && o.Status == core.OrderStatusFilled {
			filledSell = o
		}
	}

	if err := m.updateTakeProfit(ctx); err != nil {
		return fmt.Errorf("tradingengine: reconcile: update take profit: %w", err)
	}

	if filledSell != nil {
		return m.checkCycleCompletion(ctx, filledSell)
	}
	return nil
}
