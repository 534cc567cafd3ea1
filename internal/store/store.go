// Package store implements the persistence contract of spec §3/§6: typed
// load/store for Bot, TradingCycle and Order, an atomic per-operation
// unit-of-work, and queries by status/side. Grounded on the teacher's
// internal/engine/simple/store_sqlite.go (sql.DB, serializable
// transactions, WAL mode), generalized from one JSON blob row to typed
// relational tables because spec §3 needs per-entity queries and foreign
// keys, not a single opaque snapshot.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting every CRUD
// helper below run unchanged whether or not it is inside a unit of work.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the top-level persistence handle (C2).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UnitOfWork is a short-lived, serializable transaction (spec §5: "each
// state-machine operation runs in a short transaction... must not span
// awaiting network I/O"). Callers do all gateway/network calls before
// opening one.
type UnitOfWork struct {
	tx *sql.Tx
}

// Begin starts a new unit of work.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the unit of work.
func (u *UnitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback aborts the unit of work. Safe to call after Commit (no-op error ignored by callers via defer).
func (u *UnitOfWork) Rollback() error {
	return u.tx.Rollback()
}

// --- Bots -------------------------------------------------------------

func insertBot(ctx context.Context, q execer, b *core.Bot) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bots (
			id, name, api_key, api_secret, exchange, symbol,
			amount, grid_length, first_order_offset, num_orders, next_order_volume,
			profit_percentage, price_change_percentage, upper_price_limit, partial_num_orders,
			is_active, status, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID.String(), b.Name, b.APIKey, b.APISecret, b.Exchange, b.Symbol,
		b.Amount.String(), b.GridLength.String(), b.FirstOrderOffset.String(), b.NumOrders, b.NextOrderVolume.String(),
		b.ProfitPercentage.String(), b.PriceChangePercentage.String(), b.UpperPriceLimit.String(), b.PartialNumOrders,
		boolToInt(b.IsActive), string(b.Status), b.CreatedAt.UTC().Format(time.RFC3339Nano), b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert bot: %w", err)
	}
	return nil
}

func updateBot(ctx context.Context, q execer, b *core.Bot) error {
	_, err := q.ExecContext(ctx, `
		UPDATE bots SET
			name=?, api_key=?, api_secret=?, exchange=?, symbol=?,
			amount=?, grid_length=?, first_order_offset=?, num_orders=?, next_order_volume=?,
			profit_percentage=?, price_change_percentage=?, upper_price_limit=?, partial_num_orders=?,
			is_active=?, status=?, updated_at=?
		WHERE id=?`,
		b.Name, b.APIKey, b.APISecret, b.Exchange, b.Symbol,
		b.Amount.String(), b.GridLength.String(), b.FirstOrderOffset.String(), b.NumOrders, b.NextOrderVolume.String(),
		b.ProfitPercentage.String(), b.PriceChangePercentage.String(), b.UpperPriceLimit.String(), b.PartialNumOrders,
		boolToInt(b.IsActive), string(b.Status), time.Now().UTC().Format(time.RFC3339Nano),
		b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("store: update bot: %w", err)
	}
	return nil
}

const botColumns = `id, name, api_key, api_secret, exchange, symbol,
	amount, grid_length, first_order_offset, num_orders, next_order_volume,
	profit_percentage, price_change_percentage, upper_price_limit, partial_num_orders,
	is_active, status, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (*core.Bot, error) {
	var b core.Bot
	var id string
	var amount, gridLength, firstOrderOffset, nextOrderVolume, profitPct, priceChangePct, upperLimit string
	var isActive int
	var status string
	var createdAt, updatedAt string

	err := row.Scan(
		&id, &b.Name, &b.APIKey, &b.APISecret, &b.Exchange, &b.Symbol,
		&amount, &gridLength, &firstOrderOffset, &b.NumOrders, &nextOrderVolume,
		&profitPct, &priceChangePct, &upperLimit, &b.PartialNumOrders,
		&isActive, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.ID = parseUUID(id)
	b.Amount = parseDecimal(amount)
	b.GridLength = parseDecimal(gridLength)
	b.FirstOrderOffset = parseDecimal(firstOrderOffset)
	b.NextOrderVolume = parseDecimal(nextOrderVolume)
	b.ProfitPercentage = parseDecimal(profitPct)
	b.PriceChangePercentage = parseDecimal(priceChangePct)
	b.UpperPriceLimit = parseDecimal(upperLimit)
	b.IsActive = isActive != 0
	b.Status = core.BotStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func getBot(ctx context.Context, q execer, id string) (*core.Bot, error) {
	row := q.QueryRowContext(ctx, "SELECT "+botColumns+" FROM bots WHERE id=?", id)
	b, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: bot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get bot: %w", err)
	}
	return b, nil
}

func listBots(ctx context.Context, q execer, activeOnly bool) ([]*core.Bot, error) {
	query := "SELECT " + botColumns + " FROM bots"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list bots: %w", err)
	}
	defer rows.Close()

	var out []*core.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBot persists a new bot outside of any caller-managed unit of work.
func (s *Store) CreateBot(ctx context.Context, b *core.Bot) error {
	return insertBot(ctx, s.db, b)
}

// GetBot loads a bot by ID.
func (s *Store) GetBot(ctx context.Context, id string) (*core.Bot, error) {
	return getBot(ctx, s.db, id)
}

// UpdateBot persists changes to an existing bot.
func (s *Store) UpdateBot(ctx context.Context, b *core.Bot) error {
	return updateBot(ctx, s.db, b)
}

// ListBots returns every bot, or only active ones when activeOnly is true.
func (s *Store) ListBots(ctx context.Context, activeOnly bool) ([]*core.Bot, error) {
	return listBots(ctx, s.db, activeOnly)
}

func (u *UnitOfWork) GetBot(ctx context.Context, id string) (*core.Bot, error) {
	return getBot(ctx, u.tx, id)
}

func (u *UnitOfWork) UpdateBot(ctx context.Context, b *core.Bot) error {
	return updateBot(ctx, u.tx, b)
}

// --- Trading cycles -----------------------------------------------------

const cycleColumns = `id, bot_id, amount, grid_length, first_order_offset, num_orders, next_order_volume,
	profit_percentage, price_change_percentage, symbol, exchange, price, quantity, status, created_at, updated_at`

func insertCycle(ctx context.Context, q execer, c *core.TradingCycle) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trading_cycles (
			id, bot_id, amount, grid_length, first_order_offset, num_orders, next_order_volume,
			profit_percentage, price_change_percentage, symbol, exchange, price, quantity, status,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID.String(), c.BotID.String(), c.Amount.String(), c.GridLength.String(), c.FirstOrderOffset.String(),
		c.NumOrders, c.NextOrderVolume.String(), c.ProfitPercentage.String(), c.PriceChangePercentage.String(),
		c.Symbol, c.Exchange, c.Price.String(), c.Quantity.String(), string(c.Status),
		c.CreatedAt.UTC().Format(time.RFC3339Nano), c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert cycle: %w", err)
	}
	return nil
}

func updateCycle(ctx context.Context, q execer, c *core.TradingCycle) error {
	_, err := q.ExecContext(ctx, `
		UPDATE trading_cycles SET
			price=?, quantity=?, status=?, updated_at=?
		WHERE id=?`,
		c.Price.String(), c.Quantity.String(), string(c.Status), time.Now().UTC().Format(time.RFC3339Nano),
		c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("store: update cycle: %w", err)
	}
	return nil
}

func scanCycle(row interface{ Scan(...any) error }) (*core.TradingCycle, error) {
	var c core.TradingCycle
	var id, botID string
	var amount, gridLength, firstOrderOffset, nextOrderVolume, profitPct, priceChangePct, price, quantity string
	var status, createdAt, updatedAt string

	err := row.Scan(
		&id, &botID, &amount, &gridLength, &firstOrderOffset, &c.NumOrders, &nextOrderVolume,
		&profitPct, &priceChangePct, &c.Symbol, &c.Exchange, &price, &quantity, &status,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = parseUUID(id)
	c.BotID = parseUUID(botID)
	c.Amount = parseDecimal(amount)
	c.GridLength = parseDecimal(gridLength)
	c.FirstOrderOffset = parseDecimal(firstOrderOffset)
	c.NextOrderVolume = parseDecimal(nextOrderVolume)
	c.ProfitPercentage = parseDecimal(profitPct)
	c.PriceChangePercentage = parseDecimal(priceChangePct)
	c.Price = parseDecimal(price)
	c.Quantity = parseDecimal(quantity)
	c.Status = core.CycleStatus(status)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func getCycle(ctx context.Context, q execer, id string) (*core.TradingCycle, error) {
	row := q.QueryRowContext(ctx, "SELECT "+cycleColumns+" FROM trading_cycles WHERE id=?", id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: cycle %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cycle: %w", err)
	}
	return c, nil
}

func getActiveCycle(ctx context.Context, q execer, botID string) (*core.TradingCycle, error) {
	row := q.QueryRowContext(ctx, "SELECT "+cycleColumns+" FROM trading_cycles WHERE bot_id=? AND status='ACTIVE'", botID)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get active cycle: %w", err)
	}
	return c, nil
}

func listCycles(ctx context.Context, q execer, botID string) ([]*core.TradingCycle, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+cycleColumns+" FROM trading_cycles WHERE bot_id=? ORDER BY created_at", botID)
	if err != nil {
		return nil, fmt.Errorf("store: list cycles: %w", err)
	}
	defer rows.Close()

	var out []*core.TradingCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCycle persists a new cycle. The partial unique index on
// trading_cycles(bot_id) WHERE status='ACTIVE' rejects this at the SQL
// layer if the bot already has an active cycle (spec §3 invariant).
func (s *Store) CreateCycle(ctx context.Context, c *core.TradingCycle) error {
	return insertCycle(ctx, s.db, c)
}

// GetActiveCycle returns the bot's ACTIVE cycle, or nil if it has none.
func (s *Store) GetActiveCycle(ctx context.Context, botID string) (*core.TradingCycle, error) {
	return getActiveCycle(ctx, s.db, botID)
}

// GetCycle loads one cycle by its own ID, regardless of status.
func (s *Store) GetCycle(ctx context.Context, id string) (*core.TradingCycle, error) {
	return getCycle(ctx, s.db, id)
}

// ListCycles returns every cycle ever created for botID, oldest first.
func (s *Store) ListCycles(ctx context.Context, botID string) ([]*core.TradingCycle, error) {
	return listCycles(ctx, s.db, botID)
}

// UpdateCycle persists changes to an existing cycle outside of any
// caller-managed unit of work.
func (s *Store) UpdateCycle(ctx context.Context, c *core.TradingCycle) error {
	return updateCycle(ctx, s.db, c)
}

func (u *UnitOfWork) CreateCycle(ctx context.Context, c *core.TradingCycle) error {
	return insertCycle(ctx, u.tx, c)
}

func (u *UnitOfWork) GetActiveCycle(ctx context.Context, botID string) (*core.TradingCycle, error) {
	return getActiveCycle(ctx, u.tx, botID)
}

func (u *UnitOfWork) UpdateCycle(ctx context.Context, c *core.TradingCycle) error {
	return updateCycle(ctx, u.tx, c)
}

// --- Orders ---------------------------------------------------------------

const orderColumns = `id, cycle_id, exchange_order_id, side, type, time_in_force,
	price, quantity, quantity_filled, status, number, exchange_order_data, created_at, updated_at`

func insertOrder(ctx context.Context, q execer, o *core.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (
			id, cycle_id, exchange_order_id, side, type, time_in_force,
			price, quantity, quantity_filled, status, number, exchange_order_data,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID.String(), o.CycleID.String(), o.ExchangeOrderID, string(o.Side), o.Type, o.TimeInForce,
		o.Price.String(), o.Quantity.String(), o.QuantityFilled.String(), string(o.Status), o.Number, o.ExchangeOrderData,
		o.CreatedAt.UTC().Format(time.RFC3339Nano), o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}
	return nil
}

func updateOrder(ctx context.Context, q execer, o *core.Order) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders SET
			exchange_order_id=?, quantity_filled=?, status=?, exchange_order_data=?, updated_at=?
		WHERE id=?`,
		o.ExchangeOrderID, o.QuantityFilled.String(), string(o.Status), o.ExchangeOrderData,
		time.Now().UTC().Format(time.RFC3339Nano), o.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*core.Order, error) {
	var o core.Order
	var id, cycleID string
	var side, typ, tif string
	var price, quantity, quantityFilled string
	var status string
	var createdAt, updatedAt string

	err := row.Scan(
		&id, &cycleID, &o.ExchangeOrderID, &side, &typ, &tif,
		&price, &quantity, &quantityFilled, &status, &o.Number, &o.ExchangeOrderData,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.ID = parseUUID(id)
	o.CycleID = parseUUID(cycleID)
	o.Side = core.OrderSide(side)
	o.Type = typ
	o.TimeInForce = tif
	o.Price = parseDecimal(price)
	o.Quantity = parseDecimal(quantity)
	o.QuantityFilled = parseDecimal(quantityFilled)
	o.Status = core.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func listOrders(ctx context.Context, q execer, cycleID string, where string, args ...any) ([]*core.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE cycle_id=?"
	params := append([]any{cycleID}, args...)
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY number"

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: list orders: %w", err)
	}
	defer rows.Close()

	var out []*core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func getOrderByExchangeID(ctx context.Context, q execer, cycleID string, exchangeOrderID int64) (*core.Order, error) {
	row := q.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE cycle_id=? AND exchange_order_id=?", cycleID, exchangeOrderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order by exchange id: %w", err)
	}
	return o, nil
}

// CreateOrder persists a new order row.
func (s *Store) CreateOrder(ctx context.Context, o *core.Order) error {
	return insertOrder(ctx, s.db, o)
}

// ListOrdersByCycle returns every order belonging to cycleID, ordered by its
// per-cycle number.
func (s *Store) ListOrdersByCycle(ctx context.Context, cycleID string) ([]*core.Order, error) {
	return listOrders(ctx, s.db, cycleID, "")
}

// UpdateOrder persists changes to an existing order outside of any
// caller-managed unit of work.
func (s *Store) UpdateOrder(ctx context.Context, o *core.Order) error {
	return updateOrder(ctx, s.db, o)
}

// ListOrdersByCycleAndStatus filters to orders in a given status.
func (s *Store) ListOrdersByCycleAndStatus(ctx context.Context, cycleID string, status core.OrderStatus) ([]*core.Order, error) {
	return listOrders(ctx, s.db, cycleID, "status=?", string(status))
}

// ListOrdersByCycleAndSide filters to orders on a given side (BUY/SELL).
func (s *Store) ListOrdersByCycleAndSide(ctx context.Context, cycleID string, side core.OrderSide) ([]*core.Order, error) {
	return listOrders(ctx, s.db, cycleID, "side=?", string(side))
}

// GetOrderByExchangeID looks up the order placed for a given exchange order
// ID within one cycle, or nil if none exists (used when reconciling
// execution reports for orders this process may not have created, spec §4.4).
func (s *Store) GetOrderByExchangeID(ctx context.Context, cycleID string, exchangeOrderID int64) (*core.Order, error) {
	return getOrderByExchangeID(ctx, s.db, cycleID, exchangeOrderID)
}

func (u *UnitOfWork) CreateOrder(ctx context.Context, o *core.Order) error {
	return insertOrder(ctx, u.tx, o)
}

func (u *UnitOfWork) UpdateOrder(ctx context.Context, o *core.Order) error {
	return updateOrder(ctx, u.tx, o)
}

// ListOrdersByCycle returns every order belonging to cycleID, ordered by its
// per-cycle number.
func (u *UnitOfWork) ListOrdersByCycle(ctx context.Context, cycleID string) ([]*core.Order, error) {
	return listOrders(ctx, u.tx, cycleID, "")
}

// ListOrdersByCycleAndStatus filters to orders in a given status.
func (u *UnitOfWork) ListOrdersByCycleAndStatus(ctx context.Context, cycleID string, status core.OrderStatus) ([]*core.Order, error) {
	return listOrders(ctx, u.tx, cycleID, "status=?", string(status))
}

// ListOrdersByCycleAndSide filters to orders on a given side (BUY/SELL).
func (u *UnitOfWork) ListOrdersByCycleAndSide(ctx context.Context, cycleID string, side core.OrderSide) ([]*core.Order, error) {
	return listOrders(ctx, u.tx, cycleID, "side=?", string(side))
}

// GetOrderByExchangeID looks up the order placed for a given exchange order
// ID within one cycle, or nil if none exists (used when reconciling
// execution reports for orders this process may not have created, spec §4.4).
func (u *UnitOfWork) GetOrderByExchangeID(ctx context.Context, cycleID string, exchangeOrderID int64) (*core.Order, error) {
	return getOrderByExchangeID(ctx, u.tx, cycleID, exchangeOrderID)
}

// --- helpers ------------------------------------------------------------

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
