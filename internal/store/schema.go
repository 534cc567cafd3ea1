package store

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS bots (
	id                        TEXT PRIMARY KEY,
	name                      TEXT NOT NULL,
	api_key                   TEXT NOT NULL,
	api_secret                TEXT NOT NULL,
	exchange                  TEXT NOT NULL,
	symbol                    TEXT NOT NULL,
	amount                    TEXT NOT NULL,
	grid_length               TEXT NOT NULL,
	first_order_offset        TEXT NOT NULL,
	num_orders                INTEGER NOT NULL,
	next_order_volume         TEXT NOT NULL,
	profit_percentage         TEXT NOT NULL,
	price_change_percentage   TEXT NOT NULL,
	upper_price_limit         TEXT NOT NULL DEFAULT '0',
	partial_num_orders        INTEGER NOT NULL DEFAULT 0,
	is_active                 INTEGER NOT NULL,
	status                    TEXT NOT NULL,
	created_at                TEXT NOT NULL,
	updated_at                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trading_cycles (
	id                        TEXT PRIMARY KEY,
	bot_id                    TEXT NOT NULL REFERENCES bots(id),
	amount                    TEXT NOT NULL,
	grid_length               TEXT NOT NULL,
	first_order_offset        TEXT NOT NULL,
	num_orders                INTEGER NOT NULL,
	next_order_volume         TEXT NOT NULL,
	profit_percentage         TEXT NOT NULL,
	price_change_percentage   TEXT NOT NULL,
	symbol                    TEXT NOT NULL,
	exchange                  TEXT NOT NULL,
	price                     TEXT NOT NULL,
	quantity                  TEXT NOT NULL,
	status                    TEXT NOT NULL,
	created_at                TEXT NOT NULL,
	updated_at                TEXT NOT NULL
);

-- (I) at most one ACTIVE cycle per bot, enforced as a schema constraint
-- rather than only in application code (spec §3 invariant, §6 persistence
-- contract).
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_cycle_per_bot
	ON trading_cycles(bot_id)
	WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS orders (
	id                   TEXT PRIMARY KEY,
	cycle_id             TEXT NOT NULL REFERENCES trading_cycles(id),
	exchange_order_id    INTEGER NOT NULL DEFAULT 0,
	side                 TEXT NOT NULL,
	type                 TEXT NOT NULL,
	time_in_force        TEXT NOT NULL,
	price                TEXT NOT NULL,
	quantity             TEXT NOT NULL,
	quantity_filled      TEXT NOT NULL,
	status               TEXT NOT NULL,
	number               INTEGER NOT NULL,
	exchange_order_data  TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders(cycle_id);
CREATE INDEX IF NOT EXISTS idx_orders_cycle_status ON orders(cycle_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_cycle_side ON orders(cycle_id, side);
CREATE INDEX IF NOT EXISTS idx_orders_exchange_order_id ON orders(cycle_id, exchange_order_id);
`
