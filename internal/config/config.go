// Package config loads the engine's environment configuration and the
// per-symbol filter table (spec §6).
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the process-level settings spec §6 names.
type Config struct {
	DatabaseURL string

	// Fallback credentials for the balance/ticker admin views; per-bot
	// credentials always take precedence inside the trading core.
	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeTestnet   bool

	// Env is "development" | "production"; development switches on
	// verbose event logging.
	Env string
}

// Load reads the spec §6 environment variables. DatabaseURL is required;
// everything else has a safe zero value.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
		ExchangeTestnet:   os.Getenv("EXCHANGE_TESTNET") == "true",
		Env:               os.Getenv("ENV"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

// IsDevelopment reports whether verbose event logging should be enabled.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SymbolFilter is the exchange's per-symbol tick/step/notional rules that
// grid math rounds and validates against.
type SymbolFilter struct {
	Symbol      string          `yaml:"symbol"`
	QtyStep     decimal.Decimal `yaml:"qty_step"`
	PriceTick   decimal.Decimal `yaml:"price_tick"`
	MinNotional decimal.Decimal `yaml:"min_notional"`
}

// SymbolFilterTable indexes SymbolFilter by symbol.
type SymbolFilterTable map[string]SymbolFilter

// DefaultSymbolFilters returns the seed rows from spec §6's table. This is
// the fallback used whenever no YAML override file is supplied, and is
// always merged underneath one.
func DefaultSymbolFilters() SymbolFilterTable {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	rows := []SymbolFilter{
		{Symbol: "BTCUSDT", QtyStep: d("0.00001"), PriceTick: d("0.01"), MinNotional: d("5")},
		{Symbol: "ETHUSDT", QtyStep: d("0.0001"), PriceTick: d("0.01"), MinNotional: d("5")},
		{Symbol: "PEPEUSDT", QtyStep: d("0.00000001"), PriceTick: d("0.00000001"), MinNotional: d("1")},
	}
	table := make(SymbolFilterTable, len(rows))
	for _, r := range rows {
		table[r.Symbol] = r
	}
	return table
}

// LoadSymbolFilters reads a YAML list of filters from path and overlays it
// on top of DefaultSymbolFilters, so operators only need to list symbols
// that differ from or extend the defaults.
func LoadSymbolFilters(path string) (SymbolFilterTable, error) {
	table := DefaultSymbolFilters()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read symbol filters: %w", err)
	}

	var rows []SymbolFilter
	if err := yaml.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("config: parse symbol filters: %w", err)
	}

	for _, r := range rows {
		table[r.Symbol] = r
	}
	return table, nil
}

// Lookup returns the filter for symbol, or an error if none is configured.
func (t SymbolFilterTable) Lookup(symbol string) (SymbolFilter, error) {
	f, ok := t[symbol]
	if !ok {
		return SymbolFilter{}, fmt.Errorf("config: no symbol filter configured for %s", symbol)
	}
	return f, nil
}
