package core

import "errors"

// Error taxonomy shared by the gateway, the state machine and the admin
// layer (spec §7). Call sites wrap a sentinel with fmt.Errorf("...: %w", ...)
// so errors.Is still matches the category.
var (
	// ErrValidation means the exchange rejected a request outright (bad
	// notional, step size, percent-price filter). The failing operation
	// aborts; persisted state is left exactly as it was before the call.
	ErrValidation = errors.New("validation")

	// ErrTransient means network, 5xx, or timeout. The gateway retries
	// internally with backoff; if it still surfaces here the caller logs
	// and defers to the next tick or reconcile pass.
	ErrTransient = errors.New("transient")

	// ErrAlreadyTerminal marks cancel/get of an unknown or already-finalized
	// order. CancelOrder folds it into a CANCELED success; GetOrder returns
	// it to the caller.
	ErrAlreadyTerminal = errors.New("already terminal")

	// ErrInvariant means a state-machine precondition failed (e.g. a
	// second ACTIVE cycle, or a grid that would exceed UpperPriceLimit).
	// Fatal for the calling operation only; surfaces as an admin error.
	ErrInvariant = errors.New("invariant violation")

	// ErrFatal means credential rejection or corrupt persisted state. It is
	// returned to the caller like any other error; no code path releases
	// the bot's pipeline or changes its status because of it.
	ErrFatal = errors.New("fatal")

	// ErrCycleBudgetExhausted is returned by grid sizing when a cycle's
	// remaining budget (amount minus already-spent) is non-positive.
	ErrCycleBudgetExhausted = errors.New("cycle budget exhausted")
)
