package gateway

import (
	"errors"
	"fmt"

	"gridbot/internal/core"
)

// classifyBinanceError maps a Binance-shaped error code (spec §7 taxonomy)
// onto the shared core error sentinels, mirroring the teacher's
// binancespot.parseError switch.
func classifyBinanceError(code int, msg string) error {
	switch code {
	case -2015, -1021:
		// API-key/signature rejection or clock skew far enough out of
		// bounds that the request could never have been valid.
		return fmt.Errorf("%w: %s", core.ErrFatal, msg)
	case -1013, -1111, -2010:
		// Filter rejection (step/notional/precision) or insufficient funds:
		// the request itself was invalid, not the venue being unavailable.
		return fmt.Errorf("%w: %s", core.ErrValidation, msg)
	case -2011:
		// "Unknown order" — cancel/get of an order the exchange no longer
		// knows about. Callers fold this into success.
		return fmt.Errorf("%w: %s", core.ErrAlreadyTerminal, msg)
	case -1003:
		return fmt.Errorf("%w: rate limit exceeded: %s", core.ErrTransient, msg)
	default:
		return fmt.Errorf("%w: exchange error %d: %s", core.ErrTransient, code, msg)
	}
}

// IsAlreadyTerminal reports whether err represents an "unknown order"
// response that callers should treat as a successful terminal state.
func IsAlreadyTerminal(err error) bool {
	return errors.Is(err, core.ErrAlreadyTerminal)
}
