// Package statemachine classifies a health factor into a borrower state
// band and describes the resulting transition.
package statemachine

import (
	"math"

	"github.com/liqguard/liquidator/internal/domain"
)

// Bands holds the three configured boundaries. Validation elsewhere
// enforces Watch > Critical > Liquidatable.
type Bands struct {
	Watch        float64
	Critical     float64
	Liquidatable float64
}

// Classify is a pure function of hf and the configured bands, total over
// the non-negative reals union {+Inf}.
//
//	LIQUIDATABLE if hf <= Liquidatable
//	CRITICAL     if Liquidatable < hf <= Critical
//	WATCH        if Critical < hf <= Watch
//	SAFE         otherwise (including hf = +Inf)
func Classify(hf float64, bands Bands) domain.BorrowerState {
	switch {
	case hf <= bands.Liquidatable:
		return domain.StateLiquidatable
	case hf <= bands.Critical:
		return domain.StateCritical
	case hf <= bands.Watch:
		return domain.StateWatch
	default:
		return domain.StateSafe
	}
}

// IsInf reports whether hf is the sentinel used for zero-debt borrowers.
func IsInf(hf float64) bool {
	return math.IsInf(hf, 1)
}

// ClearsCache reports whether moving from `from` to `to` must clear a
// borrower's cached transaction: any transition out of {CRITICAL,
// LIQUIDATABLE} into {SAFE, WATCH}.
func ClearsCache(from, to domain.BorrowerState) bool {
	wasActive := from == domain.StateCritical || from == domain.StateLiquidatable
	isActive := to == domain.StateCritical || to == domain.StateLiquidatable
	return wasActive && !isActive
}
