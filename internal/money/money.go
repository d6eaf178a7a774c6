// Package money holds the fixed-point decimal helpers shared across the
// grid engine, position tracker, and risk-limit math. Nothing in this
// package ever touches float64 for a price, quantity, or PnL value.
package money

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	// Internal math keeps at least 18 fractional digits of working
	// precision; only display formatting rounds.
	decimal.DivisionPrecision = 24
}

// RoundToTick rounds price to the nearest multiple of tick, using
// round-half-to-even (banker's rounding) so a price landing exactly
// halfway between two ticks resolves the same way on every path.
// decimal.Round is round-half-away-from-zero; RoundBank is the library's
// actual half-to-even method.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	steps := price.Div(tick).RoundBank(0)
	return steps.Mul(tick)
}

// RoundUpToStep rounds qty up to the nearest multiple of step, matching
// the original's ceil(qty/step)*step quantity rounding.
func RoundUpToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	steps := qty.Div(step).Ceil()
	return steps.Mul(step)
}

// ClientOrderID derives the deterministic 16-hex-character identifier
// for a grid trading decision. Same (stratID, symbol, side, gridLevel,
// priceTickAligned, direction) always yields the same digest, byte for
// byte, regardless of which path (live, backtest, replay) computed it.
//
// price must already be rounded to the symbol's tick size by the caller
// so that pre-rounding float noise never perturbs the digest.
func ClientOrderID(stratID, symbol, side string, gridLevel int, priceTickAligned decimal.Decimal, direction string) string {
	// StringFixed (not String) so that two decimal.Decimal values holding
	// the same number at a different internal scale — e.g. one built by
	// division, one by multiplication — serialize identically. Mirrors
	// the reference implementation's f'{rounded:.10f}' formatting.
	priceStr := priceTickAligned.StringFixed(10)
	canonical := fmt.Sprintf("%s|%s|%s|%d|%s|%s", stratID, symbol, side, gridLevel, priceStr, direction)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}
