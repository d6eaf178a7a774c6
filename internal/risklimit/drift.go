package risklimit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// DriftField names one tier field a DriftReport entry flags.
type DriftField string

const (
	DriftFieldMaxNotional DriftField = "max_notional"
	DriftFieldMMRRate     DriftField = "mmr_rate"
	DriftFieldMMDeduction DriftField = "mm_deduction"
	DriftFieldIMRRate     DriftField = "imr_rate"
)

// DriftEntry is one tier-field mismatch between a hardcoded table and the
// corresponding API-fetched table.
type DriftEntry struct {
	Symbol        string
	TierIndex     int
	Field         DriftField
	Hardcoded     decimal.Decimal
	Fetched       decimal.Decimal
	RelativeDelta decimal.Decimal
}

// CheckDrift fetches symbol's live tiers and compares them tier-by-tier
// against the hardcoded table, flagging any field whose relative delta
// exceeds threshold (a fraction, e.g. 0.05 for 5%). It is an operational
// tool, not part of the runtime resolution chain: it always calls the
// fetcher directly, bypassing cache.
func CheckDrift(ctx context.Context, fetcher Fetcher, symbol string, threshold decimal.Decimal) ([]DriftEntry, error) {
	fetched, err := fetcher.FetchRiskLimit(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("risklimit: drift check fetch %q: %w", symbol, err)
	}

	hardcoded := HardcodedTiers(symbol)
	var entries []DriftEntry

	n := len(hardcoded)
	if len(fetched) < n {
		n = len(fetched)
	}

	for i := 0; i < n; i++ {
		entries = append(entries, compareTier(symbol, i, hardcoded[i], fetched[i], threshold)...)
	}

	return entries, nil
}

func compareTier(symbol string, index int, hc, fetched gridcore.RiskLimitTier, threshold decimal.Decimal) []DriftEntry {
	var entries []DriftEntry

	check := func(field DriftField, hcVal, fetchedVal decimal.Decimal) {
		if hcVal.GreaterThanOrEqual(infiniteNotional) || fetchedVal.GreaterThanOrEqual(infiniteNotional) {
			return
		}
		if hcVal.IsZero() && fetchedVal.IsZero() {
			return
		}
		base := hcVal
		if base.IsZero() {
			base = fetchedVal
		}
		delta := fetchedVal.Sub(hcVal).Abs().Div(base.Abs())
		if delta.GreaterThan(threshold) {
			entries = append(entries, DriftEntry{
				Symbol:        symbol,
				TierIndex:     index,
				Field:         field,
				Hardcoded:     hcVal,
				Fetched:       fetchedVal,
				RelativeDelta: delta,
			})
		}
	}

	check(DriftFieldMaxNotional, hc.MaxNotional, fetched.MaxNotional)
	check(DriftFieldMMRRate, hc.MMRRate, fetched.MMRRate)
	check(DriftFieldMMDeduction, hc.MMDeduction, fetched.MMDeduction)
	check(DriftFieldIMRRate, hc.IMRRate, fetched.IMRRate)

	return entries
}
