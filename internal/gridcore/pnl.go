package gridcore

import "github.com/shopspring/decimal"

// PositionValue is size * entry_price, notional exposure in quote currency.
func PositionValue(size, entryPrice decimal.Decimal) decimal.Decimal {
	return size.Mul(entryPrice)
}

// UnrealizedPnL is linear PnL: long = (current - entry) * size,
// short = (entry - current) * size.
func UnrealizedPnL(direction Direction, entry, current, size decimal.Decimal) decimal.Decimal {
	if direction == DirectionLong {
		return current.Sub(entry).Mul(size)
	}
	return entry.Sub(current).Mul(size)
}

// UnrealizedPnLPercent is the ROE formula: long = (1/entry - 1/current) *
// entry * 100 * leverage; short mirrors with entry/current swapped.
func UnrealizedPnLPercent(direction Direction, entry, current, leverage decimal.Decimal) decimal.Decimal {
	if entry.IsZero() || current.IsZero() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	var inverseDelta decimal.Decimal
	if direction == DirectionLong {
		inverseDelta = one.Div(entry).Sub(one.Div(current))
	} else {
		inverseDelta = one.Div(current).Sub(one.Div(entry))
	}
	return inverseDelta.Mul(entry).Mul(hundred).Mul(leverage)
}

// SelectTier picks the first tier whose MaxNotional is at least pv. tiers
// must be ordered ascending by MaxNotional, with the last tier's
// MaxNotional representing the uncapped ceiling. Returns the last tier if
// pv exceeds every bound (guards against a malformed table rather than
// panicking on an empty slice).
func SelectTier(tiers []RiskLimitTier, pv decimal.Decimal) RiskLimitTier {
	for _, t := range tiers {
		if t.MaxNotional.GreaterThanOrEqual(pv) {
			return t
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1]
	}
	return RiskLimitTier{}
}

// InitialMargin selects a tier for pv and returns (IM, effective IMR rate).
// The effective rate is the greater of the tier's IMR and 1/leverage.
func InitialMargin(pv, leverage decimal.Decimal, tiers []RiskLimitTier) (decimal.Decimal, decimal.Decimal) {
	tier := SelectTier(tiers, pv)
	imr := tier.IMRRate
	if leverage.IsPositive() {
		inverseLeverage := decimal.NewFromInt(1).Div(leverage)
		if inverseLeverage.GreaterThan(imr) {
			imr = inverseLeverage
		}
	}
	return pv.Mul(imr), imr
}

// MaintenanceMargin selects a tier for pv and returns (MM, tier MMR rate).
func MaintenanceMargin(pv decimal.Decimal, tiers []RiskLimitTier) (decimal.Decimal, decimal.Decimal) {
	tier := SelectTier(tiers, pv)
	mm := pv.Mul(tier.MMRRate).Sub(tier.MMDeduction)
	return mm, tier.MMRRate
}

// FundingSnapshot is size * mark * rate; longs pay (debit) when rate is
// positive, shorts receive (credit) the same magnitude.
func FundingSnapshot(direction Direction, size, markPrice, fundingRate decimal.Decimal) decimal.Decimal {
	if size.IsZero() {
		return decimal.Zero
	}
	amount := size.Mul(markPrice).Mul(fundingRate)
	if direction == DirectionLong {
		return amount.Neg()
	}
	return amount
}
