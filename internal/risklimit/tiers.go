package risklimit

import (
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// infiniteNotional stands in for the exchange's unbounded final tier.
// decimal.Decimal has no infinity value, so every tier table's last rung
// uses this instead; SelectTier still falls through to it for any
// position value, since it is the final element.
var infiniteNotional = decimal.New(1, 15)

func tier(maxNotional, mmr, deduction, imr string) gridcore.RiskLimitTier {
	return gridcore.RiskLimitTier{
		MaxNotional: decimal.RequireFromString(maxNotional),
		MMRRate:     decimal.RequireFromString(mmr),
		MMDeduction: decimal.RequireFromString(deduction),
		IMRRate:     decimal.RequireFromString(imr),
	}
}

// HardcodedTiers returns the built-in fallback table for symbol, used when
// both the API and the cache are unavailable. Known symbols get a
// dedicated table; everything else gets DefaultTiers.
func HardcodedTiers(symbol string) []gridcore.RiskLimitTier {
	if t, ok := hardcodedBySymbol[symbol]; ok {
		return t
	}
	return DefaultTiers()
}

// DefaultTiers is the fallback used for any symbol without a dedicated
// hardcoded table.
func DefaultTiers() []gridcore.RiskLimitTier {
	out := make([]gridcore.RiskLimitTier, len(defaultTiers))
	copy(out, defaultTiers)
	return out
}

var hardcodedBySymbol = map[string][]gridcore.RiskLimitTier{
	"BTCUSDT": btcusdtTiers,
}

// btcusdtTiers is the 7-rung table Bybit publishes for BTCUSDT perpetual
// linear contracts: tighter margin requirements at low notional, widening
// as position size grows.
var btcusdtTiers = []gridcore.RiskLimitTier{
	tier("50000", "0.004", "0", "0.01"),
	tier("200000", "0.005", "50", "0.0125"),
	tier("500000", "0.01", "1050", "0.025"),
	tier("1000000", "0.015", "3550", "0.05"),
	tier("2000000", "0.025", "13550", "0.1"),
	tier("4000000", "0.05", "63550", "0.125"),
	{MaxNotional: infiniteNotional, MMRRate: decimal.RequireFromString("0.1"), MMDeduction: decimal.RequireFromString("413550"), IMRRate: decimal.RequireFromString("0.15")},
}

// defaultTiers is the 5-rung table applied to symbols without a dedicated
// entry — shorter ladder, wider margin requirements throughout, matching a
// more conservative altcoin-perpetual risk schedule.
var defaultTiers = []gridcore.RiskLimitTier{
	tier("50000", "0.01", "0", "0.02"),
	tier("250000", "0.015", "250", "0.05"),
	tier("1000000", "0.025", "2750", "0.1"),
	tier("5000000", "0.05", "27750", "0.2"),
	{MaxNotional: infiniteNotional, MMRRate: decimal.RequireFromString("0.1"), MMDeduction: decimal.RequireFromString("277750"), IMRRate: decimal.RequireFromString("0.25")},
}
