package gridcore

import "github.com/shopspring/decimal"

var (
	zeroPointNinetyFour = decimal.NewFromFloat(0.94)
	oneOhFive           = decimal.NewFromFloat(1.05)
	zeroPointNinetyFive = decimal.NewFromFloat(0.95)
	halfX               = decimal.NewFromFloat(0.5)
	twoX                = decimal.NewFromInt(2)
	pointTwo            = decimal.NewFromFloat(0.20)
	fiveX               = decimal.NewFromInt(5)
)

// RiskMultiplierConfig bounds the liquidation-ratio and margin thresholds
// that drive PositionRiskManager's size multipliers.
type RiskMultiplierConfig struct {
	MinLiqRatio                     decimal.Decimal
	MaxLiqRatio                     decimal.Decimal
	MaxMargin                       decimal.Decimal
	MinTotalMargin                  decimal.Decimal
	IncreaseSamePositionOnLowMargin bool
}

// AmountMultipliers holds the Buy/Sell size multipliers for one direction's
// next grid-level order. Both default to 1 (no adjustment).
type AmountMultipliers struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// PositionRiskManager derives per-direction order-size multipliers from
// liquidation risk and the long/short margin balance, so the grid leans
// away from a position approaching liquidation and toward a position that
// has fallen too small relative to its opposite side.
type PositionRiskManager struct {
	direction       Direction
	config          RiskMultiplierConfig
	PositionRatio   decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
}

// NewPositionRiskManager constructs a manager for one direction (long or
// short); it always reasons about its own direction's position against the
// opposite direction's, supplied per call.
func NewPositionRiskManager(direction Direction, config RiskMultiplierConfig) *PositionRiskManager {
	return &PositionRiskManager{
		direction:        direction,
		config:           config,
		PositionRatio:    decimal.NewFromInt(1),
		UnrealizedPnLPct: decimal.Zero,
	}
}

// CalculateAmountMultiplier derives Buy/Sell multipliers for this
// direction's position against the opposite direction's, at the given
// market price. An unopened position (zero entry price) always returns the
// neutral 1/1 multiplier.
func (m *PositionRiskManager) CalculateAmountMultiplier(
	position, opposite PositionState,
	lastClose decimal.Decimal,
) AmountMultipliers {
	mult := AmountMultipliers{Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)}

	if position.AvgEntryPrice.IsZero() {
		return mult
	}

	entry := position.AvgEntryPrice
	leverage := decimal.NewFromInt(1) // leverage is tracked by the caller's margin snapshot, not here

	if m.direction == DirectionLong {
		m.UnrealizedPnLPct = UnrealizedPnLPercent(DirectionLong, entry, lastClose, leverage)
	} else {
		m.UnrealizedPnLPct = UnrealizedPnLPercent(DirectionShort, entry, lastClose, leverage)
	}

	liqRatio := liquidationRatio(position.LiquidationPrice, lastClose)

	oppositeMargin := opposite.InitialMargin
	if oppositeMargin.IsZero() {
		oppositeMargin = decimal.NewFromFloat(0.0001)
	}
	m.PositionRatio = position.InitialMargin.Div(oppositeMargin)

	totalMargin := position.InitialMargin.Add(opposite.InitialMargin)
	isPositionEqual := m.PositionRatio.GreaterThan(zeroPointNinetyFour) && m.PositionRatio.LessThan(oneOhFive)

	if m.direction == DirectionLong {
		m.applyLongRules(&mult, liqRatio, isPositionEqual, totalMargin)
	} else {
		m.applyShortRules(&mult, liqRatio, isPositionEqual, totalMargin)
	}

	return mult
}

func (m *PositionRiskManager) applyLongRules(mult *AmountMultipliers, liqRatio decimal.Decimal, isPositionEqual bool, totalMargin decimal.Decimal) {
	switch {
	case liqRatio.GreaterThan(oneOhFive.Mul(m.config.MinLiqRatio)):
		mult.Sell = decimal.NewFromFloat(1.5)
	case liqRatio.GreaterThan(m.config.MinLiqRatio):
		mult.Buy = halfX
	case isPositionEqual && totalMargin.LessThan(m.config.MinTotalMargin):
		m.adjustForLowMargin(mult)
	case m.PositionRatio.LessThan(halfX) && m.UnrealizedPnLPct.IsNegative():
		mult.Buy = twoX
	case m.PositionRatio.LessThan(pointTwo):
		mult.Buy = twoX
	}
}

func (m *PositionRiskManager) applyShortRules(mult *AmountMultipliers, liqRatio decimal.Decimal, isPositionEqual bool, totalMargin decimal.Decimal) {
	switch {
	case liqRatio.IsPositive() && liqRatio.LessThan(zeroPointNinetyFive.Mul(m.config.MaxLiqRatio)):
		mult.Buy = decimal.NewFromFloat(1.5)
	case liqRatio.IsPositive() && liqRatio.LessThan(m.config.MaxLiqRatio):
		mult.Sell = halfX
	case isPositionEqual && totalMargin.LessThan(m.config.MinTotalMargin):
		m.adjustForLowMargin(mult)
	case m.PositionRatio.GreaterThan(twoX) && m.UnrealizedPnLPct.IsNegative():
		mult.Sell = twoX
	case m.PositionRatio.GreaterThan(fiveX):
		mult.Sell = twoX
	}
}

func (m *PositionRiskManager) adjustForLowMargin(mult *AmountMultipliers) {
	if m.config.IncreaseSamePositionOnLowMargin {
		if m.direction == DirectionLong {
			mult.Buy = twoX
		} else {
			mult.Sell = twoX
		}
		return
	}
	if m.direction == DirectionLong {
		mult.Sell = halfX
	} else {
		mult.Buy = halfX
	}
}

// liquidationRatio is liqPrice/lastClose, a dimensionless measure of how
// close the current price is to triggering liquidation.
func liquidationRatio(liqPrice, lastClose decimal.Decimal) decimal.Decimal {
	if lastClose.IsZero() {
		return decimal.Zero
	}
	return liqPrice.Div(lastClose)
}
