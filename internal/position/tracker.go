// Package position tracks one direction's size, weighted entry price, and
// realized/unrealized PnL, and caches its margin snapshot against a
// risk-limit tier table.
package position

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

var maxCommissionRate = decimal.NewFromFloat(0.01)
var maxFundingRateWarn = decimal.NewFromFloat(0.01)

// Tracker tracks one (direction, symbol) position across fills, exposing
// the pure gridcore math through a stateful accumulator the way the
// backtest driver and the live reconciler both need.
type Tracker struct {
	direction      gridcore.Direction
	symbol         string
	commissionRate decimal.Decimal
	leverage       decimal.Decimal
	tiers          []gridcore.RiskLimitTier

	state gridcore.PositionState
}

// New constructs a Tracker. commissionRate must be in [0, 0.01].
func New(direction gridcore.Direction, symbol string, commissionRate, leverage decimal.Decimal, tiers []gridcore.RiskLimitTier) (*Tracker, error) {
	if direction != gridcore.DirectionLong && direction != gridcore.DirectionShort {
		return nil, fmt.Errorf("position: direction must be long or short, got %q", direction)
	}
	if commissionRate.IsNegative() || commissionRate.GreaterThan(maxCommissionRate) {
		return nil, fmt.Errorf("position: commission rate %s outside expected range [0, 0.01]", commissionRate)
	}
	return &Tracker{
		direction:      direction,
		symbol:         symbol,
		commissionRate: commissionRate,
		leverage:       leverage,
		tiers:          tiers,
		state:          gridcore.PositionState{Direction: direction},
	}, nil
}

// State returns a snapshot of the tracker's current position state.
func (t *Tracker) State() gridcore.PositionState {
	return t.state
}

// HasPosition reports whether size is non-zero.
func (t *Tracker) HasPosition() bool {
	return t.state.Size.IsPositive()
}

// ProcessFill updates position size/entry/realized-PnL for one fill and
// returns the realized PnL this fill produced (zero if the fill opened or
// added to the position rather than reducing it).
func (t *Tracker) ProcessFill(side gridcore.Side, qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() || !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("position: invalid fill price=%s qty=%s", price, qty)
	}

	commission := qty.Mul(price).Mul(t.commissionRate)
	t.state.CommissionPaid = t.state.CommissionPaid.Add(commission)

	if gridcore.IsOpening(t.direction, side) {
		return t.addToPosition(qty, price), nil
	}
	return t.reducePosition(qty, price), nil
}

func (t *Tracker) addToPosition(qty, price decimal.Decimal) decimal.Decimal {
	oldSize := t.state.Size
	oldValue := oldSize.Mul(t.state.AvgEntryPrice)
	newValue := qty.Mul(price)

	t.state.Size = oldSize.Add(qty)
	if t.state.Size.IsPositive() {
		t.state.AvgEntryPrice = oldValue.Add(newValue).Div(t.state.Size)
	} else {
		t.state.AvgEntryPrice = decimal.Zero
	}
	return decimal.Zero
}

func (t *Tracker) reducePosition(qty, price decimal.Decimal) decimal.Decimal {
	if t.state.Size.IsZero() {
		return decimal.Zero
	}

	closeQty := qty
	if t.state.Size.LessThan(qty) {
		closeQty = t.state.Size
	}

	realized := gridcore.UnrealizedPnL(t.direction, t.state.AvgEntryPrice, price, closeQty)
	t.state.RealizedPnL = t.state.RealizedPnL.Add(realized)
	t.state.Size = t.state.Size.Sub(closeQty)

	if t.state.Size.IsZero() {
		t.state.AvgEntryPrice = decimal.Zero
	}
	return realized
}

// CalculateUnrealizedPnL computes and caches unrealized PnL and the margin
// snapshot (position value, IM/IMR, MM/MMR) at currentPrice.
func (t *Tracker) CalculateUnrealizedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	if t.state.Size.IsZero() {
		t.state.UnrealizedPnL = decimal.Zero
		t.resetMargin()
		return decimal.Zero
	}

	unrealized := gridcore.UnrealizedPnL(t.direction, t.state.AvgEntryPrice, currentPrice, t.state.Size)
	t.state.UnrealizedPnL = unrealized
	t.updateMargin()
	return unrealized
}

func (t *Tracker) updateMargin() {
	pv := gridcore.PositionValue(t.state.Size, t.state.AvgEntryPrice)
	t.state.PositionValue = pv

	im, imr := gridcore.InitialMargin(pv, t.leverage, t.tiers)
	t.state.InitialMargin = im
	t.state.IMRRate = imr

	mm, mmr := gridcore.MaintenanceMargin(pv, t.tiers)
	t.state.MaintenanceMargin = mm
	t.state.MMRRate = mmr
}

func (t *Tracker) resetMargin() {
	t.state.PositionValue = decimal.Zero
	t.state.InitialMargin = decimal.Zero
	t.state.IMRRate = decimal.Zero
	t.state.MaintenanceMargin = decimal.Zero
	t.state.MMRRate = decimal.Zero
}

// CalculateUnrealizedPnLPercent computes the ROE percentage. Unlike
// CalculateUnrealizedPnL it stores nothing on the tracker's state.
func (t *Tracker) CalculateUnrealizedPnLPercent(currentPrice, leverage decimal.Decimal) decimal.Decimal {
	if t.state.Size.IsZero() || currentPrice.IsZero() || t.state.AvgEntryPrice.IsZero() {
		return decimal.Zero
	}
	return gridcore.UnrealizedPnLPercent(t.direction, t.state.AvgEntryPrice, currentPrice, leverage)
}

// ApplyFunding credits/debits funding on the current notional and returns
// the payment amount (negative = paid, positive = received).
func (t *Tracker) ApplyFunding(rate, currentPrice decimal.Decimal) decimal.Decimal {
	if rate.Abs().GreaterThan(maxFundingRateWarn) {
		log.Warn().Str("symbol", t.symbol).Str("rate", rate.String()).Msg("unusually high funding rate")
	}
	if t.state.Size.IsZero() {
		return decimal.Zero
	}

	notional := t.state.Size.Mul(currentPrice)
	funding := notional.Mul(rate)

	var payment decimal.Decimal
	if t.direction == gridcore.DirectionLong {
		payment = funding.Neg()
	} else {
		payment = funding
	}

	t.state.FundingPaid = t.state.FundingPaid.Sub(payment)
	return payment
}

// GetTotalPnL is realized + unrealized - commission - funding.
func (t *Tracker) GetTotalPnL() decimal.Decimal {
	return t.state.RealizedPnL.
		Add(t.state.UnrealizedPnL).
		Sub(t.state.CommissionPaid).
		Sub(t.state.FundingPaid)
}
