package gridcore

import (
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/money"
)

// QtyCalculator supplies the order size for a place intent, given the
// current wallet balance. Implementations may use a fixed USDT notional, a
// wallet-balance fraction, or a base-coin equivalent; a zero or negative
// rounded result suppresses placement entirely.
type QtyCalculator interface {
	CalculateQty(intent PlaceLimitIntent, walletBalance decimal.Decimal) decimal.Decimal
}

// IntentEngine drives one Grid for one (strat_id, symbol, direction) triple,
// diffing desired levels against observed open orders each tick and
// emitting PlaceLimitIntent / CancelIntent. For direction=long, Buy levels
// open the position and Sell levels reduce it (reduce_only); for
// direction=short the roles invert.
type IntentEngine struct {
	StratID   string
	Symbol    string
	Direction Direction

	Grid *Grid
	Qty  QtyCalculator

	// MaxOpenOrdersSlack bounds how far observed order count may exceed
	// GridCount before the engine forces a full rebuild via cancels.
	MaxOpenOrdersSlack int
}

// NewIntentEngine constructs an engine with the spec-default 10-order slack.
func NewIntentEngine(stratID, symbol string, direction Direction, grid *Grid, qty QtyCalculator) *IntentEngine {
	return &IntentEngine{
		StratID:            stratID,
		Symbol:             symbol,
		Direction:          direction,
		Grid:               grid,
		Qty:                qty,
		MaxOpenOrdersSlack: 10,
	}
}

// Tick runs one pass of the algorithm: build-if-empty, force-rebuild if
// order count has run away, update the grid for the latest fill/price, then
// diff levels against observed orders. lastFilledPrice may be nil if no
// fill has occurred yet this run.
func (e *IntentEngine) Tick(
	lastClose decimal.Decimal,
	lastFilledPrice *decimal.Decimal,
	observed []ObservedOrder,
	walletBalance decimal.Decimal,
) (places []PlaceLimitIntent, cancels []CancelIntent) {
	if e.Grid.Empty() {
		e.Grid.BuildGrid(lastClose)
	}

	if len(observed) > e.Grid.GridCount()+e.MaxOpenOrdersSlack {
		log.Warn().
			Str("strat_id", e.StratID).
			Str("symbol", e.Symbol).
			Int("observed", len(observed)).
			Msg("observed order count exceeds grid bound, forcing rebuild")
		for _, o := range observed {
			cancels = append(cancels, CancelIntent{Symbol: e.Symbol, OrderID: o.OrderID, Reason: "order_count_runaway"})
		}
		return places, cancels
	}

	e.Grid.UpdateGrid(lastFilledPrice, &lastClose)

	byPrice := make(map[string]ObservedOrder, len(observed))
	for _, o := range observed {
		byPrice[o.Price.String()] = o
	}

	levels := e.orderedLevels(lastClose)
	seenPrices := make(map[string]bool, len(levels))

	for _, lvl := range levels {
		if lvl.Side == SideWait {
			continue
		}
		seenPrices[lvl.Price.String()] = true

		clientOrderID := money.ClientOrderID(e.StratID, e.Symbol, string(lvl.Side), gridLevelIndex(lvl), lvl.Price, string(e.Direction))

		if existing, ok := byPrice[lvl.Price.String()]; ok {
			if existing.Side != lvl.Side {
				cancels = append(cancels, CancelIntent{Symbol: e.Symbol, OrderID: existing.OrderID, Reason: "side_mismatch"})
			}
			continue
		}

		if e.tooCloseToPrice(lvl.Price, lastClose) {
			continue
		}
		if !e.onCorrectSideOfPrice(lvl, lastClose) {
			continue
		}

		reduceOnly := !IsOpening(e.Direction, lvl.Side)
		intent := PlaceLimitIntent{
			Symbol:        e.Symbol,
			Side:          lvl.Side,
			Price:         lvl.Price,
			GridLevel:     gridLevelIndex(lvl),
			Direction:     e.Direction,
			ClientOrderID: clientOrderID,
			ReduceOnly:    reduceOnly,
		}

		qty := decimal.Zero
		if e.Qty != nil {
			qty = e.Qty.CalculateQty(intent, walletBalance)
		}
		if !qty.IsPositive() {
			continue
		}
		intent.Qty = qty

		places = append(places, intent)
	}

	for _, o := range observed {
		if !seenPrices[o.Price.String()] {
			cancels = append(cancels, CancelIntent{Symbol: e.Symbol, OrderID: o.OrderID, Reason: "stale_level"})
		}
	}

	return places, cancels
}

// orderedLevels returns the grid's levels ordered by distance from the
// Wait center, then by price, matching the spec's placement priority.
func (e *IntentEngine) orderedLevels(lastClose decimal.Decimal) []GridLevel {
	levels := e.Grid.Levels()
	center := lastClose
	if anchor, ok := e.Grid.AnchorPrice(); ok {
		center = anchor
	}

	sorted := make([]GridLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		di := sorted[i].Price.Sub(center).Abs()
		dj := sorted[j].Price.Sub(center).Abs()
		if di.Equal(dj) {
			return sorted[i].Price.LessThan(sorted[j].Price)
		}
		return di.LessThan(dj)
	})
	return sorted
}

// tooCloseToPrice mirrors the grid's own near-fill cooldown check, but at
// half the step instead of a quarter, per the intent-placement rule.
func (e *IntentEngine) tooCloseToPrice(levelPrice, lastClose decimal.Decimal) bool {
	if levelPrice.IsZero() {
		return false
	}
	diff := levelPrice.Sub(lastClose).Abs()
	pct := diff.Div(levelPrice).Mul(hundred)
	return pct.LessThanOrEqual(e.Grid.StepPercent().Div(decimal.NewFromInt(2)))
}

// onCorrectSideOfPrice rejects placing a Buy above current price or a Sell
// below it, which would cross the book rather than rest.
func (e *IntentEngine) onCorrectSideOfPrice(lvl GridLevel, lastClose decimal.Decimal) bool {
	switch lvl.Side {
	case SideBuy:
		return lvl.Price.LessThan(lastClose)
	case SideSell:
		return lvl.Price.GreaterThan(lastClose)
	default:
		return true
	}
}

// gridLevelIndex derives a stable integer tag for a level from its side,
// used only as the client_order_id's grid_level component. Levels are
// otherwise addressed by price, which is the actual dedup/placement key.
func gridLevelIndex(lvl GridLevel) int {
	switch lvl.Side {
	case SideBuy:
		return -1
	case SideSell:
		return 1
	default:
		return 0
	}
}
