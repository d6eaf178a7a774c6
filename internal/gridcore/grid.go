package gridcore

import (
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/money"
)

var (
	hundred = decimal.NewFromInt(100)
	four    = decimal.NewFromInt(4)
)

// Grid holds the ordered ladder of levels plus the persisted anchor price.
// It is not safe for concurrent use; callers serialize access per strategy
// the same way the intent engine drives it: one tick at a time.
type Grid struct {
	levels              []GridLevel
	tickSize            decimal.Decimal
	gridCount           int
	gridStepPct         decimal.Decimal // percent, e.g. 0.2 means 0.2%
	rebalanceThreshold  decimal.Decimal // fraction, e.g. 0.3 means 30%
	originalAnchorPrice *decimal.Decimal
}

// NewGrid constructs an empty Grid. gridStepPct is a percentage (0.2 = 0.2%);
// rebalanceThreshold is a fraction (0.3 = 30%).
func NewGrid(tickSize decimal.Decimal, gridCount int, gridStepPct, rebalanceThreshold decimal.Decimal) *Grid {
	return &Grid{
		tickSize:           tickSize,
		gridCount:          gridCount,
		gridStepPct:        gridStepPct,
		rebalanceThreshold: rebalanceThreshold,
	}
}

// Levels returns a snapshot of the current grid levels, in price order.
func (g *Grid) Levels() []GridLevel {
	out := make([]GridLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

// Empty reports whether the grid has never been built.
func (g *Grid) Empty() bool {
	return len(g.levels) == 0
}

// GridCount returns the configured number of non-Wait levels.
func (g *Grid) GridCount() int {
	return g.gridCount
}

// StepPercent returns the configured percent distance between levels
// (e.g. 0.2 for a 0.2% step).
func (g *Grid) StepPercent() decimal.Decimal {
	return g.gridStepPct
}

// TickSize returns the symbol's minimum price increment.
func (g *Grid) TickSize() decimal.Decimal {
	return g.tickSize
}

// AnchorPrice returns the original WAIT-zone center price the grid was built
// around, or false if the grid has never been built.
func (g *Grid) AnchorPrice() (decimal.Decimal, bool) {
	if g.originalAnchorPrice == nil {
		return decimal.Zero, false
	}
	return *g.originalAnchorPrice, true
}

// step returns grid_step as a fraction (e.g. 0.002 for a 0.2% step).
func (g *Grid) step() decimal.Decimal {
	return g.gridStepPct.Div(hundred)
}

func (g *Grid) roundPrice(price decimal.Decimal) decimal.Decimal {
	return money.RoundToTick(price, g.tickSize)
}

// BuildGrid (re)builds the grid centered on lastClose: half_grid Sell levels
// above, half_grid Buy levels below, one Wait level at the rounded center.
// A zero lastClose is a no-op, matching the falsy check in the reference.
func (g *Grid) BuildGrid(lastClose decimal.Decimal) {
	if lastClose.IsZero() {
		return
	}

	g.levels = nil
	halfGrid := g.gridCount / 2
	step := g.step()
	one := decimal.NewFromInt(1)

	roundedCenter := g.roundPrice(lastClose)
	anchor := roundedCenter
	g.originalAnchorPrice = &anchor

	levels := make([]GridLevel, 0, g.gridCount+1)
	levels = append(levels, GridLevel{Side: SideWait, Price: roundedCenter})

	price := lastClose
	for i := 0; i < halfGrid; i++ {
		price = g.roundPrice(price.Mul(one.Add(step)))
		levels = append(levels, GridLevel{Side: SideSell, Price: price})
	}

	price = lastClose
	buys := make([]GridLevel, halfGrid)
	for i := 0; i < halfGrid; i++ {
		price = g.roundPrice(price.Mul(one.Sub(step)))
		buys[i] = GridLevel{Side: SideBuy, Price: price}
	}
	// buys[0] is nearest the center (highest), buys[last] is furthest
	// (lowest); reverse so the final slice stays price-ascending.
	ascendingBuys := make([]GridLevel, halfGrid)
	for i, b := range buys {
		ascendingBuys[halfGrid-1-i] = b
	}

	g.levels = append(ascendingBuys, levels...)
}

func (g *Grid) rebuild(lastClose decimal.Decimal) {
	g.levels = nil
	g.BuildGrid(lastClose)
}

func (g *Grid) minMax() (min, max decimal.Decimal) {
	min, max = g.levels[0].Price, g.levels[0].Price
	for _, l := range g.levels {
		if l.Price.LessThan(min) {
			min = l.Price
		}
		if l.Price.GreaterThan(max) {
			max = l.Price
		}
	}
	return min, max
}

// UpdateGrid is called after a fill. It rebuilds out-of-bounds, reassigns
// every level's side relative to lastClose (marking near-fill levels Wait
// as a re-fill cooldown), then rebalances on imbalance. Nil arguments are a
// no-op, matching the reference's None-guard semantics.
func (g *Grid) UpdateGrid(lastFilledPrice, lastClose *decimal.Decimal) {
	if lastFilledPrice == nil || lastClose == nil {
		return
	}

	if g.Empty() {
		g.rebuild(*lastClose)
	} else {
		min, max := g.minMax()
		// Exactly at min or max does not trigger a rebuild (strict
		// inequality) — only a price that has actually moved past the
		// grid's edge has.
		if lastClose.LessThan(min) || lastClose.GreaterThan(max) {
			g.rebuild(*lastClose)
		}
	}

	for i := range g.levels {
		lvl := &g.levels[i]
		switch {
		case g.isTooClose(lvl.Price, *lastFilledPrice):
			lvl.Side = SideWait
		case lastClose.LessThan(lvl.Price):
			lvl.Side = SideSell
		case lastClose.GreaterThan(lvl.Price):
			lvl.Side = SideBuy
		}
	}

	g.centerGrid()
}

// centerGrid rebalances the ladder when buy/sell counts diverge by more than
// rebalanceThreshold of the total: it drops the far level on the heavy side
// and appends a fresh level one step beyond the current edge on the light side.
func (g *Grid) centerGrid() {
	if len(g.levels) == 0 {
		return
	}

	buyCount, sellCount := 0, 0
	var highestSell decimal.Decimal
	lowestBuy := g.levels[0].Price
	step := g.step()
	one := decimal.NewFromInt(1)

	for _, l := range g.levels {
		switch l.Side {
		case SideBuy:
			buyCount++
		case SideSell:
			sellCount++
			highestSell = l.Price
		}
	}

	total := buyCount + sellCount
	if total == 0 {
		return
	}

	totalDec := decimal.NewFromInt(int64(total))
	imbalance := decimal.NewFromInt(int64(buyCount - sellCount)).Div(totalDec)

	if imbalance.GreaterThan(g.rebalanceThreshold) {
		g.levels = g.levels[1:]
		price := g.roundPrice(highestSell.Mul(one.Add(step)))
		g.levels = append(g.levels, GridLevel{Side: SideSell, Price: price})
		return
	}

	imbalance = decimal.NewFromInt(int64(sellCount - buyCount)).Div(totalDec)
	if imbalance.GreaterThan(g.rebalanceThreshold) {
		g.levels = g.levels[:len(g.levels)-1]
		price := g.roundPrice(lowestBuy.Mul(one.Sub(step)))
		g.levels = append([]GridLevel{{Side: SideBuy, Price: price}}, g.levels...)
	}
}

// isTooClose reports whether price1 and price2 are within grid_step/4
// (percent) of each other — too close to safely re-place an order between.
func (g *Grid) isTooClose(price1, price2 decimal.Decimal) bool {
	if price1.IsZero() {
		return false
	}
	diff := price1.Sub(price2).Abs()
	pct := diff.Div(price1).Mul(hundred)
	return pct.LessThan(g.gridStepPct.Div(four))
}

func (g *Grid) isPriceSorted() bool {
	prev := decimal.Decimal{}
	first := true
	for _, l := range g.levels {
		if !first && l.Price.LessThan(prev) {
			return false
		}
		prev = l.Price
		first = false
	}
	return true
}

// IsGridCorrect validates the Buy* Wait+ Sell+ sequence with strictly
// non-decreasing prices; a grid with no Sell level is rejected.
func (g *Grid) IsGridCorrect() bool {
	if !g.isPriceSorted() {
		return false
	}

	const (
		stateBuy = iota
		stateWait
		stateSell
	)
	state := stateBuy

	for _, l := range g.levels {
		switch {
		case l.Side == SideBuy && state == stateBuy:
			continue
		case l.Side == SideWait && state == stateBuy:
			state = stateWait
		case l.Side == SideWait && state == stateWait:
			continue
		case l.Side == SideSell && state == stateWait:
			state = stateSell
		case l.Side == SideSell && state == stateSell:
			continue
		default:
			return false
		}
	}

	return state == stateSell
}
