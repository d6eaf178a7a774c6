// Package gridcore implements the deterministic event-driven trading core:
// the grid ladder, the intent engine that diffs it against observed orders,
// margin/PnL math, and the position-risk multiplier. Every path that drives
// this package — live, backtest, replay — must observe the same sequence of
// decisions for the same input events.
package gridcore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the exchange-facing order side, independent of Direction.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
	SideWait Side = "Wait"
)

// Direction is long or short, independent of a specific order's Side.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// OrderStatus is a SimulatedOrder's lifecycle state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// TickerEvent is a normalized mark/last price tick from the exchange adapter
// or a historical data provider. Timestamps are always UTC.
type TickerEvent struct {
	Symbol      string
	ExchangeTS  time.Time
	LocalTS     time.Time
	LastPrice   decimal.Decimal
	MarkPrice   decimal.Decimal
	Bid1        decimal.Decimal
	Ask1        decimal.Decimal
	FundingRate decimal.Decimal
}

// PublicTradeEvent is a normalized public trade print.
type PublicTradeEvent struct {
	Symbol     string
	TradeID    string
	ExchangeTS time.Time
	LocalTS    time.Time
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
}

// ExecutionEvent is a normalized fill, from either the real exchange or the
// simulated order book. OrderLinkID carries the client_order_id.
type ExecutionEvent struct {
	Symbol      string
	ExecID      string
	OrderID     string
	OrderLinkID string
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	Fee         decimal.Decimal
	ClosedPnL   decimal.Decimal
	LeavesQty   decimal.Decimal
	ExchangeTS  time.Time
}

// OrderUpdateEvent is a normalized order-state push from the exchange.
type OrderUpdateEvent struct {
	Symbol      string
	OrderID     string
	OrderLinkID string
	Side        Side
	Price       decimal.Decimal
	Qty         decimal.Decimal
	LeavesQty   decimal.Decimal
	Status      string
	ExchangeTS  time.Time
}

// PlaceLimitIntent is emitted by the intent engine for a grid level that
// needs a resting order. ClientOrderID is content-addressed: the same
// (StratID, Symbol, Side, GridLevel, Price, Direction) tuple always produces
// the same ID, on any path.
type PlaceLimitIntent struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	GridLevel     int
	Direction     Direction
	ClientOrderID string
	ReduceOnly    bool
}

// CancelIntent is emitted when an observed order no longer belongs in the
// current grid, or disagrees with the level's assigned side.
type CancelIntent struct {
	Symbol  string
	OrderID string
	Reason  string
}

// GridLevel is a single (side, price) rung of the ladder.
type GridLevel struct {
	Side  Side
	Price decimal.Decimal
}

// ObservedOrder is the engine's view of a currently-open order, as reported
// by the exchange adapter or the simulated book, partitioned by direction
// before being handed to the intent engine.
type ObservedOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Direction     Direction
}

// SimulatedOrder is an in-memory order book entry. It moves strictly
// pending -> filled | cancelled; terminal states are retained in history.
type SimulatedOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Direction     Direction
	GridLevel     int
	Status        OrderStatus
	ReduceOnly    bool
	CreatedTS     time.Time
	FilledTS      *time.Time
}

// PositionState is the per-direction snapshot tracked by the position
// tracker. AvgEntryPrice is zero iff Size is zero.
type PositionState struct {
	Direction         Direction
	Size              decimal.Decimal
	AvgEntryPrice     decimal.Decimal
	RealizedPnL       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	CommissionPaid    decimal.Decimal
	FundingPaid       decimal.Decimal
	PositionValue     decimal.Decimal
	InitialMargin     decimal.Decimal
	IMRRate           decimal.Decimal
	MaintenanceMargin decimal.Decimal
	MMRRate           decimal.Decimal
	LiquidationPrice  decimal.Decimal
}

// RiskLimitTier is one rung of a symbol's tiered risk-limit table. The last
// tier in a table is conceptually unbounded; callers represent that with a
// very large MaxNotional rather than a sentinel, since decimal.Decimal has
// no infinity value.
type RiskLimitTier struct {
	MaxNotional decimal.Decimal
	MMRRate     decimal.Decimal
	MMDeduction decimal.Decimal
	IMRRate     decimal.Decimal
}

// IsOpening reports whether a fill of the given side against a position
// held in this direction opens (increases) or reduces the position:
// long+Buy and short+Sell open; the other combinations reduce.
func IsOpening(direction Direction, side Side) bool {
	if direction == DirectionLong {
		return side == SideBuy
	}
	return side == SideSell
}
