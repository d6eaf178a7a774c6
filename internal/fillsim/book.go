// Package fillsim implements the conservative trade-through fill rule and
// the simulated order book that drives both backtests and the dual-path
// equivalence checks in the validation pipeline.
package fillsim

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// CheckFill applies the conservative trade-through rule: a resting Buy
// fills only when currentPrice is strictly less than the limit; a Sell
// fills only when currentPrice is strictly greater. A touch at exactly the
// limit never fills, since queue position ahead of the order is unknown.
func CheckFill(order gridcore.SimulatedOrder, currentPrice decimal.Decimal) (shouldFill bool, fillPrice decimal.Decimal) {
	switch order.Side {
	case gridcore.SideBuy:
		if currentPrice.LessThan(order.Price) {
			return true, order.Price
		}
	case gridcore.SideSell:
		if currentPrice.GreaterThan(order.Price) {
			return true, order.Price
		}
	}
	return false, decimal.Zero
}

// Book is an in-memory simulated order book: place, cancel, fill-check, and
// lifecycle tracking for one symbol (or a whole strategy run, if the caller
// never filters by symbol). It is not safe for concurrent use; a backtest
// drives it from a single goroutine, one tick at a time.
type Book struct {
	commissionRate decimal.Decimal

	activeByOrderID map[string]*gridcore.SimulatedOrder
	clientOrderIDs  map[string]bool
	filled          []gridcore.SimulatedOrder
	cancelled       []gridcore.SimulatedOrder

	orderCounter int
}

// NewBook constructs an empty book charging commissionRate (a fraction,
// e.g. 0.0002 for 2bps) on every fill.
func NewBook(commissionRate decimal.Decimal) *Book {
	return &Book{
		commissionRate:  commissionRate,
		activeByOrderID: make(map[string]*gridcore.SimulatedOrder),
		clientOrderIDs:  make(map[string]bool),
	}
}

// Place inserts a new resting order. It rejects duplicates by
// ClientOrderID among currently active orders, returning (nil, false).
func (b *Book) Place(intent gridcore.PlaceLimitIntent, ts time.Time) (*gridcore.SimulatedOrder, bool) {
	if b.clientOrderIDs[intent.ClientOrderID] {
		return nil, false
	}

	b.orderCounter++
	order := gridcore.SimulatedOrder{
		OrderID:       fmt.Sprintf("sim_%08d", b.orderCounter),
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Price:         intent.Price,
		Qty:           intent.Qty,
		Direction:     intent.Direction,
		GridLevel:     intent.GridLevel,
		Status:        gridcore.OrderStatusPending,
		ReduceOnly:    intent.ReduceOnly,
		CreatedTS:     ts,
	}

	b.activeByOrderID[order.OrderID] = &order
	b.clientOrderIDs[order.ClientOrderID] = true
	return &order, true
}

// Cancel transitions a pending order to cancelled, releasing its
// ClientOrderID for reuse. Returns false if orderID is not active.
func (b *Book) Cancel(orderID string) bool {
	order, ok := b.activeByOrderID[orderID]
	if !ok {
		return false
	}
	delete(b.activeByOrderID, orderID)
	delete(b.clientOrderIDs, order.ClientOrderID)
	order.Status = gridcore.OrderStatusCancelled
	b.cancelled = append(b.cancelled, *order)
	return true
}

// CancelByClientOrderID cancels whichever active order carries
// clientOrderID, if any.
func (b *Book) CancelByClientOrderID(clientOrderID string) bool {
	for id, order := range b.activeByOrderID {
		if order.ClientOrderID == clientOrderID {
			return b.Cancel(id)
		}
	}
	return false
}

// CheckFills scans active orders against currentPrice and fills every one
// whose trade-through condition is met. A single pass is order-insensitive:
// each order's predicate depends only on currentPrice and its own limit.
// When symbol is non-empty, only orders for that symbol are considered.
func (b *Book) CheckFills(currentPrice decimal.Decimal, ts time.Time, symbol string) []gridcore.ExecutionEvent {
	var fills []gridcore.ExecutionEvent

	for orderID, order := range b.activeByOrderID {
		if symbol != "" && order.Symbol != symbol {
			continue
		}

		shouldFill, fillPrice := CheckFill(*order, currentPrice)
		if !shouldFill {
			continue
		}

		delete(b.activeByOrderID, orderID)
		delete(b.clientOrderIDs, order.ClientOrderID)
		order.Status = gridcore.OrderStatusFilled
		filledTS := ts
		order.FilledTS = &filledTS
		b.filled = append(b.filled, *order)

		fee := order.Qty.Mul(fillPrice).Mul(b.commissionRate)

		fills = append(fills, gridcore.ExecutionEvent{
			Symbol:      order.Symbol,
			ExecID:      "exec_" + uuid.New().String()[:8],
			OrderID:     order.OrderID,
			OrderLinkID: order.ClientOrderID,
			Side:        order.Side,
			Price:       fillPrice,
			Qty:         order.Qty,
			Fee:         fee,
			ClosedPnL:   decimal.Zero,
			LeavesQty:   decimal.Zero,
			ExchangeTS:  ts,
		})
	}

	return fills
}

// GetLimitOrders returns active orders grouped by direction, in the shape
// the grid engine expects when diffing against the current grid.
func (b *Book) GetLimitOrders() map[gridcore.Direction][]gridcore.ObservedOrder {
	result := map[gridcore.Direction][]gridcore.ObservedOrder{
		gridcore.DirectionLong:  {},
		gridcore.DirectionShort: {},
	}
	for _, order := range b.activeByOrderID {
		result[order.Direction] = append(result[order.Direction], gridcore.ObservedOrder{
			OrderID:       order.OrderID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Price:         order.Price,
			Qty:           order.Qty,
			Direction:     order.Direction,
		})
	}
	return result
}

// GetOrderByID returns the active order with orderID, if any.
func (b *Book) GetOrderByID(orderID string) (gridcore.SimulatedOrder, bool) {
	order, ok := b.activeByOrderID[orderID]
	if !ok {
		return gridcore.SimulatedOrder{}, false
	}
	return *order, true
}

// GetOrderByClientOrderID searches active, then filled, orders.
func (b *Book) GetOrderByClientOrderID(clientOrderID string) (gridcore.SimulatedOrder, bool) {
	for _, order := range b.activeByOrderID {
		if order.ClientOrderID == clientOrderID {
			return *order, true
		}
	}
	for _, order := range b.filled {
		if order.ClientOrderID == clientOrderID {
			return order, true
		}
	}
	return gridcore.SimulatedOrder{}, false
}

// FilledOrders returns the terminal history of filled orders.
func (b *Book) FilledOrders() []gridcore.SimulatedOrder {
	out := make([]gridcore.SimulatedOrder, len(b.filled))
	copy(out, b.filled)
	return out
}

// CancelledOrders returns the terminal history of cancelled orders.
func (b *Book) CancelledOrders() []gridcore.SimulatedOrder {
	out := make([]gridcore.SimulatedOrder, len(b.cancelled))
	copy(out, b.cancelled)
	return out
}
