package live

import (
	"sync"

	"github.com/gridbot/validation/internal/gridcore"
)

// OrderBook tracks this process's view of its own currently-open live
// orders, fed by OrderUpdateEvent pushes from the private websocket. It
// supplies IntentEngine.Tick's observed-order input the way fillsim.Book
// supplies it in a backtest: a flat list the caller partitions by
// direction before handing it to the engine.
type OrderBook struct {
	mu sync.Mutex

	// direction is recorded at submission time, keyed by client order ID,
	// since Bybit's order-update push carries no direction field of its
	// own — only side and reduce-only, which alone don't disambiguate a
	// hedge-mode account's long grid from its short grid.
	direction map[string]gridcore.Direction
	orders    map[string]gridcore.ObservedOrder // keyed by OrderID
}

// NewOrderBook constructs an empty OrderBook.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		direction: make(map[string]gridcore.Direction),
		orders:    make(map[string]gridcore.ObservedOrder),
	}
}

// NoteDirection records which grid a client order ID belongs to, before
// the order is submitted. AddPlaced and ApplyUpdate both consult this to
// tag the resulting ObservedOrder.
func (b *OrderBook) NoteDirection(clientOrderID string, direction gridcore.Direction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direction[clientOrderID] = direction
}

// AddPlaced records an order that was just submitted successfully, using
// the exchange-assigned order ID returned by the place call.
func (b *OrderBook) AddPlaced(intent gridcore.PlaceLimitIntent, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direction[intent.ClientOrderID] = intent.Direction
	b.orders[orderID] = gridcore.ObservedOrder{
		OrderID:       orderID,
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Price:         intent.Price,
		Qty:           intent.Qty,
		Direction:     intent.Direction,
	}
}

// RemoveByOrderID drops an order after a successful cancel.
func (b *OrderBook) RemoveByOrderID(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, orderID)
}

// ApplyUpdate folds a private-stream order-state push into the book:
// terminal statuses (filled, cancelled, rejected) drop the order, anything
// else upserts it with the push's latest price/qty.
func (b *OrderBook) ApplyUpdate(ev gridcore.OrderUpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Status {
	case "Filled", "Cancelled", "Rejected", "Deactivated":
		delete(b.orders, ev.OrderID)
		delete(b.direction, ev.OrderLinkID)
		return
	}

	direction := b.direction[ev.OrderLinkID]
	if existing, ok := b.orders[ev.OrderID]; ok && direction == "" {
		direction = existing.Direction
	}

	b.orders[ev.OrderID] = gridcore.ObservedOrder{
		OrderID:       ev.OrderID,
		ClientOrderID: ev.OrderLinkID,
		Symbol:        ev.Symbol,
		Side:          ev.Side,
		Price:         ev.Price,
		Qty:           ev.LeavesQty,
		Direction:     direction,
	}
}

// Observed returns every currently-open order for the given direction, the
// shape IntentEngine.Tick expects.
func (b *OrderBook) Observed(direction gridcore.Direction) []gridcore.ObservedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]gridcore.ObservedOrder, 0, len(b.orders))
	for _, order := range b.orders {
		if order.Direction == direction {
			out = append(out, order)
		}
	}
	return out
}

// DirectionFor returns the grid a client order ID was noted against,
// either by NoteDirection (at submission time) or by a prior AddPlaced —
// the client_order_id is content-addressed on direction, so a fill or
// order-update push carrying the same ID always resolves the same grid.
func (b *OrderBook) DirectionFor(clientOrderID string) (gridcore.Direction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.direction[clientOrderID]
	return d, ok
}
