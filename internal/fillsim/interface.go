package fillsim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// OrderManager is the capability interface the intent executor drives,
// whether backed by this package's simulated Book or a live REST adapter.
// It narrows the exchange surface to exactly what the trading core needs.
type OrderManager interface {
	Place(intent gridcore.PlaceLimitIntent, ts time.Time) (*gridcore.SimulatedOrder, bool)
	Cancel(orderID string) bool
	CheckFills(currentPrice decimal.Decimal, ts time.Time, symbol string) []gridcore.ExecutionEvent
	GetLimitOrders() map[gridcore.Direction][]gridcore.ObservedOrder
}
