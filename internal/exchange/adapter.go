// Package exchange defines the boundary between the trading core and a
// concrete exchange connection. Everything downstream of this interface —
// grid engine, intent engine, position tracker, validation pipeline — is
// exchange-agnostic; only an Adapter implementation knows Bybit's wire
// format.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// PositionIdx is Bybit's hedge-mode position slot: 0 for one-way mode, 1
// for hedge-mode long, 2 for hedge-mode short.
type PositionIdx int

const (
	PositionIdxOneWay PositionIdx = 0
	PositionIdxLong   PositionIdx = 1
	PositionIdxShort  PositionIdx = 2
)

// Callbacks receives normalized events from an Adapter. Implementations
// are expected to be cheap and non-blocking; long work belongs on the
// collector/writer side of a bounded channel.
type Callbacks interface {
	OnTicker(gridcore.TickerEvent)
	OnPublicTrade(gridcore.PublicTradeEvent)
	OnExecution(gridcore.ExecutionEvent)
	OnOrder(gridcore.OrderUpdateEvent)
	OnPosition(PositionSnapshot)
	OnWallet(WalletSnapshot)
	OnDisconnect(ts time.Time)
	OnReconnect(disconnectedAt, reconnectedAt time.Time)
}

// PositionSnapshot is a normalized position-state push from the exchange.
type PositionSnapshot struct {
	Symbol           string
	Direction        gridcore.Direction
	Size             decimal.Decimal
	AvgPrice         decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	PositionValue    decimal.Decimal
	Leverage         decimal.Decimal
	ExchangeTS       time.Time
}

// WalletSnapshot is a normalized wallet-balance push.
type WalletSnapshot struct {
	AccountID string
	Coin      string
	Balance   decimal.Decimal
	ExchangeTS time.Time
}

// PlaceOrderResult is the outcome of a successful order submission.
type PlaceOrderResult struct {
	OrderID string
}

// OpenOrder is an observed resting order as reported by the exchange.
type OpenOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          gridcore.Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
}

// TransactionLogRow is one row of the funding/fee transaction log.
type TransactionLogRow struct {
	Symbol     string
	Type       string
	ExchangeTS time.Time
	Amount     decimal.Decimal
}

// Adapter is the abstract exchange boundary: inbound normalized events via
// Callbacks (wired by Connect), outbound order operations via the
// remaining methods.
type Adapter interface {
	// Connect subscribes to market/account streams and begins delivering
	// events to cb until ctx is cancelled.
	Connect(ctx context.Context, cb Callbacks) error

	PlaceOrder(ctx context.Context, symbol string, side gridcore.Side, qty, price decimal.Decimal, reduceOnly bool, positionIdx PositionIdx, orderLinkID string) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	GetRiskLimit(ctx context.Context, symbol string) ([]gridcore.RiskLimitTier, error)
	GetTransactionLog(ctx context.Context, symbol, logType string, maxPages int) ([]TransactionLogRow, bool, error)
}
