// Package storage persists the three-way validation pipeline's raw event
// streams and computed state to a relational database via gorm.
package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PublicTrade is one public-trade tape print ingested from either a live
// websocket collector or a replayed/backtest source.
type PublicTrade struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	RunID     string          `gorm:"index:idx_public_trade_run_ts"`
	Source    string          `gorm:"index"` // "live", "backtest", "replay"
	Symbol    string          `gorm:"index"`
	Price     decimal.Decimal `gorm:"type:decimal(24,10)"`
	Qty       decimal.Decimal `gorm:"type:decimal(24,10)"`
	Side      string
	TradeID   string          `gorm:"uniqueIndex:idx_public_trade_unique"`
	ExchangeTS time.Time      `gorm:"index:idx_public_trade_run_ts"`
	CreatedAt time.Time
}

func (PublicTrade) TableName() string { return "public_trades" }

// PrivateExecution is one fill/execution report for the account's own
// orders, the left side of the live-vs-simulated match key.
type PrivateExecution struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	RunID         string          `gorm:"index:idx_exec_run"`
	Source        string          `gorm:"index"`
	Symbol        string          `gorm:"index"`
	OrderID       string          `gorm:"index"`
	ClientOrderID string          `gorm:"index:idx_exec_coid"`
	Occurrence    int             `gorm:"index:idx_exec_coid"`
	ExecID        string          `gorm:"uniqueIndex:idx_exec_unique"`
	Side          string
	Direction     string
	Price         decimal.Decimal `gorm:"type:decimal(24,10)"`
	Qty           decimal.Decimal `gorm:"type:decimal(24,10)"`
	Fee           decimal.Decimal `gorm:"type:decimal(24,10)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(24,10)"`
	ExchangeTS    time.Time       `gorm:"index:idx_exec_run"`
	CreatedAt     time.Time
}

func (PrivateExecution) TableName() string { return "private_executions" }

// Order is the last-known state of one resting or terminal limit order.
type Order struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	RunID         string          `gorm:"index"`
	Source        string          `gorm:"index"`
	Symbol        string          `gorm:"index"`
	OrderID       string          `gorm:"uniqueIndex:idx_order_unique"`
	ClientOrderID string          `gorm:"index"`
	Side          string
	Price         decimal.Decimal `gorm:"type:decimal(24,10)"`
	Qty           decimal.Decimal `gorm:"type:decimal(24,10)"`
	GridLevel     int
	Status        string          `gorm:"index"`
	ExchangeTS    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Order) TableName() string { return "orders" }

// Position is a point-in-time snapshot of the account's net position for
// one symbol/direction.
type Position struct {
	ID               uint            `gorm:"primaryKey;autoIncrement"`
	RunID            string          `gorm:"index"`
	Source           string          `gorm:"index"`
	Symbol           string          `gorm:"index"`
	Direction        string
	Size             decimal.Decimal `gorm:"type:decimal(24,10)"`
	AvgPrice         decimal.Decimal `gorm:"type:decimal(24,10)"`
	UnrealizedPnL    decimal.Decimal `gorm:"type:decimal(24,10)"`
	RealizedPnL      decimal.Decimal `gorm:"type:decimal(24,10)"`
	LiquidationPrice decimal.Decimal `gorm:"type:decimal(24,10)"`
	ExchangeTS       time.Time       `gorm:"index"`
	CreatedAt        time.Time
}

func (Position) TableName() string { return "positions" }

// Wallet is a point-in-time snapshot of account balance.
type Wallet struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	RunID      string          `gorm:"index"`
	Source     string          `gorm:"index"`
	AccountID  string
	Coin       string
	Balance    decimal.Decimal `gorm:"type:decimal(24,10)"`
	ExchangeTS time.Time       `gorm:"index"`
	CreatedAt  time.Time
}

func (Wallet) TableName() string { return "wallets" }
