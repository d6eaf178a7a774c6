// Package backtest drives the grid engine over a historical event stream
// using the two-phase tick (fills, then intent execution) so the same
// engine code path produces bit-identical decisions in backtest and in
// replay.
package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one append-only fill recorded against the session.
type Trade struct {
	TradeID       string
	Symbol        string
	Side          string
	Direction     string
	Price         decimal.Decimal
	Qty           decimal.Decimal
	RealizedPnL   decimal.Decimal
	Commission    decimal.Decimal
	Timestamp     time.Time
	OrderID       string
	ClientOrderID string
	StratID       string
}

// EquityPoint is one sample of the running equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	ReturnPct decimal.Decimal
}

// Totals accumulates running sums across the session's lifetime.
type Totals struct {
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Commission decimal.Decimal
	Funding    decimal.Decimal
}

// Peaks tracks the running extrema the reporter surfaces as drawdown and
// peak-margin metrics.
type Peaks struct {
	Equity       decimal.Decimal
	Drawdown     decimal.Decimal
	InitialMargin     decimal.Decimal
	MaintenanceMargin decimal.Decimal
}

// Session is the append-only record of one backtest or replay run: every
// trade, every equity sample, and the running totals/peaks derived from
// them. Finalize() is idempotent and safe to call more than once.
type Session struct {
	InitialBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	Trades         []Trade
	EquityCurve    []EquityPoint
	Totals         Totals
	Peaks          Peaks

	finalized bool
	metrics   map[string]decimal.Decimal
}

// NewSession starts a session with the given starting balance.
func NewSession(initialBalance decimal.Decimal) *Session {
	return &Session{
		InitialBalance: initialBalance,
		CurrentBalance: initialBalance,
		Peaks:          Peaks{Equity: initialBalance},
	}
}

// RecordTrade appends a fill to the trade log and folds its realized PnL
// and commission into the running totals and balance.
func (s *Session) RecordTrade(t Trade) {
	s.Trades = append(s.Trades, t)
	s.Totals.Realized = s.Totals.Realized.Add(t.RealizedPnL)
	s.Totals.Commission = s.Totals.Commission.Add(t.Commission)
	s.CurrentBalance = s.CurrentBalance.Add(t.RealizedPnL).Sub(t.Commission)
}

// RecordFunding folds a funding payment (positive credit, negative debit)
// into the running totals.
func (s *Session) RecordFunding(amount decimal.Decimal) {
	s.Totals.Funding = s.Totals.Funding.Add(amount)
	s.CurrentBalance = s.CurrentBalance.Add(amount)
}

// UpdateEquity appends an (ts, equity) sample computed as
// initial + realized + unrealized - commission - |funding|, and updates
// the running peak/drawdown/peak-IM/peak-MM extrema.
func (s *Session) UpdateEquity(ts time.Time, unrealized, initialMargin, maintenanceMargin decimal.Decimal) EquityPoint {
	s.Totals.Unrealized = unrealized

	equity := s.InitialBalance.
		Add(s.Totals.Realized).
		Add(unrealized).
		Sub(s.Totals.Commission).
		Sub(s.Totals.Funding.Abs())

	returnPct := decimal.Zero
	if !s.InitialBalance.IsZero() {
		returnPct = equity.Sub(s.InitialBalance).Div(s.InitialBalance).Mul(decimal.NewFromInt(100))
	}

	point := EquityPoint{Timestamp: ts, Equity: equity, ReturnPct: returnPct}
	s.EquityCurve = append(s.EquityCurve, point)

	if equity.GreaterThan(s.Peaks.Equity) {
		s.Peaks.Equity = equity
	}
	drawdown := decimal.Zero
	if s.Peaks.Equity.IsPositive() {
		drawdown = s.Peaks.Equity.Sub(equity).Div(s.Peaks.Equity).Mul(decimal.NewFromInt(100))
	}
	if drawdown.GreaterThan(s.Peaks.Drawdown) {
		s.Peaks.Drawdown = drawdown
	}
	if initialMargin.GreaterThan(s.Peaks.InitialMargin) {
		s.Peaks.InitialMargin = initialMargin
	}
	if maintenanceMargin.GreaterThan(s.Peaks.MaintenanceMargin) {
		s.Peaks.MaintenanceMargin = maintenanceMargin
	}

	return point
}

// Finalize computes all summary metrics once; repeated calls return the
// cached result.
func (s *Session) Finalize() map[string]decimal.Decimal {
	if s.finalized {
		return s.metrics
	}
	s.finalized = true

	m := map[string]decimal.Decimal{
		"initial_balance":    s.InitialBalance,
		"final_balance":      s.CurrentBalance,
		"total_realized_pnl": s.Totals.Realized,
		"total_commission":   s.Totals.Commission,
		"total_funding":      s.Totals.Funding,
		"trade_count":        decimal.NewFromInt(int64(len(s.Trades))),
		"peak_equity":        s.Peaks.Equity,
		"max_drawdown_pct":   s.Peaks.Drawdown,
		"peak_initial_margin":     s.Peaks.InitialMargin,
		"peak_maintenance_margin": s.Peaks.MaintenanceMargin,
	}
	if len(s.EquityCurve) > 0 {
		last := s.EquityCurve[len(s.EquityCurve)-1]
		m["final_equity"] = last.Equity
		m["total_return_pct"] = last.ReturnPct
	}

	s.metrics = m
	return m
}
