package backtest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/fillsim"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/position"
)

// WindDownPolicy decides what happens to a residual position at the end
// of an event stream.
type WindDownPolicy string

const (
	// WindDownLeaveOpen takes no action; any residual size is left open.
	WindDownLeaveOpen WindDownPolicy = "leave_open"
	// WindDownCloseAll synthesizes a final fill at the last observed
	// price for any residual size in either direction.
	WindDownCloseAll WindDownPolicy = "close_all"
)

// StrategyConfig parameterizes one (strat_id, symbol) grid run: one Grid
// and IntentEngine per direction, sharing a single simulated order book.
type StrategyConfig struct {
	StratID        string
	Symbol         string
	CommissionRate decimal.Decimal
	Leverage       decimal.Decimal
	Tiers          []gridcore.RiskLimitTier
	Qty            gridcore.QtyCalculator

	LongGrid  *gridcore.Grid
	ShortGrid *gridcore.Grid
}

// Config bounds one backtest/replay run.
type Config struct {
	InitialBalance decimal.Decimal
	WalletBalance  decimal.Decimal
	WindDown       WindDownPolicy
}

// Runner drives a Strategy over a chronological TickerEvent stream using
// the two-phase tick: process fills against the simulated book, update
// equity, then execute the intent engine's place/cancel decisions.
type Runner struct {
	cfg      Config
	strategy StrategyConfig

	book *fillsim.Book

	longTracker  *position.Tracker
	shortTracker *position.Tracker

	longEngine  *gridcore.IntentEngine
	shortEngine *gridcore.IntentEngine

	session *Session

	lastFilledLong  *decimal.Decimal
	lastFilledShort *decimal.Decimal
	lastPrice       decimal.Decimal

	tradeCounter int
}

// NewRunner wires one Strategy's two directions, its shared order book,
// and a fresh Session for the given Config.
func NewRunner(cfg Config, strategy StrategyConfig) (*Runner, error) {
	longTracker, err := position.New(gridcore.DirectionLong, strategy.Symbol, strategy.CommissionRate, strategy.Leverage, strategy.Tiers)
	if err != nil {
		return nil, fmt.Errorf("backtest: long tracker: %w", err)
	}
	shortTracker, err := position.New(gridcore.DirectionShort, strategy.Symbol, strategy.CommissionRate, strategy.Leverage, strategy.Tiers)
	if err != nil {
		return nil, fmt.Errorf("backtest: short tracker: %w", err)
	}

	return &Runner{
		cfg:          cfg,
		strategy:     strategy,
		book:         fillsim.NewBook(strategy.CommissionRate),
		longTracker:  longTracker,
		shortTracker: shortTracker,
		longEngine:   gridcore.NewIntentEngine(strategy.StratID, strategy.Symbol, gridcore.DirectionLong, strategy.LongGrid, strategy.Qty),
		shortEngine:  gridcore.NewIntentEngine(strategy.StratID, strategy.Symbol, gridcore.DirectionShort, strategy.ShortGrid, strategy.Qty),
		session:      NewSession(cfg.InitialBalance),
	}, nil
}

// Session returns the accumulating session record.
func (r *Runner) Session() *Session {
	return r.session
}

// Tick runs one full two-phase pass for a single TickerEvent.
func (r *Runner) Tick(event gridcore.TickerEvent) {
	r.lastPrice = event.LastPrice

	// Phase 1: process fills.
	fills := r.book.CheckFills(event.LastPrice, event.ExchangeTS, r.strategy.Symbol)
	for _, exec := range fills {
		r.applyFill(exec)
	}

	// Equity update: recompute unrealized PnL across both directions.
	longUnrealized := r.longTracker.CalculateUnrealizedPnL(event.LastPrice)
	shortUnrealized := r.shortTracker.CalculateUnrealizedPnL(event.LastPrice)
	totalUnrealized := longUnrealized.Add(shortUnrealized)

	longState := r.longTracker.State()
	shortState := r.shortTracker.State()
	totalIM := longState.InitialMargin.Add(shortState.InitialMargin)
	totalMM := longState.MaintenanceMargin.Add(shortState.MaintenanceMargin)

	r.session.UpdateEquity(event.ExchangeTS, totalUnrealized, totalIM, totalMM)

	// Phase 2: execute intents for each direction against the current
	// observed book state.
	observed := r.book.GetLimitOrders()
	r.executeDirection(r.longEngine, observed[gridcore.DirectionLong], event.LastPrice, r.lastFilledLong, event.ExchangeTS)
	r.executeDirection(r.shortEngine, observed[gridcore.DirectionShort], event.LastPrice, r.lastFilledShort, event.ExchangeTS)
}

func (r *Runner) executeDirection(engine *gridcore.IntentEngine, observed []gridcore.ObservedOrder, lastPrice decimal.Decimal, lastFilled *decimal.Decimal, ts time.Time) {
	walletBalance := r.cfg.WalletBalance
	places, cancels := engine.Tick(lastPrice, lastFilled, observed, walletBalance)

	for _, cancel := range cancels {
		r.book.Cancel(cancel.OrderID)
	}
	for _, place := range places {
		if _, ok := r.book.Place(place, ts); !ok {
			log.Warn().Str("client_order_id", place.ClientOrderID).Msg("backtest: duplicate client_order_id, place skipped")
		}
	}
}

func (r *Runner) applyFill(exec gridcore.ExecutionEvent) {
	order, ok := r.book.GetOrderByClientOrderID(exec.OrderLinkID)
	if !ok {
		log.Warn().Str("exec_id", exec.ExecID).Msg("backtest: fill with no matching order, dropped")
		return
	}

	var tracker *position.Tracker
	switch order.Direction {
	case gridcore.DirectionLong:
		tracker = r.longTracker
		r.lastFilledLong = &exec.Price
	case gridcore.DirectionShort:
		tracker = r.shortTracker
		r.lastFilledShort = &exec.Price
	default:
		return
	}

	realized, err := tracker.ProcessFill(exec.Side, exec.Qty, exec.Price)
	if err != nil {
		log.Warn().Err(err).Str("exec_id", exec.ExecID).Msg("backtest: fill rejected by tracker")
		return
	}

	r.tradeCounter++
	r.session.RecordTrade(Trade{
		TradeID:       fmt.Sprintf("bt_%08d", r.tradeCounter),
		Symbol:        exec.Symbol,
		Side:          string(exec.Side),
		Direction:     string(order.Direction),
		Price:         exec.Price,
		Qty:           exec.Qty,
		RealizedPnL:   realized,
		Commission:    exec.Fee,
		Timestamp:     exec.ExchangeTS,
		OrderID:       exec.OrderID,
		ClientOrderID: exec.OrderLinkID,
		StratID:       r.strategy.StratID,
	})
}

// ApplyFunding applies a funding payment to both direction trackers at the
// current mark price and records it against the session.
func (r *Runner) ApplyFunding(rate decimal.Decimal) {
	if r.lastPrice.IsZero() {
		return
	}
	longPayment := r.longTracker.ApplyFunding(rate, r.lastPrice)
	shortPayment := r.shortTracker.ApplyFunding(rate, r.lastPrice)
	r.session.RecordFunding(longPayment.Add(shortPayment))
}

// Run drives every event in order, applying an optional funding payment at
// each event whose FundingRate is non-zero, then performs wind-down.
func (r *Runner) Run(events []gridcore.TickerEvent) *Session {
	for _, event := range events {
		r.Tick(event)
		if !event.FundingRate.IsZero() {
			r.ApplyFunding(event.FundingRate)
		}
	}
	r.WindDown()
	r.session.Finalize()
	return r.session
}

// WindDown applies the configured end-of-stream policy to any residual
// position. leave_open is a no-op; close_all synthesizes a final fill at
// the last observed price for whatever size remains in either direction.
func (r *Runner) WindDown() {
	if r.cfg.WindDown != WindDownCloseAll {
		return
	}
	r.closeResidual(r.longTracker, gridcore.SideSell)
	r.closeResidual(r.shortTracker, gridcore.SideBuy)
}

func (r *Runner) closeResidual(tracker *position.Tracker, closingSide gridcore.Side) {
	state := tracker.State()
	if !state.Size.IsPositive() || r.lastPrice.IsZero() {
		return
	}

	realized, err := tracker.ProcessFill(closingSide, state.Size, r.lastPrice)
	if err != nil {
		log.Warn().Err(err).Msg("backtest: wind-down close_all fill rejected")
		return
	}

	r.tradeCounter++
	r.session.RecordTrade(Trade{
		TradeID:     fmt.Sprintf("bt_%08d", r.tradeCounter),
		Symbol:      r.strategy.Symbol,
		Side:        string(closingSide),
		Direction:   string(state.Direction),
		Price:       r.lastPrice,
		Qty:         state.Size,
		RealizedPnL: realized,
		Commission:  state.Size.Mul(r.lastPrice).Mul(r.strategy.CommissionRate),
		Timestamp:   time.Time{},
		StratID:     r.strategy.StratID,
	})
}
