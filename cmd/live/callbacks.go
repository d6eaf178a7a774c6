package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/live"
	"github.com/gridbot/validation/internal/position"
	"github.com/gridbot/validation/internal/storage"
	"github.com/gridbot/validation/internal/writers"
)

// liveCallbacks satisfies exchange.Callbacks, fanning each normalized
// event out to the local in-memory state the tick loop reads and the
// writer that persists it.
type liveCallbacks struct {
	runID  string
	symbol string

	book         *live.OrderBook
	state        *liveState
	longTracker  *position.Tracker
	shortTracker *position.Tracker

	tradeWriter    *writers.Writer[storage.PublicTrade]
	execWriter     *writers.Writer[storage.PrivateExecution]
	orderWriter    *writers.Writer[storage.Order]
	positionWriter *writers.Writer[storage.Position]
	walletWriter   *writers.Writer[storage.Wallet]
}

func (c *liveCallbacks) OnTicker(e gridcore.TickerEvent) {
	if e.LastPrice.IsZero() {
		return
	}
	c.state.SetLastPrice(e.LastPrice)
}

func (c *liveCallbacks) OnPublicTrade(e gridcore.PublicTradeEvent) {
	c.tradeWriter.Enqueue(storage.PublicTrade{
		RunID:      c.runID,
		Source:     "live",
		Symbol:     e.Symbol,
		Price:      e.Price,
		Qty:        e.Size,
		Side:       string(e.Side),
		TradeID:    e.TradeID,
		ExchangeTS: e.ExchangeTS,
	})
}

func (c *liveCallbacks) OnExecution(e gridcore.ExecutionEvent) {
	direction, ok := c.book.DirectionFor(e.OrderLinkID)
	if !ok {
		// No local record of this client_order_id (e.g. a fill for an
		// order placed before this process started) — fall back to
		// attributing a Buy to the long leg and a Sell to the short leg.
		direction = directionFromSide(e.Side)
	}
	tracker := c.trackerFor(direction)

	if _, err := tracker.ProcessFill(e.Side, e.Qty, e.Price); err != nil {
		log.Warn().Err(err).Str("order_id", e.OrderID).Msg("process live fill")
	}
	c.state.SetLastFilledPrice(direction, e.Price)

	c.execWriter.Enqueue(storage.PrivateExecution{
		RunID:         c.runID,
		Source:        "live",
		Symbol:        e.Symbol,
		OrderID:       e.OrderID,
		ClientOrderID: e.OrderLinkID,
		ExecID:        e.ExecID,
		Side:          string(e.Side),
		Direction:     string(direction),
		Price:         e.Price,
		Qty:           e.Qty,
		Fee:           e.Fee,
		RealizedPnL:   e.ClosedPnL,
		ExchangeTS:    e.ExchangeTS,
	})
}

func (c *liveCallbacks) OnOrder(e gridcore.OrderUpdateEvent) {
	c.book.ApplyUpdate(e)

	c.orderWriter.Enqueue(storage.Order{
		RunID:         c.runID,
		Source:        "live",
		Symbol:        e.Symbol,
		OrderID:       e.OrderID,
		ClientOrderID: e.OrderLinkID,
		Side:          string(e.Side),
		Price:         e.Price,
		Qty:           e.LeavesQty,
		Status:        e.Status,
		ExchangeTS:    e.ExchangeTS,
	})
}

func (c *liveCallbacks) OnPosition(p exchange.PositionSnapshot) {
	c.positionWriter.Enqueue(storage.Position{
		RunID:            c.runID,
		Source:           "live",
		Symbol:           p.Symbol,
		Direction:        string(p.Direction),
		Size:             p.Size,
		AvgPrice:         p.AvgPrice,
		UnrealizedPnL:    p.UnrealizedPnL,
		LiquidationPrice: decimal.Zero,
		ExchangeTS:       p.ExchangeTS,
	})
}

func (c *liveCallbacks) OnWallet(w exchange.WalletSnapshot) {
	c.state.SetWalletBalance(w.Balance)
	c.walletWriter.Enqueue(storage.Wallet{
		RunID:      c.runID,
		Source:     "live",
		AccountID:  w.AccountID,
		Coin:       w.Coin,
		Balance:    w.Balance,
		ExchangeTS: w.ExchangeTS,
	})
}

func (c *liveCallbacks) OnDisconnect(ts time.Time) {
	log.Warn().Time("ts", ts).Str("symbol", c.symbol).Msg("live stream disconnected")
}

func (c *liveCallbacks) OnReconnect(disconnectedAt, reconnectedAt time.Time) {
	log.Info().
		Time("disconnected_at", disconnectedAt).
		Time("reconnected_at", reconnectedAt).
		Str("symbol", c.symbol).
		Msg("live stream reconnected")
}

func (c *liveCallbacks) trackerFor(direction gridcore.Direction) *position.Tracker {
	if direction == gridcore.DirectionShort {
		return c.shortTracker
	}
	return c.longTracker
}

// directionFromSide infers which grid a fill belongs to from its raw
// exchange side alone: a Buy fill is attributed to the long leg, a Sell
// fill to the short leg. A fill that reduces the opposite leg (a Sell
// closing a long, a Buy closing a short) is therefore attributed to the
// wrong leg and processed there as an opening fill.
func directionFromSide(side gridcore.Side) gridcore.Direction {
	if side == gridcore.SideSell {
		return gridcore.DirectionShort
	}
	return gridcore.DirectionLong
}
