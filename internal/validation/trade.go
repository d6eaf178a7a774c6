// Package validation implements the three-way (live/backtest/replay)
// comparison pipeline: normalized-trade loaders, the composite-key matcher,
// aggregate metrics, and equity-curve divergence.
package validation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/storage"
)

// Source distinguishes which path produced a NormalizedTrade.
type Source string

const (
	SourceLive     Source = "live"
	SourceBacktest Source = "backtest"
)

// NormalizedTrade is the validation pipeline's common input shape,
// produced independently by the live and backtest loaders and compared by
// the matcher.
type NormalizedTrade struct {
	ClientOrderID string
	Occurrence    int
	Symbol        string
	Side          gridcore.Side
	Direction     gridcore.Direction
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Fee           decimal.Decimal
	RealizedPnL   decimal.Decimal
	Timestamp     time.Time
	Source        Source
}

// AssignOccurrences sorts trades by (timestamp, client_order_id, side) and
// assigns each trade's zero-based occurrence index among trades sharing
// its client_order_id, handling deterministic ID reuse across an order
// lifecycle that completes and is later reissued at the same price level.
func AssignOccurrences(trades []NormalizedTrade) []NormalizedTrade {
	sorted := make([]NormalizedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		if sorted[i].ClientOrderID != sorted[j].ClientOrderID {
			return sorted[i].ClientOrderID < sorted[j].ClientOrderID
		}
		return sorted[i].Side < sorted[j].Side
	})

	counts := make(map[string]int, len(sorted))
	for i := range sorted {
		id := sorted[i].ClientOrderID
		sorted[i].Occurrence = counts[id]
		counts[id]++
	}
	return sorted
}

// LoadBacktestTrades maps backtest-sourced private_executions rows directly
// to NormalizedTrade,
// then assigns occurrences. The backtest path carries direction directly,
// unlike the live path's closed-PnL-sign inference.
func LoadBacktestTrades(rows []storage.PrivateExecution) []NormalizedTrade {
	trades := make([]NormalizedTrade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, NormalizedTrade{
			ClientOrderID: row.ClientOrderID,
			Symbol:        row.Symbol,
			Side:          gridcore.Side(row.Side),
			Direction:     gridcore.Direction(row.Direction),
			Price:         row.Price,
			Qty:           row.Qty,
			Fee:           row.Fee,
			RealizedPnL:   row.RealizedPnL,
			Timestamp:     row.ExchangeTS,
			Source:        SourceBacktest,
		})
	}
	return AssignOccurrences(trades)
}

// liveExecutionKey groups partial fills the live loader must aggregate
// before comparison, since a single resting order may fill across several
// separate execution reports.
type liveExecutionKey struct {
	OrderLinkID string
	OrderID     string
}

// LoadLiveTrades aggregates private_executions rows sharing
// (order_link_id, order_id) into one NormalizedTrade each: VWAP price,
// summed qty/fee/realized_pnl, latest timestamp. Direction is inferred
// from the sign of the aggregated realized PnL (a zero PnL falls back to
// the side: Sell is short, Buy is long) — a documented limitation, since a
// break-even close is indistinguishable from a position-opening fill by
// this signal alone. ComputeMetrics compensates by using the backtest
// side's direction for matched pairs.
func LoadLiveTrades(rows []storage.PrivateExecution) []NormalizedTrade {
	groups := make(map[liveExecutionKey][]storage.PrivateExecution)
	order := make([]liveExecutionKey, 0)
	for _, row := range rows {
		key := liveExecutionKey{OrderLinkID: row.ClientOrderID, OrderID: row.OrderID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	trades := make([]NormalizedTrade, 0, len(order))
	for _, key := range order {
		execs := groups[key]

		totalQty := decimal.Zero
		notional := decimal.Zero
		fee := decimal.Zero
		realizedPnl := decimal.Zero
		latest := execs[0].ExchangeTS
		symbol := execs[0].Symbol
		side := execs[0].Side

		for _, e := range execs {
			totalQty = totalQty.Add(e.Qty)
			notional = notional.Add(e.Price.Mul(e.Qty))
			fee = fee.Add(e.Fee)
			realizedPnl = realizedPnl.Add(e.RealizedPnL)
			if e.ExchangeTS.After(latest) {
				latest = e.ExchangeTS
			}
		}

		vwap := decimal.Zero
		if totalQty.IsPositive() {
			vwap = notional.Div(totalQty)
		}

		direction := gridcore.DirectionLong
		if realizedPnl.IsNegative() {
			direction = gridcore.DirectionShort
		} else if realizedPnl.IsZero() && side == "Sell" {
			direction = gridcore.DirectionShort
		}

		trades = append(trades, NormalizedTrade{
			ClientOrderID: key.OrderLinkID,
			Symbol:        symbol,
			Side:          gridcore.Side(side),
			Direction:     direction,
			Price:         vwap,
			Qty:           totalQty,
			Fee:           fee,
			RealizedPnL:   realizedPnl,
			Timestamp:     latest,
			Source:        SourceLive,
		})
	}

	return AssignOccurrences(trades)
}
