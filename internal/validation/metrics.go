package validation

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// TradeDelta is one matched pair's backtest-minus-live deltas.
type TradeDelta struct {
	ClientOrderID string
	Occurrence    int
	PriceDelta    decimal.Decimal
	QtyDelta      decimal.Decimal
	FeeDelta      decimal.Decimal
	RealizedPnLDelta decimal.Decimal
	TimestampDeltaSeconds float64
	Direction     gridcore.Direction
	LiveTimestamp time.Time
}

// Metrics is the full set of aggregate comparison metrics computed over a
// MatchResult.
type Metrics struct {
	MatchRate   decimal.Decimal
	PhantomRate decimal.Decimal

	Deltas []TradeDelta

	MeanAbsPriceDelta   decimal.Decimal
	MedianAbsPriceDelta decimal.Decimal
	MaxAbsPriceDelta    decimal.Decimal

	MeanAbsQtyDelta   decimal.Decimal
	MedianAbsQtyDelta decimal.Decimal
	MaxAbsQtyDelta    decimal.Decimal

	CumulativePnLDelta decimal.Decimal
	PnLCorrelation     float64

	DirectionBreakdown map[gridcore.Direction]int
}

// ComputeMetrics derives coverage, per-trade deltas, aggregate statistics,
// and a direction breakdown from a MatchResult and the original totals.
func ComputeMetrics(result MatchResult, totalLive, totalBacktest int) Metrics {
	m := Metrics{
		MatchRate:          ratio(len(result.Matched), totalLive),
		PhantomRate:        ratio(len(result.BacktestOnly), totalBacktest),
		DirectionBreakdown: make(map[gridcore.Direction]int),
	}

	absPrices := make([]decimal.Decimal, 0, len(result.Matched))
	absQtys := make([]decimal.Decimal, 0, len(result.Matched))
	cumulative := decimal.Zero

	for _, pair := range result.Matched {
		delta := TradeDelta{
			ClientOrderID:         pair.Live.ClientOrderID,
			Occurrence:            pair.Live.Occurrence,
			PriceDelta:            pair.Backtest.Price.Sub(pair.Live.Price),
			QtyDelta:              pair.Backtest.Qty.Sub(pair.Live.Qty),
			FeeDelta:              pair.Backtest.Fee.Sub(pair.Live.Fee),
			RealizedPnLDelta:      pair.Backtest.RealizedPnL.Sub(pair.Live.RealizedPnL),
			TimestampDeltaSeconds: pair.Backtest.Timestamp.Sub(pair.Live.Timestamp).Seconds(),
			// Direction breakdown uses the backtest side's direction: it's
			// asserted directly rather than inferred from closed-PnL sign,
			// making it the more reliable of the two.
			Direction:     pair.Backtest.Direction,
			LiveTimestamp: pair.Live.Timestamp,
		}
		m.Deltas = append(m.Deltas, delta)
		m.DirectionBreakdown[delta.Direction]++

		absPrices = append(absPrices, delta.PriceDelta.Abs())
		absQtys = append(absQtys, delta.QtyDelta.Abs())
		cumulative = cumulative.Add(delta.RealizedPnLDelta)
	}

	m.MeanAbsPriceDelta = mean(absPrices)
	m.MedianAbsPriceDelta = median(absPrices)
	m.MaxAbsPriceDelta = maxAbs(absPrices)

	m.MeanAbsQtyDelta = mean(absQtys)
	m.MedianAbsQtyDelta = median(absQtys)
	m.MaxAbsQtyDelta = maxAbs(absQtys)

	m.CumulativePnLDelta = cumulative
	m.PnLCorrelation = pnlCorrelation(result.Matched)

	return m
}

func ratio(numerator, denominator int) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(numerator)).Div(decimal.NewFromInt(int64(denominator)))
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

func maxAbs(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	out := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(out) {
			out = v
		}
	}
	return out
}

// pnlCorrelation computes the Pearson correlation coefficient between the
// live and backtest cumulative-PnL series, both built over matched pairs
// sorted by live timestamp.
func pnlCorrelation(pairs []MatchedPair) float64 {
	if len(pairs) < 2 {
		return 0
	}

	sorted := make([]MatchedPair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Live.Timestamp.Before(sorted[j].Live.Timestamp)
	})

	liveSeries := make([]float64, len(sorted))
	backtestSeries := make([]float64, len(sorted))
	liveCum, backtestCum := 0.0, 0.0
	for i, pair := range sorted {
		liveCum += pair.Live.RealizedPnL.InexactFloat64()
		backtestCum += pair.Backtest.RealizedPnL.InexactFloat64()
		liveSeries[i] = liveCum
		backtestSeries[i] = backtestCum
	}

	return pearson(liveSeries, backtestSeries)
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 {
		return 0
	}

	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}

	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
