package validation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EquitySample is one point of a raw equity curve, as produced by
// backtest.Session.EquityCurve or a live-account snapshot stream.
type EquitySample struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// DefaultBucketSize is the default resampling grid.
const DefaultBucketSize = time.Hour

// ResampledPoint is one bucket's last-value-in-bucket equity for both
// curves, plus their divergence.
type ResampledPoint struct {
	BucketStart    time.Time
	LiveEquity     decimal.Decimal
	BacktestEquity decimal.Decimal
	Divergence     decimal.Decimal
}

// EquityComparison is the resampled comparison plus its summary
// statistics.
type EquityComparison struct {
	Points              []ResampledPoint
	MaxAbsDivergence    decimal.Decimal
	MeanAbsDivergence   decimal.Decimal
	Correlation         float64
}

// CompareEquityCurves resamples both curves onto a common bucket grid
// (last value observed in each bucket wins) and computes divergence
// statistics over buckets present in both series.
func CompareEquityCurves(live, backtest []EquitySample, bucketSize time.Duration) EquityComparison {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}

	liveBuckets := resample(live, bucketSize)
	backtestBuckets := resample(backtest, bucketSize)

	var starts []time.Time
	for start := range liveBuckets {
		if _, ok := backtestBuckets[start]; ok {
			starts = append(starts, start)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	comparison := EquityComparison{}
	absDivergences := make([]decimal.Decimal, 0, len(starts))
	liveSeries := make([]float64, 0, len(starts))
	backtestSeries := make([]float64, 0, len(starts))

	for _, start := range starts {
		liveEq := liveBuckets[start]
		backtestEq := backtestBuckets[start]
		divergence := backtestEq.Sub(liveEq)

		comparison.Points = append(comparison.Points, ResampledPoint{
			BucketStart:    start,
			LiveEquity:     liveEq,
			BacktestEquity: backtestEq,
			Divergence:     divergence,
		})
		absDivergences = append(absDivergences, divergence.Abs())
		liveSeries = append(liveSeries, liveEq.InexactFloat64())
		backtestSeries = append(backtestSeries, backtestEq.InexactFloat64())
	}

	comparison.MaxAbsDivergence = maxAbs(absDivergences)
	comparison.MeanAbsDivergence = mean(absDivergences)
	comparison.Correlation = pearson(liveSeries, backtestSeries)

	return comparison
}

// resample buckets samples by truncating each timestamp to bucketSize and
// keeping the last-seen value per bucket; samples must be consumed in
// timestamp order for "last" to be meaningful, so they're sorted first.
func resample(samples []EquitySample, bucketSize time.Duration) map[time.Time]decimal.Decimal {
	sorted := make([]EquitySample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	buckets := make(map[time.Time]decimal.Decimal)
	for _, s := range sorted {
		bucketStart := s.Timestamp.Truncate(bucketSize)
		buckets[bucketStart] = s.Equity
	}
	return buckets
}
