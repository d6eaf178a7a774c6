package validation

import (
	"testing"
	"time"

	"github.com/gridbot/validation/internal/gridcore"
)

func mkTrade(id string, occ int, price, qty, pnl string, ts time.Time, src Source) NormalizedTrade {
	return NormalizedTrade{
		ClientOrderID: id,
		Occurrence:    occ,
		Price:         dec(price),
		Qty:           dec(qty),
		RealizedPnL:   dec(pnl),
		Timestamp:     ts,
		Direction:     gridcore.DirectionLong,
		Source:        src,
	}
}

func TestMatchPairsByClientOrderIDAndOccurrence(t *testing.T) {
	ts := time.Now().UTC()
	live := []NormalizedTrade{
		mkTrade("a", 0, "100", "1", "0", ts, SourceLive),
		mkTrade("b", 0, "100", "1", "0", ts, SourceLive), // live-only
	}
	backtest := []NormalizedTrade{
		mkTrade("a", 0, "100.1", "1", "0", ts, SourceBacktest),
		mkTrade("c", 0, "100", "1", "0", ts, SourceBacktest), // backtest-only
	}

	result := Match(live, backtest)
	if len(result.Matched) != 1 {
		t.Fatalf("matched = %d, want 1", len(result.Matched))
	}
	if len(result.LiveOnly) != 1 || result.LiveOnly[0].ClientOrderID != "b" {
		t.Fatalf("live-only = %+v, want [b]", result.LiveOnly)
	}
	if len(result.BacktestOnly) != 1 || result.BacktestOnly[0].ClientOrderID != "c" {
		t.Fatalf("backtest-only = %+v, want [c]", result.BacktestOnly)
	}
}

func TestMatchDistinguishesOccurrencesOnReusedID(t *testing.T) {
	ts := time.Now().UTC()
	live := []NormalizedTrade{
		mkTrade("x", 0, "100", "1", "0", ts, SourceLive),
		mkTrade("x", 1, "105", "1", "0", ts, SourceLive),
	}
	backtest := []NormalizedTrade{
		mkTrade("x", 0, "100", "1", "0", ts, SourceBacktest),
		mkTrade("x", 1, "105", "1", "0", ts, SourceBacktest),
	}

	result := Match(live, backtest)
	if len(result.Matched) != 2 {
		t.Fatalf("matched = %d, want 2 (occurrence must disambiguate reused IDs)", len(result.Matched))
	}
}

func TestComputeMetricsDualPathEquivalence(t *testing.T) {
	// Mirrors the dual-path equivalence scenario: identical trades on both
	// sides should produce perfect match rate and zero deltas.
	ts := time.Now().UTC()
	var live, backtest []NormalizedTrade
	for i := 0; i < 5; i++ {
		id := "order" + string(rune('a'+i))
		live = append(live, mkTrade(id, 0, "100", "1", "1.5", ts.Add(time.Duration(i)*time.Minute), SourceLive))
		backtest = append(backtest, mkTrade(id, 0, "100", "1", "1.5", ts.Add(time.Duration(i)*time.Minute), SourceBacktest))
	}

	result := Match(live, backtest)
	metrics := ComputeMetrics(result, len(live), len(backtest))

	if !metrics.MatchRate.Equal(dec("1")) {
		t.Errorf("match rate = %s, want 1", metrics.MatchRate)
	}
	if !metrics.PhantomRate.IsZero() {
		t.Errorf("phantom rate = %s, want 0", metrics.PhantomRate)
	}
	if !metrics.MeanAbsPriceDelta.IsZero() {
		t.Errorf("mean abs price delta = %s, want 0", metrics.MeanAbsPriceDelta)
	}
	if !metrics.CumulativePnLDelta.IsZero() {
		t.Errorf("cumulative PnL delta = %s, want 0", metrics.CumulativePnLDelta)
	}
}

func TestComputeMetricsPhantomRateWithBacktestOnlyTrades(t *testing.T) {
	ts := time.Now().UTC()
	live := []NormalizedTrade{mkTrade("a", 0, "100", "1", "0", ts, SourceLive)}
	backtest := []NormalizedTrade{
		mkTrade("a", 0, "100", "1", "0", ts, SourceBacktest),
		mkTrade("b", 0, "100", "1", "0", ts, SourceBacktest),
	}

	result := Match(live, backtest)
	metrics := ComputeMetrics(result, len(live), len(backtest))

	if !metrics.PhantomRate.Equal(dec("0.5")) {
		t.Errorf("phantom rate = %s, want 0.5 (1 of 2 backtest trades unmatched)", metrics.PhantomRate)
	}
}

func TestComputeMetricsPriceDeltaStatistics(t *testing.T) {
	ts := time.Now().UTC()
	live := []NormalizedTrade{
		mkTrade("a", 0, "100", "1", "0", ts, SourceLive),
		mkTrade("b", 0, "100", "1", "0", ts.Add(time.Minute), SourceLive),
		mkTrade("c", 0, "100", "1", "0", ts.Add(2*time.Minute), SourceLive),
	}
	backtest := []NormalizedTrade{
		mkTrade("a", 0, "101", "1", "0", ts, SourceBacktest),  // delta 1
		mkTrade("b", 0, "103", "1", "0", ts.Add(time.Minute), SourceBacktest), // delta 3
		mkTrade("c", 0, "100", "1", "0", ts.Add(2*time.Minute), SourceBacktest), // delta 0
	}

	result := Match(live, backtest)
	metrics := ComputeMetrics(result, 3, 3)

	wantMean := dec("4").Div(dec("3"))
	if metrics.MeanAbsPriceDelta.Sub(wantMean).Abs().GreaterThan(dec("0.0001")) {
		t.Errorf("mean abs price delta = %s, want ~%s (4/3)", metrics.MeanAbsPriceDelta, wantMean)
	}
	if !metrics.MedianAbsPriceDelta.Equal(dec("1")) {
		t.Errorf("median abs price delta = %s, want 1", metrics.MedianAbsPriceDelta)
	}
	if !metrics.MaxAbsPriceDelta.Equal(dec("3")) {
		t.Errorf("max abs price delta = %s, want 3", metrics.MaxAbsPriceDelta)
	}
}

func TestCompareEquityCurvesDivergenceScenario(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	live := []EquitySample{
		{Timestamp: base, Equity: dec("10000")},
		{Timestamp: base.Add(time.Hour), Equity: dec("10050")},
		{Timestamp: base.Add(2 * time.Hour), Equity: dec("10030")},
	}
	backtest := []EquitySample{
		{Timestamp: base, Equity: dec("10010")},
		{Timestamp: base.Add(time.Hour), Equity: dec("10070")},
		{Timestamp: base.Add(2 * time.Hour), Equity: dec("10030")},
	}

	comparison := CompareEquityCurves(live, backtest, time.Hour)

	if !comparison.MaxAbsDivergence.Equal(dec("20")) {
		t.Errorf("max abs divergence = %s, want 20", comparison.MaxAbsDivergence)
	}
	if !comparison.MeanAbsDivergence.Equal(dec("10")) {
		t.Errorf("mean abs divergence = %s, want 10", comparison.MeanAbsDivergence)
	}
	if comparison.Correlation <= 0.99 {
		t.Errorf("correlation = %f, want > 0.99", comparison.Correlation)
	}
	if len(comparison.Points) != 3 {
		t.Fatalf("got %d resampled points, want 3", len(comparison.Points))
	}
}

func TestCompareEquityCurvesOnlyCommonBuckets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	live := []EquitySample{
		{Timestamp: base, Equity: dec("10000")},
		{Timestamp: base.Add(time.Hour), Equity: dec("10050")},
	}
	backtest := []EquitySample{
		{Timestamp: base, Equity: dec("10010")},
	}

	comparison := CompareEquityCurves(live, backtest, time.Hour)
	if len(comparison.Points) != 1 {
		t.Fatalf("got %d points, want 1 (only the bucket present in both series)", len(comparison.Points))
	}
}

func TestCompareEquityCurvesDefaultsBucketSize(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	live := []EquitySample{{Timestamp: base, Equity: dec("10000")}}
	backtest := []EquitySample{{Timestamp: base, Equity: dec("10000")}}

	comparison := CompareEquityCurves(live, backtest, 0)
	if len(comparison.Points) != 1 {
		t.Fatalf("got %d points, want 1 with a defaulted bucket size", len(comparison.Points))
	}
}
