package validation

import (
	"fmt"

	"github.com/gridbot/validation/internal/storage"
)

// Loader fetches normalized trades and equity samples for one run from
// persistent storage, bridging the gorm-backed Store to the pipeline's
// plain NormalizedTrade/EquitySample types.
type Loader struct {
	store *storage.Store
}

// NewLoader constructs a Loader over store.
func NewLoader(store *storage.Store) *Loader {
	return &Loader{store: store}
}

// LoadLive loads and normalizes a live run's executions.
func (l *Loader) LoadLive(runID string) ([]NormalizedTrade, error) {
	rows, err := l.store.PrivateExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("validation: load live executions for run %q: %w", runID, err)
	}
	return LoadLiveTrades(rows), nil
}

// LoadBacktest loads and normalizes a backtest run's executions.
func (l *Loader) LoadBacktest(runID string) ([]NormalizedTrade, error) {
	rows, err := l.store.PrivateExecutionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("validation: load backtest executions for run %q: %w", runID, err)
	}
	return LoadBacktestTrades(rows), nil
}

// LoadEquitySamples loads a run's persisted position snapshots as an
// equity proxy series (sum of unrealized PnL across positions at each
// timestamp), for use by CompareEquityCurves.
func (l *Loader) LoadEquitySamples(runID string) ([]EquitySample, error) {
	positions, err := l.store.PositionsForRun(runID)
	if err != nil {
		return nil, fmt.Errorf("validation: load positions for run %q: %w", runID, err)
	}

	byTimestamp := make(map[int64]EquitySample)
	order := make([]int64, 0)
	for _, p := range positions {
		key := p.ExchangeTS.UnixNano()
		sample, ok := byTimestamp[key]
		if !ok {
			order = append(order, key)
			sample = EquitySample{Timestamp: p.ExchangeTS}
		}
		sample.Equity = sample.Equity.Add(p.UnrealizedPnL)
		byTimestamp[key] = sample
	}

	samples := make([]EquitySample, 0, len(order))
	for _, key := range order {
		samples = append(samples, byTimestamp[key])
	}
	return samples, nil
}

// Report bundles a run comparison's full output: the match result, its
// metrics, and the equity-curve comparison.
type Report struct {
	Match  MatchResult
	Metrics Metrics
	Equity EquityComparison
}

// CompareRuns loads both runs' trades and equity, matches trades, and
// computes the full metrics/equity report.
func (l *Loader) CompareRuns(liveRunID, backtestRunID string) (Report, error) {
	live, err := l.LoadLive(liveRunID)
	if err != nil {
		return Report{}, err
	}
	backtest, err := l.LoadBacktest(backtestRunID)
	if err != nil {
		return Report{}, err
	}

	match := Match(live, backtest)
	metrics := ComputeMetrics(match, len(live), len(backtest))

	liveEquity, err := l.LoadEquitySamples(liveRunID)
	if err != nil {
		return Report{}, err
	}
	backtestEquity, err := l.LoadEquitySamples(backtestRunID)
	if err != nil {
		return Report{}, err
	}
	equity := CompareEquityCurves(liveEquity, backtestEquity, DefaultBucketSize)

	return Report{Match: match, Metrics: metrics, Equity: equity}, nil
}
