package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// EquityComparisonRow is one row of an optional live-vs-backtest equity
// divergence export, produced by internal/validation and attached here
// only for the final CSV bundle.
type EquityComparisonRow struct {
	Timestamp      time.Time
	LiveEquity     string
	BacktestEquity string
	Divergence     string
}

// Reporter renders a Session's trades, equity curve, and summary metrics
// to CSV.
type Reporter struct {
	session *Session
}

// NewReporter constructs a Reporter over session. Finalize should already
// have been called (Run does this automatically).
func NewReporter(session *Session) *Reporter {
	return &Reporter{session: session}
}

// WriteTrades writes one row per fill.
func (r *Reporter) WriteTrades(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: create trades csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"trade_id", "timestamp", "symbol", "side", "direction", "price", "qty", "notional", "realized_pnl", "commission", "order_id", "client_order_id", "strat_id"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range r.session.Trades {
		notional := t.Price.Mul(t.Qty)
		row := []string{
			t.TradeID, t.Timestamp.UTC().Format(time.RFC3339Nano), t.Symbol, t.Side, t.Direction,
			t.Price.String(), t.Qty.String(), notional.String(), t.RealizedPnL.String(), t.Commission.String(),
			t.OrderID, t.ClientOrderID, t.StratID,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteEquityCurve writes one row per equity update point.
func (r *Reporter) WriteEquityCurve(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: create equity csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "equity", "return_pct"}); err != nil {
		return err
	}
	for _, p := range r.session.EquityCurve {
		row := []string{p.Timestamp.UTC().Format(time.RFC3339Nano), p.Equity.String(), p.ReturnPct.String()}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteMetrics writes the finalized summary metrics as key/value pairs.
func (r *Reporter) WriteMetrics(path string) error {
	metrics := r.session.Finalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: create metrics csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"metric", "value"}); err != nil {
		return err
	}
	for _, key := range orderedMetricKeys(metrics) {
		if err := w.Write([]string{key, metrics[key].String()}); err != nil {
			return err
		}
	}
	return w.Error()
}

// WriteEquityComparison writes an optional live-vs-backtest divergence
// export, only produced when the caller supplies resampled rows.
func (r *Reporter) WriteEquityComparison(path string, rows []EquityComparisonRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backtest: create equity comparison csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "live_equity", "backtest_equity", "divergence"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Timestamp.UTC().Format(time.RFC3339Nano), row.LiveEquity, row.BacktestEquity, row.Divergence}); err != nil {
			return err
		}
	}
	return w.Error()
}

// ExportAll bundles trades.csv, equity.csv, and metrics.csv under dir,
// optionally prefixed, plus an equity_comparison.csv when comparisonRows
// is non-empty.
func (r *Reporter) ExportAll(dir, prefix string, comparisonRows []EquityComparisonRow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backtest: create export dir: %w", err)
	}

	name := func(base string) string {
		if prefix == "" {
			return filepath.Join(dir, base)
		}
		return filepath.Join(dir, prefix+"_"+base)
	}

	if err := r.WriteTrades(name("trades.csv")); err != nil {
		return err
	}
	if err := r.WriteEquityCurve(name("equity.csv")); err != nil {
		return err
	}
	if err := r.WriteMetrics(name("metrics.csv")); err != nil {
		return err
	}
	if len(comparisonRows) > 0 {
		if err := r.WriteEquityComparison(name("equity_comparison.csv"), comparisonRows); err != nil {
			return err
		}
	}
	return nil
}

func orderedMetricKeys(metrics map[string]decimal.Decimal) []string {
	// Deterministic, spec-stable ordering rather than Go's randomized map
	// iteration, so repeated exports of the same run produce byte-identical
	// metrics.csv files.
	preferred := []string{
		"initial_balance", "final_balance", "final_equity", "total_return_pct",
		"total_realized_pnl", "total_commission", "total_funding",
		"trade_count", "peak_equity", "max_drawdown_pct",
		"peak_initial_margin", "peak_maintenance_margin",
	}
	out := make([]string, 0, len(metrics))
	seen := make(map[string]bool, len(metrics))
	for _, k := range preferred {
		if _, ok := metrics[k]; ok {
			out = append(out, k)
			seen[k] = true
		}
	}
	for k := range metrics {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out
}
