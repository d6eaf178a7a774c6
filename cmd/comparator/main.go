// Command comparator loads a live run's executions from storage and a
// backtest run's trades (from a prior backtest's trades.csv export, or a
// fresh backtest driven from a config file), matches them by
// (client_order_id, occurrence), and reports the match rate, per-trade
// deltas, and equity-curve divergence.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/backtest"
	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/instrument"
	"github.com/gridbot/validation/internal/risklimit"
	"github.com/gridbot/validation/internal/storage"
	"github.com/gridbot/validation/internal/validation"
)

const (
	exitSuccess     = 0
	exitConfigError = 1
	exitRunFailed   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	runID := flag.String("run-id", "", "live run_id to load from storage")
	backtestTrades := flag.String("backtest-trades", "", "path to a prior backtest's trades.csv")
	backtestConfig := flag.String("backtest-config", "", "path to an env file for a fresh backtest run")
	backtestEquity := flag.String("backtest-equity", "", "optional path to a prior backtest's equity.csv")
	startFlag := flag.String("start", "", "RFC3339 start timestamp")
	endFlag := flag.String("end", "", "RFC3339 end timestamp")
	symbolFlag := flag.String("symbol", "", "symbol filter for a fresh --backtest-config run")
	coinFlag := flag.String("coin", "", "settlement coin label attached to the exported report filenames")
	databaseURL := flag.String("database-url", "", "override DATABASE_URL for loading the live run")
	output := flag.String("output", "out", "directory to export the comparison report to")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *runID == "" {
		log.Error().Msg("--run-id is required")
		return exitConfigError
	}
	if *backtestTrades == "" && *backtestConfig == "" {
		log.Error().Msg("exactly one of --backtest-trades or --backtest-config is required")
		return exitConfigError
	}
	if *backtestTrades != "" && *backtestConfig != "" {
		log.Error().Msg("--backtest-trades and --backtest-config are mutually exclusive")
		return exitConfigError
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}
	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}
	defer store.Close()

	loader := validation.NewLoader(store)
	liveTrades, err := loader.LoadLive(*runID)
	if err != nil {
		log.Error().Err(err).Msg("load live run")
		return exitRunFailed
	}
	liveEquity, err := loader.LoadEquitySamples(*runID)
	if err != nil {
		log.Error().Err(err).Msg("load live equity")
		return exitRunFailed
	}

	var backtestNormalized []validation.NormalizedTrade
	var backtestEquitySamples []validation.EquitySample

	if *backtestTrades != "" {
		backtestNormalized, err = loadTradesCSV(*backtestTrades)
		if err != nil {
			log.Error().Err(err).Msg("load backtest trades csv")
			return exitConfigError
		}
	} else {
		session, err := runFreshBacktest(*backtestConfig, *symbolFlag, *startFlag, *endFlag, cfg)
		if err != nil {
			log.Error().Err(err).Msg("run fresh backtest")
			return exitRunFailed
		}
		backtestNormalized = validation.AssignOccurrences(normalizeSessionTrades(session))
		backtestEquitySamples = sessionEquitySamples(session)
	}

	if *backtestEquity != "" {
		backtestEquitySamples, err = loadEquityCSV(*backtestEquity)
		if err != nil {
			log.Error().Err(err).Msg("load backtest equity csv")
			return exitConfigError
		}
	}

	match := validation.Match(liveTrades, backtestNormalized)
	metrics := validation.ComputeMetrics(match, len(liveTrades), len(backtestNormalized))
	equity := validation.CompareEquityCurves(liveEquity, backtestEquitySamples, validation.DefaultBucketSize)

	prefix := *runID
	if *coinFlag != "" {
		prefix = prefix + "_" + *coinFlag
	}
	if err := exportReport(*output, prefix, match, metrics, equity); err != nil {
		log.Error().Err(err).Msg("export report")
		return exitRunFailed
	}

	log.Info().
		Int("matched", len(match.Matched)).
		Int("live_only", len(match.LiveOnly)).
		Int("backtest_only", len(match.BacktestOnly)).
		Str("match_rate", metrics.MatchRate.String()).
		Msg("comparison complete")
	return exitSuccess
}

// runFreshBacktest loads configPath as an env file layered over the
// process environment, re-resolves config.Config from it, and drives one
// backtest.Runner over the symbol's stored public trades — the same path
// cmd/backtest takes, reused here so --backtest-config needs no
// intermediate CSV.
func runFreshBacktest(configPath, symbol, startStr, endStr string, fallback *config.Config) (*backtest.Session, error) {
	if err := godotenv.Overload(configPath); err != nil {
		return nil, fmt.Errorf("comparator: load backtest config %q: %w", configPath, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("comparator: resolve backtest config: %w", err)
	}
	if symbol == "" {
		symbol = fallback.Symbol
	}

	start, end, err := parseWindow(startStr, endStr)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("comparator: open backtest storage: %w", err)
	}
	defer store.Close()

	trades, err := store.PublicTradesForSymbolInRange(symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("comparator: load public trades: %w", err)
	}

	riskStore := risklimit.NewStore(cfg.RiskLimit.CachePath, nil, cfg.RiskLimit.TTL)
	instrumentProvider := instrument.NewProvider(cfg.Instrument.CachePath, nil, cfg.Instrument.TTL)

	tiers, err := riskStore.Get(context.Background(), symbol, false)
	if err != nil {
		return nil, fmt.Errorf("comparator: load risk limit tiers: %w", err)
	}
	info := instrumentProvider.Get(context.Background(), symbol, false)

	strategy := backtest.StrategyConfig{
		StratID:        cfg.StratID,
		Symbol:         symbol,
		CommissionRate: cfg.CommissionRate,
		Leverage:       cfg.Leverage,
		Tiers:          tiers,
		Qty:            fixedNotionalQty{notional: decimal.NewFromInt(100)},
		LongGrid:       gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold),
		ShortGrid:      gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold),
	}

	runner, err := backtest.NewRunner(backtest.Config{
		InitialBalance: decimal.NewFromInt(10_000),
		WalletBalance:  decimal.NewFromInt(10_000),
		WindDown:       backtest.WindDownCloseAll,
	}, strategy)
	if err != nil {
		return nil, fmt.Errorf("comparator: construct runner: %w", err)
	}

	events := make([]gridcore.TickerEvent, 0, len(trades))
	for _, t := range trades {
		events = append(events, gridcore.TickerEvent{Symbol: symbol, ExchangeTS: t.ExchangeTS, LastPrice: t.Price})
	}

	return runner.Run(events), nil
}

func normalizeSessionTrades(session *backtest.Session) []validation.NormalizedTrade {
	trades := make([]validation.NormalizedTrade, 0, len(session.Trades))
	for _, t := range session.Trades {
		trades = append(trades, validation.NormalizedTrade{
			ClientOrderID: t.ClientOrderID,
			Symbol:        t.Symbol,
			Side:          gridcore.Side(t.Side),
			Direction:     gridcore.Direction(t.Direction),
			Price:         t.Price,
			Qty:           t.Qty,
			Fee:           t.Commission,
			RealizedPnL:   t.RealizedPnL,
			Timestamp:     t.Timestamp,
			Source:        validation.SourceBacktest,
		})
	}
	return trades
}

func sessionEquitySamples(session *backtest.Session) []validation.EquitySample {
	samples := make([]validation.EquitySample, 0, len(session.EquityCurve))
	for _, p := range session.EquityCurve {
		samples = append(samples, validation.EquitySample{Timestamp: p.Timestamp, Equity: p.Equity})
	}
	return samples
}

// loadTradesCSV parses a trades.csv file in the exact column order
// backtest.Reporter.WriteTrades produces, back into NormalizedTrade, so a
// previously exported backtest run can be compared without re-running it.
func loadTradesCSV(path string) ([]validation.NormalizedTrade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("comparator: open trades csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("comparator: read trades csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// header: trade_id, timestamp, symbol, side, direction, price, qty,
	// notional, realized_pnl, commission, order_id, client_order_id, strat_id
	trades := make([]validation.NormalizedTrade, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 13 {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, row[1])
		if err != nil {
			return nil, fmt.Errorf("comparator: parse trades csv timestamp %q: %w", row[1], err)
		}
		price, _ := decimal.NewFromString(row[5])
		qty, _ := decimal.NewFromString(row[6])
		realizedPnL, _ := decimal.NewFromString(row[8])
		commission, _ := decimal.NewFromString(row[9])

		trades = append(trades, validation.NormalizedTrade{
			ClientOrderID: row[11],
			Symbol:        row[2],
			Side:          gridcore.Side(row[3]),
			Direction:     gridcore.Direction(row[4]),
			Price:         price,
			Qty:           qty,
			Fee:           commission,
			RealizedPnL:   realizedPnL,
			Timestamp:     ts,
			Source:        validation.SourceBacktest,
		})
	}
	return validation.AssignOccurrences(trades), nil
}

// loadEquityCSV parses an equity.csv file (timestamp, equity, return_pct)
// into EquitySample, discarding return_pct.
func loadEquityCSV(path string) ([]validation.EquitySample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("comparator: open equity csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("comparator: read equity csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	samples := make([]validation.EquitySample, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("comparator: parse equity csv timestamp %q: %w", row[0], err)
		}
		equity, _ := decimal.NewFromString(row[1])
		samples = append(samples, validation.EquitySample{Timestamp: ts, Equity: equity})
	}
	return samples, nil
}

func exportReport(dir, prefix string, match validation.MatchResult, metrics validation.Metrics, equity validation.EquityComparison) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("comparator: create export dir: %w", err)
	}

	name := func(base string) string { return filepath.Join(dir, prefix+"_"+base) }

	if err := writeDeltasCSV(name("deltas.csv"), metrics); err != nil {
		return err
	}
	if err := writeSummaryCSV(name("metrics.csv"), match, metrics, equity); err != nil {
		return err
	}
	if err := writeEquityComparisonCSV(name("equity_comparison.csv"), equity); err != nil {
		return err
	}
	return nil
}

func writeDeltasCSV(path string, metrics validation.Metrics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"client_order_id", "occurrence", "price_delta", "qty_delta", "fee_delta", "realized_pnl_delta", "timestamp_delta_seconds", "direction"}); err != nil {
		return err
	}
	for _, d := range metrics.Deltas {
		row := []string{
			d.ClientOrderID, strconv.Itoa(d.Occurrence),
			d.PriceDelta.String(), d.QtyDelta.String(), d.FeeDelta.String(), d.RealizedPnLDelta.String(),
			strconv.FormatFloat(d.TimestampDeltaSeconds, 'f', 6, 64), string(d.Direction),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

func writeSummaryCSV(path string, match validation.MatchResult, metrics validation.Metrics, equity validation.EquityComparison) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"metric", "value"}); err != nil {
		return err
	}
	rows := [][2]string{
		{"matched_count", strconv.Itoa(len(match.Matched))},
		{"live_only_count", strconv.Itoa(len(match.LiveOnly))},
		{"backtest_only_count", strconv.Itoa(len(match.BacktestOnly))},
		{"match_rate", metrics.MatchRate.String()},
		{"phantom_rate", metrics.PhantomRate.String()},
		{"mean_abs_price_delta", metrics.MeanAbsPriceDelta.String()},
		{"median_abs_price_delta", metrics.MedianAbsPriceDelta.String()},
		{"max_abs_price_delta", metrics.MaxAbsPriceDelta.String()},
		{"mean_abs_qty_delta", metrics.MeanAbsQtyDelta.String()},
		{"median_abs_qty_delta", metrics.MedianAbsQtyDelta.String()},
		{"max_abs_qty_delta", metrics.MaxAbsQtyDelta.String()},
		{"cumulative_pnl_delta", metrics.CumulativePnLDelta.String()},
		{"pnl_correlation", strconv.FormatFloat(metrics.PnLCorrelation, 'f', 6, 64)},
		{"equity_max_abs_divergence", equity.MaxAbsDivergence.String()},
		{"equity_mean_abs_divergence", equity.MeanAbsDivergence.String()},
		{"equity_correlation", strconv.FormatFloat(equity.Correlation, 'f', 6, 64)},
	}
	for _, row := range rows {
		if err := w.Write(row[:]); err != nil {
			return err
		}
	}
	return w.Error()
}

func writeEquityComparisonCSV(path string, equity validation.EquityComparison) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "live_equity", "backtest_equity", "divergence"}); err != nil {
		return err
	}
	for _, p := range equity.Points {
		row := []string{p.BucketStart.UTC().Format(time.RFC3339Nano), p.LiveEquity.String(), p.BacktestEquity.String(), p.Divergence.String()}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if startStr != "" {
		parsed, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		start = parsed
	}
	if endStr != "" {
		parsed, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
		end = parsed
	}
	return start, end, nil
}

// fixedNotionalQty sizes every order to a fixed USDT notional divided by
// the order's limit price, mirroring cmd/backtest's sizing so a fresh
// --backtest-config run produces comparable trades.
type fixedNotionalQty struct {
	notional decimal.Decimal
}

func (f fixedNotionalQty) CalculateQty(intent gridcore.PlaceLimitIntent, walletBalance decimal.Decimal) decimal.Decimal {
	if intent.Price.IsZero() {
		return decimal.Zero
	}
	return f.notional.Div(intent.Price)
}
