// Command backtest drives the grid engine over a historical public-trade
// stream for one or more symbols and exports the resulting session to CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gridbot/validation/internal/backtest"
	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/instrument"
	"github.com/gridbot/validation/internal/risklimit"
	"github.com/gridbot/validation/internal/storage"
)

const (
	exitSuccess      = 0
	exitConfigError  = 1
	exitSymbolFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	symbolFlag := flag.String("symbol", "", "comma-separated symbol list, e.g. BTCUSDT,ETHUSDT")
	startFlag := flag.String("start", "", "RFC3339 start timestamp")
	endFlag := flag.String("end", "", "RFC3339 end timestamp")
	exportDir := flag.String("export", "out", "directory to export trades/equity/metrics CSVs to")
	debug := flag.Bool("debug", false, "enable debug logging")
	strict := flag.Bool("strict", false, "exit non-zero if any symbol produces zero trades")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}

	if *symbolFlag == "" {
		*symbolFlag = cfg.Symbol
	}
	symbols := strings.Split(*symbolFlag, ",")

	start, end, err := parseWindow(*startFlag, *endFlag)
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}
	defer store.Close()

	riskStore := risklimit.NewStore(cfg.RiskLimit.CachePath, nil, cfg.RiskLimit.TTL)
	instrumentProvider := instrument.NewProvider(cfg.Instrument.CachePath, nil, cfg.Instrument.TTL)

	// Each symbol's grid runs independently against its own slice of
	// history, so the orchestrator fans them out concurrently instead of
	// moving to the next symbol only after the current one settles.
	// store and riskStore are safe for concurrent Get/read calls;
	// instrumentProvider.Get never writes its cache file here since it's
	// constructed with a nil Fetcher.
	var g errgroup.Group
	for _, raw := range symbols {
		symbol := strings.TrimSpace(raw)
		if symbol == "" {
			continue
		}
		g.Go(func() error {
			if err := runSymbol(cfg, store, riskStore, instrumentProvider, symbol, start, end, *exportDir, *strict); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("backtest failed for symbol")
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return exitSymbolFailed
	}
	return exitSuccess
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

func runSymbol(
	cfg *config.Config,
	store *storage.Store,
	riskStore *risklimit.Store,
	instrumentProvider *instrument.Provider,
	symbol string,
	start, end time.Time,
	exportDir string,
	strict bool,
) error {
	trades, err := store.PublicTradesForSymbolInRange(symbol, start, end)
	if err != nil {
		return fmt.Errorf("load public trades: %w", err)
	}

	tiers, err := riskStore.Get(context.Background(), symbol, false)
	if err != nil {
		return fmt.Errorf("load risk limit tiers: %w", err)
	}
	info := instrumentProvider.Get(context.Background(), symbol, false)

	longGrid := gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold)
	shortGrid := gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold)

	strategy := backtest.StrategyConfig{
		StratID:        cfg.StratID,
		Symbol:         symbol,
		CommissionRate: cfg.CommissionRate,
		Leverage:       cfg.Leverage,
		Tiers:          tiers,
		Qty:            fixedNotionalQty{notional: decimal.NewFromInt(100)},
		LongGrid:       longGrid,
		ShortGrid:      shortGrid,
	}

	runner, err := backtest.NewRunner(backtest.Config{
		InitialBalance: decimal.NewFromInt(10_000),
		WalletBalance:  decimal.NewFromInt(10_000),
		WindDown:       backtest.WindDownCloseAll,
	}, strategy)
	if err != nil {
		return fmt.Errorf("construct runner: %w", err)
	}

	events := make([]gridcore.TickerEvent, 0, len(trades))
	for _, t := range trades {
		events = append(events, gridcore.TickerEvent{
			Symbol:     symbol,
			ExchangeTS: t.ExchangeTS,
			LastPrice:  t.Price,
		})
	}

	session := runner.Run(events)
	if strict && len(session.Trades) == 0 {
		return fmt.Errorf("strict mode: symbol %s produced zero trades", symbol)
	}

	reporter := backtest.NewReporter(session)
	if err := reporter.ExportAll(exportDir, symbol, nil); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	log.Info().Str("symbol", symbol).Int("trades", len(session.Trades)).Msg("backtest complete")
	return nil
}

// fixedNotionalQty sizes every order to a fixed USDT notional divided by
// the order's limit price, the simplest QtyCalculator implementation.
type fixedNotionalQty struct {
	notional decimal.Decimal
}

func (f fixedNotionalQty) CalculateQty(intent gridcore.PlaceLimitIntent, walletBalance decimal.Decimal) decimal.Decimal {
	if intent.Price.IsZero() {
		return decimal.Zero
	}
	return f.notional.Div(intent.Price)
}
