// Command replay drives the same backtest.Runner used by cmd/backtest,
// but over one recorded run's stored public trades (keyed by run_id)
// instead of a symbol's full history — the "replay" leg of the three-way
// validation pipeline.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/backtest"
	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/instrument"
	"github.com/gridbot/validation/internal/risklimit"
	"github.com/gridbot/validation/internal/storage"
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
	databaseURL := flag.String("database-url", "", "override DATABASE_URL")
	runID := flag.String("run-id", "", "recorded run_id to replay; defaults to the latest recorded live run")
	symbolFlag := flag.String("symbol", "", "symbol override; defaults to the recorded run's symbol")
	startFlag := flag.String("start", "", "RFC3339 start timestamp; defaults to the run's earliest trade")
	endFlag := flag.String("end", "", "RFC3339 end timestamp; defaults to the run's latest trade")
	output := flag.String("output", "out", "directory to export trades/equity/metrics CSVs to")
	debug := flag.Bool("debug", false, "enable debug logging")
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
	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("config error")
		return exitConfigError
	}
	defer store.Close()

	resolvedRunID := *runID
	if resolvedRunID == "" {
		resolvedRunID, err = store.LatestRunID("live")
		if err != nil {
			log.Error().Err(err).Msg("auto-discover latest recording run")
			return exitConfigError
		}
		log.Info().Str("run_id", resolvedRunID).Msg("auto-discovered latest recorded run")
	}

	trades, err := store.PublicTradesInRange(resolvedRunID, time.Time{}, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("load recorded trades")
		return exitRunFailed
	}
	if len(trades) == 0 {
		log.Error().Str("run_id", resolvedRunID).Msg("no recorded public trades for run")
		return exitRunFailed
	}

	trades = filterWindow(trades, *startFlag, *endFlag)
	if len(trades) == 0 {
		log.Error().Str("run_id", resolvedRunID).Msg("no recorded trades within the requested window")
		return exitRunFailed
	}

	symbol := *symbolFlag
	if symbol == "" {
		symbol = trades[0].Symbol
	}

	riskStore := risklimit.NewStore(cfg.RiskLimit.CachePath, nil, cfg.RiskLimit.TTL)
	instrumentProvider := instrument.NewProvider(cfg.Instrument.CachePath, nil, cfg.Instrument.TTL)

	tiers, err := riskStore.Get(context.Background(), symbol, false)
	if err != nil {
		log.Error().Err(err).Msg("load risk limit tiers")
		return exitRunFailed
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
		log.Error().Err(err).Msg("construct runner")
		return exitRunFailed
	}

	events := make([]gridcore.TickerEvent, 0, len(trades))
	for _, t := range trades {
		events = append(events, gridcore.TickerEvent{Symbol: symbol, ExchangeTS: t.ExchangeTS, LastPrice: t.Price})
	}

	session := runner.Run(events)

	reporter := backtest.NewReporter(session)
	if err := reporter.ExportAll(*output, resolvedRunID, nil); err != nil {
		log.Error().Err(err).Msg("export")
		return exitRunFailed
	}

	log.Info().Str("run_id", resolvedRunID).Str("symbol", symbol).Int("trades", len(session.Trades)).Msg("replay complete")
	return exitSuccess
}

func filterWindow(trades []storage.PublicTrade, startStr, endStr string) []storage.PublicTrade {
	if startStr == "" && endStr == "" {
		return trades
	}
	start := time.Time{}
	end := time.Now().UTC().Add(100 * 365 * 24 * time.Hour)
	if startStr != "" {
		if parsed, err := time.Parse(time.RFC3339, startStr); err == nil {
			start = parsed
		}
	}
	if endStr != "" {
		if parsed, err := time.Parse(time.RFC3339, endStr); err == nil {
			end = parsed
		}
	}

	filtered := make([]storage.PublicTrade, 0, len(trades))
	for _, t := range trades {
		if (t.ExchangeTS.Equal(start) || t.ExchangeTS.After(start)) && t.ExchangeTS.Before(end) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// fixedNotionalQty sizes every order to a fixed USDT notional divided by
// the order's limit price, matching cmd/backtest's sizing so a replay run
// is directly comparable to its corresponding backtest run.
type fixedNotionalQty struct {
	notional decimal.Decimal
}

func (f fixedNotionalQty) CalculateQty(intent gridcore.PlaceLimitIntent, walletBalance decimal.Decimal) decimal.Decimal {
	if intent.Price.IsZero() {
		return decimal.Zero
	}
	return f.notional.Div(intent.Price)
}
