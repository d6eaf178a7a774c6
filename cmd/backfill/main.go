// Command backfill seeds public_trades with synthesized trades derived
// from Bybit's historical kline endpoint, for ranges that have no
// live-recorded history to replay. It is an operational seeding tool, not
// part of the live/backtest/replay runtime — rows it writes are tagged
// source="backfill" and are never treated as a dual-path comparison's
// ground truth.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridbot/validation/internal/backfill"
	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	symbolFlag := flag.String("symbol", "", "symbol to backfill; defaults to config SYMBOL")
	intervalFlag := flag.String("interval", "1", "Bybit kline interval in minutes (or D/W/M)")
	barsFlag := flag.Int("bars", 1000, "number of klines to fetch (max 1000 per Bybit page)")
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
		return 1
	}

	symbol := cfg.Symbol
	if *symbolFlag != "" {
		symbol = *symbolFlag
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("open storage")
		return 1
	}
	defer store.Close()

	client := backfill.NewClient(cfg.BybitBaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	klines, err := client.FetchKlines(ctx, symbol, *intervalFlag, time.Now().UTC(), *barsFlag)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("fetch klines")
		return 1
	}

	trades := backfill.ToPublicTrades(symbol, klines)
	if err := store.InsertPublicTrades(trades); err != nil {
		log.Error().Err(err).Msg("insert backfilled public trades")
		return 1
	}

	log.Info().Str("symbol", symbol).Int("trades", len(trades)).Msg("backfill complete")
	return 0
}
