// Command tierdrift compares the hardcoded risk-limit tier tables against
// Bybit's live API for every symbol configured, flagging any field whose
// relative delta exceeds --threshold. It is an operational monitor, not
// part of the runtime resolution chain.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/risklimit"
)

const (
	exitNoDrift = 0
	exitDrift   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	thresholdFlag := flag.Float64("threshold", 0.05, "fractional relative-delta threshold that counts as drift (0.05 = 5%)")
	symbolFlag := flag.String("symbol", "", "comma-separated symbol list; defaults to config SYMBOL")
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
		return exitDrift
	}

	symbols := []string{cfg.Symbol}
	if *symbolFlag != "" {
		symbols = strings.Split(*symbolFlag, ",")
	}

	client := exchange.NewBybitClient(cfg.BybitAPIKey, cfg.BybitAPISecret, cfg.BybitBaseURL, cfg.BybitPublicWS, cfg.BybitPrivateWS)
	threshold := decimal.NewFromFloat(*thresholdFlag)

	anyDrift := false
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		entries, err := risklimit.CheckDrift(context.Background(), client, symbol, threshold)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("drift check failed")
			anyDrift = true
			continue
		}
		for _, e := range entries {
			anyDrift = true
			log.Warn().
				Str("symbol", e.Symbol).
				Int("tier", e.TierIndex).
				Str("field", string(e.Field)).
				Str("hardcoded", e.Hardcoded.String()).
				Str("fetched", e.Fetched.String()).
				Str("relative_delta", e.RelativeDelta.String()).
				Msg("risk-limit tier drift detected")
		}
		if len(entries) == 0 {
			log.Info().Str("symbol", symbol).Msg("no drift detected")
		}
	}

	if anyDrift {
		return exitDrift
	}
	return exitNoDrift
}
