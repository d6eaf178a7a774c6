// Command live connects to Bybit's linear-perpetual public and private
// websocket streams, drives a long and a short grid against the real
// account, and submits the resulting place/cancel decisions through a
// rate-limit-gated, retry-backed executor.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/config"
	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/instrument"
	"github.com/gridbot/validation/internal/live"
	"github.com/gridbot/validation/internal/position"
	"github.com/gridbot/validation/internal/ratelimit"
	"github.com/gridbot/validation/internal/retryqueue"
	"github.com/gridbot/validation/internal/risklimit"
	"github.com/gridbot/validation/internal/storage"
	"github.com/gridbot/validation/internal/writers"
)

const exitConfigError = 1

func main() {
	os.Exit(run())
}

func run() int {
	tickInterval := flag.Duration("tick-interval", 2*time.Second, "how often the grid engines re-evaluate against the latest price")
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

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("open storage")
		return exitConfigError
	}
	defer store.Close()

	bybit := exchange.NewBybitClient(cfg.BybitAPIKey, cfg.BybitAPISecret, cfg.BybitBaseURL, cfg.BybitPublicWS, cfg.BybitPrivateWS)
	client := live.New(bybit, cfg.Symbol)

	riskStore := risklimit.NewStore(cfg.RiskLimit.CachePath, bybit, cfg.RiskLimit.TTL)
	instrumentProvider := instrument.NewProvider(cfg.Instrument.CachePath, bybit, cfg.Instrument.TTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tiers, err := riskStore.Get(ctx, cfg.Symbol, false)
	if err != nil {
		log.Error().Err(err).Msg("load risk limit tiers")
		return exitConfigError
	}
	info := instrumentProvider.Get(ctx, cfg.Symbol, false)

	longTracker, err := position.New(gridcore.DirectionLong, cfg.Symbol, cfg.CommissionRate, cfg.Leverage, tiers)
	if err != nil {
		log.Error().Err(err).Msg("construct long position tracker")
		return exitConfigError
	}
	shortTracker, err := position.New(gridcore.DirectionShort, cfg.Symbol, cfg.CommissionRate, cfg.Leverage, tiers)
	if err != nil {
		log.Error().Err(err).Msg("construct short position tracker")
		return exitConfigError
	}

	longGrid := gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold)
	shortGrid := gridcore.NewGrid(info.TickSize, cfg.GridCount, cfg.GridStepPct, cfg.RebalanceThreshold)
	qty := fixedNotionalQty{notional: decimal.NewFromInt(100)}
	longEngine := gridcore.NewIntentEngine(cfg.StratID, cfg.Symbol, gridcore.DirectionLong, longGrid, qty)
	shortEngine := gridcore.NewIntentEngine(cfg.StratID, cfg.Symbol, gridcore.DirectionShort, shortGrid, qty)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		OrderRate:     cfg.RateLimit.OrderRate,
		QueryRate:     cfg.RateLimit.QueryRate,
		WindowSeconds: cfg.RateLimit.WindowSeconds,
		BackoffBase:   cfg.RateLimit.BackoffBase,
		MaxBackoff:    cfg.RateLimit.MaxBackoff,
	})
	retryCfg := retryqueue.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		MaxElapsedSeconds: cfg.Retry.MaxElapsedSeconds,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		CheckInterval:     time.Second,
	}
	executor := live.NewExecutor(bybit, limiter, retryCfg, live.HedgePositionIdx)
	book := live.NewOrderBook()

	writerCfg := writers.Config{BatchSize: cfg.Writer.BatchSize, FlushInterval: cfg.Writer.FlushInterval, MaxBuffered: cfg.Writer.MaxBuffered}
	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + cfg.Symbol

	tradeWriter := writers.New("public_trades", func(ctx context.Context, rows []storage.PublicTrade) error {
		return store.InsertPublicTrades(rows)
	}, writerCfg)
	execWriter := writers.New("private_executions", func(ctx context.Context, rows []storage.PrivateExecution) error {
		return store.InsertPrivateExecutions(rows)
	}, writerCfg)
	orderWriter := writers.New("orders", func(ctx context.Context, rows []storage.Order) error {
		return store.UpsertOrders(rows)
	}, writerCfg)
	positionWriter := writers.New("positions", func(ctx context.Context, rows []storage.Position) error {
		return store.InsertPositions(rows)
	}, writerCfg)
	walletWriter := writers.New("wallets", func(ctx context.Context, rows []storage.Wallet) error {
		return store.InsertWallets(rows)
	}, writerCfg)

	state := &liveState{}
	cb := &liveCallbacks{
		runID:          runID,
		symbol:         cfg.Symbol,
		book:           book,
		state:          state,
		longTracker:    longTracker,
		shortTracker:   shortTracker,
		tradeWriter:    tradeWriter,
		execWriter:     execWriter,
		orderWriter:    orderWriter,
		positionWriter: positionWriter,
		walletWriter:   walletWriter,
	}

	executor.Start(ctx)
	defer executor.Stop()
	tradeWriter.Start(ctx)
	execWriter.Start(ctx)
	orderWriter.Start(ctx)
	positionWriter.Start(ctx)
	walletWriter.Start(ctx)
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		tradeWriter.Stop(flushCtx)
		execWriter.Stop(flushCtx)
		orderWriter.Stop(flushCtx)
		positionWriter.Stop(flushCtx)
		walletWriter.Stop(flushCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Connect(ctx, cb); err != nil {
			log.Error().Err(err).Msg("live connection terminated")
		}
	}()

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("symbol", cfg.Symbol).Str("run_id", runID).Msg("live trading started")

loop:
	for {
		select {
		case <-ticker.C:
			runTick(ctx, state, longEngine, book, executor)
			runTick(ctx, state, shortEngine, book, executor)
		case <-quit:
			log.Info().Msg("shutdown signal received")
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	wg.Wait()
	log.Info().Msg("live trading stopped")
	return 0
}

// runTick drives one intent engine's Tick against the latest known price
// and wallet balance, then submits the resulting intents through the
// executor, updating the order book's local state for successful placements.
func runTick(ctx context.Context, state *liveState, engine *gridcore.IntentEngine, book *live.OrderBook, executor *live.Executor) {
	lastPrice, ok := state.LastPrice()
	if !ok {
		return
	}
	lastFilled := state.LastFilledPrice(engine.Direction)
	observed := book.Observed(engine.Direction)
	walletBalance := state.WalletBalance()

	places, cancels := engine.Tick(lastPrice, lastFilled, observed, walletBalance)
	if len(places) == 0 && len(cancels) == 0 {
		return
	}

	for _, p := range places {
		book.NoteDirection(p.ClientOrderID, p.Direction)
	}

	executor.ExecuteIntents(ctx, places, cancels,
		func(intent gridcore.PlaceLimitIntent, orderID string) {
			book.AddPlaced(intent, orderID)
		},
		func(intent gridcore.CancelIntent) {
			book.RemoveByOrderID(intent.OrderID)
		},
	)
}

// liveState holds the mutable market/account state the tick loop reads,
// fed by callbacks off the websocket streams.
type liveState struct {
	mu            sync.Mutex
	lastPrice     decimal.Decimal
	havePrice     bool
	lastFillLong  *decimal.Decimal
	lastFillShort *decimal.Decimal
	walletBalance decimal.Decimal
}

func (s *liveState) SetLastPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = p
	s.havePrice = true
}

func (s *liveState) LastPrice() (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice, s.havePrice
}

func (s *liveState) SetLastFilledPrice(direction gridcore.Direction, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := price
	if direction == gridcore.DirectionLong {
		s.lastFillLong = &p
	} else {
		s.lastFillShort = &p
	}
}

func (s *liveState) LastFilledPrice(direction gridcore.Direction) *decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if direction == gridcore.DirectionLong {
		return s.lastFillLong
	}
	return s.lastFillShort
}

func (s *liveState) SetWalletBalance(b decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletBalance = b
}

func (s *liveState) WalletBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walletBalance
}

// fixedNotionalQty sizes every order to a fixed USDT notional divided by
// the order's limit price.
type fixedNotionalQty struct {
	notional decimal.Decimal
}

func (f fixedNotionalQty) CalculateQty(intent gridcore.PlaceLimitIntent, walletBalance decimal.Decimal) decimal.Decimal {
	if intent.Price.IsZero() {
		return decimal.Zero
	}
	return f.notional.Div(intent.Price)
}
