// Package config loads the platform's runtime configuration from
// environment variables. It reads only the process environment; loading
// a .env file into it is left to the calling command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimitConfig bounds the tier-store cache behavior.
type RiskLimitConfig struct {
	CachePath string
	LockPath  string
	TTL       time.Duration
}

// InstrumentConfig bounds the instrument-info cache behavior.
type InstrumentConfig struct {
	CachePath string
	TTL       time.Duration
}

// RateLimitConfig mirrors ratelimit.Config's fields for env-var loading.
type RateLimitConfig struct {
	OrderRate     int
	QueryRate     int
	WindowSeconds float64
	BackoffBase   float64
	MaxBackoff    float64
}

// RetryConfig mirrors retryqueue.Config's fields for env-var loading.
type RetryConfig struct {
	MaxAttempts       int
	MaxElapsedSeconds float64
	InitialBackoff    float64
	BackoffMultiplier float64
}

// WriterConfig mirrors writers.Config's fields for env-var loading.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffered   int
}

// Config is the platform's full runtime configuration.
type Config struct {
	Mode  string // "live", "backtest", "replay", "comparator", "tierdrift"
	Debug bool

	// Bybit connectivity.
	BybitAPIKey     string
	BybitAPISecret  string
	BybitBaseURL    string
	BybitPublicWS   string
	BybitPrivateWS  string
	BybitTestnet    bool

	// Trading.
	Symbol         string
	StratID        string
	Leverage       decimal.Decimal
	CommissionRate decimal.Decimal
	GridCount      int
	GridStepPct    decimal.Decimal
	RebalanceThreshold decimal.Decimal

	// Storage.
	DatabaseURL string

	// Ambient caches.
	RiskLimit  RiskLimitConfig
	Instrument InstrumentConfig
	RateLimit  RateLimitConfig
	Retry      RetryConfig
	Writer     WriterConfig

	// Grid anchor persistence.
	AnchorStorePath string
}

// Load populates a Config from environment variables, applying the
// spec-documented defaults (24h cache TTLs, Bybit's documented rate
// limits, 3-attempt/30s retry bound) where unset.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:  getEnv("MODE", "backtest"),
		Debug: getEnvBool("DEBUG", false),

		BybitAPIKey:    os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret: os.Getenv("BYBIT_API_SECRET"),
		BybitBaseURL:   getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
		BybitPublicWS:  getEnv("BYBIT_PUBLIC_WS_URL", "wss://stream.bybit.com/v5/public/linear"),
		BybitPrivateWS: getEnv("BYBIT_PRIVATE_WS_URL", "wss://stream.bybit.com/v5/private"),
		BybitTestnet:   getEnvBool("BYBIT_TESTNET", false),

		Symbol:             getEnv("SYMBOL", "BTCUSDT"),
		StratID:            getEnv("STRAT_ID", "grid-v1"),
		Leverage:           getEnvDecimal("LEVERAGE", decimal.NewFromInt(10)),
		CommissionRate:     getEnvDecimal("COMMISSION_RATE", decimal.NewFromFloat(0.0002)),
		GridCount:          getEnvInt("GRID_COUNT", 10),
		GridStepPct:        getEnvDecimal("GRID_STEP_PCT", decimal.NewFromFloat(0.2)),
		RebalanceThreshold: getEnvDecimal("REBALANCE_THRESHOLD", decimal.NewFromFloat(0.3)),

		DatabaseURL: getEnv("DATABASE_URL", "data/gridbot.db"),

		RiskLimit: RiskLimitConfig{
			CachePath: getEnv("RISK_LIMIT_CACHE_PATH", "data/risk_limit_cache.json"),
			LockPath:  getEnv("RISK_LIMIT_LOCK_PATH", "data/risk_limit_cache.json.lock"),
			TTL:       getEnvDuration("RISK_LIMIT_TTL", 24*time.Hour),
		},
		Instrument: InstrumentConfig{
			CachePath: getEnv("INSTRUMENT_CACHE_PATH", "data/instrument_cache.json"),
			TTL:       getEnvDuration("INSTRUMENT_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			OrderRate:     getEnvInt("RATE_LIMIT_ORDER_RATE", 10),
			QueryRate:     getEnvInt("RATE_LIMIT_QUERY_RATE", 20),
			WindowSeconds: getEnvFloat("RATE_LIMIT_WINDOW_SECONDS", 1.0),
			BackoffBase:   getEnvFloat("RATE_LIMIT_BACKOFF_BASE", 1.0),
			MaxBackoff:    getEnvFloat("RATE_LIMIT_MAX_BACKOFF", 60.0),
		},
		Retry: RetryConfig{
			MaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			MaxElapsedSeconds: getEnvFloat("RETRY_MAX_ELAPSED_SECONDS", 30.0),
			InitialBackoff:    getEnvFloat("RETRY_INITIAL_BACKOFF", 1.0),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		},
		Writer: WriterConfig{
			BatchSize:     getEnvInt("WRITER_BATCH_SIZE", 100),
			FlushInterval: getEnvDuration("WRITER_FLUSH_INTERVAL", time.Second),
			MaxBuffered:   getEnvInt("WRITER_MAX_BUFFERED", 10_000),
		},

		AnchorStorePath: getEnv("ANCHOR_STORE_PATH", "data/grid_anchor.json"),
	}

	if cfg.Mode != "backtest" && cfg.Mode != "replay" {
		if cfg.BybitAPIKey == "" || cfg.BybitAPISecret == "" {
			return nil, fmt.Errorf("config: BYBIT_API_KEY and BYBIT_API_SECRET are required in mode %q", cfg.Mode)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
