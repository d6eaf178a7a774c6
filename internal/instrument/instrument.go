// Package instrument fetches and caches per-symbol trading parameters
// (tick size, quantity step, min/max order quantity), following the same
// API-then-cache-then-defaults chain as the risk-limit store.
package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Info holds one symbol's tick/step/quantity-bound parameters.
type Info struct {
	Symbol   string
	QtyStep  decimal.Decimal
	TickSize decimal.Decimal
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
}

// defaultInfo is used when neither the API nor the cache has an entry for
// a symbol.
func defaultInfo(symbol string) Info {
	return Info{
		Symbol:   symbol,
		QtyStep:  decimal.RequireFromString("0.001"),
		TickSize: decimal.RequireFromString("0.1"),
		MinQty:   decimal.RequireFromString("0.001"),
		MaxQty:   decimal.RequireFromString("1000"),
	}
}

// Fetcher retrieves a symbol's instrument parameters from the exchange.
type Fetcher interface {
	FetchInstrumentInfo(ctx context.Context, symbol string) (Info, error)
}

type cacheEntry struct {
	Symbol   string          `json:"symbol"`
	QtyStep  decimal.Decimal `json:"qty_step"`
	TickSize decimal.Decimal `json:"tick_size"`
	MinQty   decimal.Decimal `json:"min_qty"`
	MaxQty   decimal.Decimal `json:"max_qty"`
	CachedAt time.Time       `json:"cached_at"`
}

// Provider resolves instrument info via cache -> API -> cache -> defaults,
// matching the risk-limit store's TTL-bounded fallback shape.
type Provider struct {
	cachePath string
	fetcher   Fetcher
	ttl       time.Duration
}

// NewProvider constructs a Provider backed by a JSON cache file at
// cachePath. fetcher may be nil to skip the API step entirely.
func NewProvider(cachePath string, fetcher Fetcher, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Provider{cachePath: cachePath, fetcher: fetcher, ttl: ttl}
}

func (p *Provider) readCache() (map[string]cacheEntry, error) {
	data, err := os.ReadFile(p.cachePath)
	if os.IsNotExist(err) {
		return map[string]cacheEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("instrument: read cache: %w", err)
	}
	if len(data) == 0 {
		return map[string]cacheEntry{}, nil
	}
	var cache map[string]cacheEntry
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("instrument: decode cache: %w", err)
	}
	return cache, nil
}

func (p *Provider) writeCache(cache map[string]cacheEntry) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("instrument: encode cache: %w", err)
	}
	if err := os.WriteFile(p.cachePath, data, 0o644); err != nil {
		return fmt.Errorf("instrument: write cache: %w", err)
	}
	return nil
}

// Get resolves symbol's instrument info. forceFetch skips the fresh-cache
// short-circuit and tries the API first.
func (p *Provider) Get(ctx context.Context, symbol string, forceFetch bool) Info {
	cache, err := p.readCache()
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("instrument cache unreadable")
		cache = map[string]cacheEntry{}
	}

	entry, hasEntry := cache[symbol]

	if !forceFetch && hasEntry && time.Since(entry.CachedAt) < p.ttl {
		return entryToInfo(entry)
	}

	if p.fetcher != nil {
		fetched, err := p.fetcher.FetchInstrumentInfo(ctx, symbol)
		if err == nil && fetched.QtyStep.IsPositive() && fetched.TickSize.IsPositive() {
			cache[symbol] = infoToEntry(fetched)
			if werr := p.writeCache(cache); werr != nil {
				log.Warn().Err(werr).Str("symbol", symbol).Msg("failed to persist instrument cache")
			}
			return fetched
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("instrument API fetch failed")
		}
	}

	if hasEntry {
		log.Warn().Str("symbol", symbol).Msg("API unavailable, using cached instrument info")
		return entryToInfo(entry)
	}

	log.Warn().Str("symbol", symbol).Msg("no instrument info available, using defaults")
	return defaultInfo(symbol)
}

func entryToInfo(e cacheEntry) Info {
	return Info{Symbol: e.Symbol, QtyStep: e.QtyStep, TickSize: e.TickSize, MinQty: e.MinQty, MaxQty: e.MaxQty}
}

func infoToEntry(i Info) cacheEntry {
	return cacheEntry{
		Symbol:   i.Symbol,
		QtyStep:  i.QtyStep,
		TickSize: i.TickSize,
		MinQty:   i.MinQty,
		MaxQty:   i.MaxQty,
		CachedAt: time.Now().UTC(),
	}
}
