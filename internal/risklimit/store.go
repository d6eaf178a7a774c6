// Package risklimit implements the tiered risk-limit store: an
// API-then-cache-then-hardcoded fallback chain with TTL-bounded cache
// entries, guarded by a two-level lock (in-process ref-counted mutex plus
// an OS-level advisory file lock on a sibling lock file).
package risklimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

// DefaultTTL is the cache freshness window used when a Store is built
// without an explicit TTL.
const DefaultTTL = 24 * time.Hour

// Fetcher retrieves a symbol's tier table from the exchange.
type Fetcher interface {
	FetchRiskLimit(ctx context.Context, symbol string) ([]gridcore.RiskLimitTier, error)
}

type cachedTierRecord struct {
	Tiers    [][4]decimal.Decimal `json:"tiers"`
	CachedAt time.Time            `json:"cached_at"`
}

type cacheFile map[string]cachedTierRecord

// Store resolves a symbol's risk-limit tiers through the fallback chain:
// fresh cache -> API (caching on success) -> stale cache -> hardcoded.
type Store struct {
	cachePath string
	lockPath  string
	fetcher   Fetcher
	ttl       time.Duration
}

// NewStore constructs a Store backed by cachePath (a JSON file) and a
// sibling "<cachePath>.lock" file. fetcher may be nil, in which case the
// API step of the chain is skipped entirely.
func NewStore(cachePath string, fetcher Fetcher, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cachePath: cachePath,
		lockPath:  cachePath + ".lock",
		fetcher:   fetcher,
		ttl:       ttl,
	}
}

// Get resolves symbol's tiers via the fallback chain. forceFetch skips the
// fresh-cache short-circuit and always attempts the API first.
func (s *Store) Get(ctx context.Context, symbol string, forceFetch bool) ([]gridcore.RiskLimitTier, error) {
	entry := globalLockRegistry.Acquire(s.lockPath)
	defer globalLockRegistry.Release(s.lockPath, entry)

	lock, err := acquireFileLock(s.lockPath)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("risk-limit cache file lock unavailable, proceeding without cross-process guard")
	} else {
		defer func() {
			if rerr := lock.release(); rerr != nil {
				log.Warn().Err(rerr).Msg("risk-limit cache file lock release failed")
			}
		}()
	}

	cache, cacheErr := s.readCache()
	if cacheErr != nil {
		log.Warn().Err(cacheErr).Msg("risk-limit cache unreadable, treating as empty")
		cache = cacheFile{}
	}

	record, hasRecord := cache[symbol]

	if !forceFetch && hasRecord && time.Since(record.CachedAt) < s.ttl {
		return recordToTiers(record), nil
	}

	if s.fetcher != nil {
		fresh, err := s.fetcher.FetchRiskLimit(ctx, symbol)
		if err == nil && len(fresh) > 0 {
			if werr := s.writeCacheEntry(cache, symbol, fresh); werr != nil {
				log.Warn().Err(werr).Str("symbol", symbol).Msg("failed to persist risk-limit cache entry")
			}
			return fresh, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("risk-limit API fetch failed, falling back")
		}
	}

	if hasRecord {
		return recordToTiers(record), nil
	}

	return HardcodedTiers(symbol), nil
}

func recordToTiers(record cachedTierRecord) []gridcore.RiskLimitTier {
	tiers := make([]gridcore.RiskLimitTier, len(record.Tiers))
	for i, t := range record.Tiers {
		tiers[i] = gridcore.RiskLimitTier{MaxNotional: t[0], MMRRate: t[1], MMDeduction: t[2], IMRRate: t[3]}
	}
	return tiers
}

func tiersToRecord(tiers []gridcore.RiskLimitTier) cachedTierRecord {
	rows := make([][4]decimal.Decimal, len(tiers))
	for i, t := range tiers {
		rows[i] = [4]decimal.Decimal{t.MaxNotional, t.MMRRate, t.MMDeduction, t.IMRRate}
	}
	return cachedTierRecord{Tiers: rows, CachedAt: time.Now().UTC()}
}

func (s *Store) readCache() (cacheFile, error) {
	data, err := os.ReadFile(s.cachePath)
	if os.IsNotExist(err) {
		return cacheFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("risklimit: read cache: %w", err)
	}
	if len(data) == 0 {
		return cacheFile{}, nil
	}
	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("risklimit: decode cache: %w", err)
	}
	return c, nil
}

func (s *Store) writeCacheEntry(cache cacheFile, symbol string, tiers []gridcore.RiskLimitTier) error {
	if cache == nil {
		cache = cacheFile{}
	}
	cache[symbol] = tiersToRecord(tiers)

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("risklimit: encode cache: %w", err)
	}
	if err := os.WriteFile(s.cachePath, data, 0o644); err != nil {
		return fmt.Errorf("risklimit: write cache: %w", err)
	}
	return nil
}
