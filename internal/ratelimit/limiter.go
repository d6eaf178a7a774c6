// Package ratelimit implements the per-account sliding-window request
// tracker with exponential backoff on throttling, used to gate both order
// submission and query calls against the exchange.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// RequestType distinguishes order submission from query calls, which carry
// separate Bybit-documented limits.
type RequestType string

const (
	RequestTypeOrder RequestType = "order"
	RequestTypeQuery RequestType = "query"
)

// Config holds the sliding-window and backoff parameters. Zero-value
// fields are replaced with Bybit's documented defaults by NewLimiter.
type Config struct {
	OrderRate     int
	QueryRate     int
	WindowSeconds float64
	BackoffBase   float64
	MaxBackoff    float64
}

// DefaultConfig matches Bybit's documented per-key limits: 10 order
// requests/second, 20 query requests/second.
func DefaultConfig() Config {
	return Config{
		OrderRate:     10,
		QueryRate:     20,
		WindowSeconds: 1.0,
		BackoffBase:   1.0,
		MaxBackoff:    60.0,
	}
}

// Limiter tracks and enforces one account's rate limits with a sliding
// window per request type plus exponential backoff on 429 responses.
type Limiter struct {
	config Config

	mu              sync.Mutex
	orderTimestamps []time.Time
	queryTimestamps []time.Time
	backoffUntil    time.Time
	consecutive429s int
}

// NewLimiter constructs a Limiter. A zero Config is replaced with
// DefaultConfig.
func NewLimiter(config Config) *Limiter {
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Limiter{config: config}
}

// CanRequest reports whether a request of requestType may be made now:
// not within a backoff window, and under the sliding-window count.
func (l *Limiter) CanRequest(requestType RequestType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(l.backoffUntil) {
		return false
	}

	l.cleanupLocked(now)
	return l.currentCountLocked(requestType) < l.limitFor(requestType)
}

// RecordRequest appends now to the request type's sliding window. Call
// this immediately after a successful request.
func (l *Limiter) RecordRequest(requestType RequestType) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	switch requestType {
	case RequestTypeOrder:
		l.orderTimestamps = append(l.orderTimestamps, now)
	default:
		l.queryTimestamps = append(l.queryTimestamps, now)
	}
}

// WaitTime returns the seconds until the next slot is available for
// requestType, 0 if a request may be made immediately.
func (l *Limiter) WaitTime(requestType RequestType) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(l.backoffUntil) {
		return l.backoffUntil.Sub(now).Seconds()
	}

	l.cleanupLocked(now)
	count := l.currentCountLocked(requestType)
	limit := l.limitFor(requestType)
	if count < limit {
		return 0.0
	}

	timestamps := l.timestampsFor(requestType)
	if len(timestamps) == 0 {
		return 0.0
	}

	oldest := timestamps[0]
	availableAt := oldest.Add(time.Duration(l.config.WindowSeconds * float64(time.Second)))
	wait := availableAt.Sub(now).Seconds()
	if wait < 0 {
		return 0.0
	}
	return wait
}

// RecordRateLimitHit activates exponential backoff after a 429 response.
// Each consecutive hit doubles the backoff delay, capped at MaxBackoff.
func (l *Limiter) RecordRateLimitHit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutive429s++
	backoffSeconds := math.Min(
		l.config.BackoffBase*math.Pow(2, float64(l.consecutive429s-1)),
		l.config.MaxBackoff,
	)
	l.backoffUntil = time.Now().UTC().Add(time.Duration(backoffSeconds * float64(time.Second)))
}

// RecordSuccess resets the consecutive-429 counter. Call on any
// non-throttled response.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutive429s = 0
}

// BackoffRemaining returns the seconds left in the current backoff window,
// 0 if not currently backing off.
func (l *Limiter) BackoffRemaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if now.After(l.backoffUntil) || now.Equal(l.backoffUntil) {
		return 0.0
	}
	return l.backoffUntil.Sub(now).Seconds()
}

// AvailableCapacity returns how many requests of requestType can be made
// immediately.
func (l *Limiter) AvailableCapacity(requestType RequestType) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(l.backoffUntil) {
		return 0
	}

	l.cleanupLocked(now)
	remaining := l.limitFor(requestType) - l.currentCountLocked(requestType)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears all tracked timestamps and backoff state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.orderTimestamps = nil
	l.queryTimestamps = nil
	l.backoffUntil = time.Time{}
	l.consecutive429s = 0
}

func (l *Limiter) cleanupLocked(now time.Time) {
	windowStart := now.Add(-time.Duration(l.config.WindowSeconds * float64(time.Second)))
	l.orderTimestamps = dropBefore(l.orderTimestamps, windowStart)
	l.queryTimestamps = dropBefore(l.queryTimestamps, windowStart)
}

func dropBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && timestamps[i].Before(cutoff) {
		i++
	}
	return timestamps[i:]
}

func (l *Limiter) timestampsFor(requestType RequestType) []time.Time {
	if requestType == RequestTypeOrder {
		return l.orderTimestamps
	}
	return l.queryTimestamps
}

func (l *Limiter) currentCountLocked(requestType RequestType) int {
	return len(l.timestampsFor(requestType))
}

func (l *Limiter) limitFor(requestType RequestType) int {
	if requestType == RequestTypeOrder {
		return l.config.OrderRate
	}
	return l.config.QueryRate
}
