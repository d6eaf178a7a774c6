// Package retryqueue retries failed intent execution with exponential
// backoff, dropping items that exceed either the attempt count or the
// elapsed-time deadline.
package retryqueue

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Intent is either a PlaceLimitIntent or a CancelIntent; the queue is
// agnostic to which.
type Intent any

// Result is what an Executor reports back for one retry attempt.
type Result struct {
	Success bool
	Error   string
}

// Executor resubmits a single intent and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, intent Intent) Result
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, intent Intent) Result

func (f ExecutorFunc) Execute(ctx context.Context, intent Intent) Result {
	return f(ctx, intent)
}

// Item is one entry in the retry queue.
type Item struct {
	Intent         Intent
	AttemptCount   int
	FirstAttemptTS time.Time
	NextRetryTS    time.Time
	LastError      string
}

func (i *Item) incrementAttempt(errMsg string, backoffSeconds float64) {
	i.AttemptCount++
	i.LastError = errMsg
	i.NextRetryTS = time.Now().UTC().Add(time.Duration(backoffSeconds * float64(time.Second)))
}

func (i *Item) isDue() bool {
	return !time.Now().UTC().Before(i.NextRetryTS)
}

func (i *Item) elapsedSeconds() float64 {
	return time.Since(i.FirstAttemptTS).Seconds()
}

// Config bounds retry attempts and backoff growth.
type Config struct {
	MaxAttempts       int
	MaxElapsedSeconds float64
	InitialBackoff    float64
	BackoffMultiplier float64
	CheckInterval     time.Duration
}

// DefaultConfig is 3 attempts, 30s max elapsed, 1s initial backoff
// doubling each attempt, checked once a second.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		MaxElapsedSeconds: 30.0,
		InitialBackoff:    1.0,
		BackoffMultiplier: 2.0,
		CheckInterval:     time.Second,
	}
}

// Queue is a FIFO of failed intents retried with exponential backoff until
// either attempt count or elapsed deadline is exceeded.
type Queue struct {
	executor Executor
	config   Config

	mu    sync.Mutex
	items []*Item

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Queue. A zero Config is replaced with DefaultConfig.
func New(executor Executor, config Config) *Queue {
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Queue{executor: executor, config: config}
}

// Size returns the number of items currently queued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Running reports whether the background processing loop is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancel != nil
}

// Add enqueues a failed intent. The first retry is scheduled
// InitialBackoff seconds from now.
func (q *Queue) Add(intent Intent, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	item := &Item{
		Intent:         intent,
		AttemptCount:   1,
		FirstAttemptTS: now,
		LastError:      errMsg,
		NextRetryTS:    now.Add(time.Duration(q.config.InitialBackoff * float64(time.Second))),
	}
	q.items = append(q.items, item)

	log.Info().
		Float64("next_retry_in_s", q.config.InitialBackoff).
		Str("error", errMsg).
		Msg("added intent to retry queue")
}

// Clear removes every queued item and returns the count cleared.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := len(q.items)
	q.items = nil
	return count
}

// ProcessDue attempts every item whose NextRetryTS has passed, dropping
// those that have exhausted their attempt count or elapsed deadline.
// Returns the number of items that were resolved (succeeded or dropped).
func (q *Queue) ProcessDue(ctx context.Context) int {
	q.mu.Lock()
	items := make([]*Item, len(q.items))
	copy(items, q.items)
	q.mu.Unlock()

	processed := 0
	var resolved []*Item

	for _, item := range items {
		if !item.isDue() {
			continue
		}

		if item.AttemptCount >= q.config.MaxAttempts {
			log.Warn().
				Int("attempts", item.AttemptCount).
				Str("last_error", item.LastError).
				Msg("retry exhausted: max attempts reached")
			resolved = append(resolved, item)
			processed++
			continue
		}

		if item.elapsedSeconds() >= q.config.MaxElapsedSeconds {
			log.Warn().
				Float64("elapsed_s", item.elapsedSeconds()).
				Str("last_error", item.LastError).
				Msg("retry exhausted: max elapsed time reached")
			resolved = append(resolved, item)
			processed++
			continue
		}

		log.Info().
			Int("attempt", item.AttemptCount+1).
			Int("max_attempts", q.config.MaxAttempts).
			Msg("retrying intent")

		result := q.executor.Execute(ctx, item.Intent)
		if result.Success {
			log.Info().Msg("retry succeeded")
			resolved = append(resolved, item)
			processed++
			continue
		}

		backoff := q.config.InitialBackoff * math.Pow(q.config.BackoffMultiplier, float64(item.AttemptCount))
		item.incrementAttempt(result.Error, backoff)
		log.Info().Float64("backoff_s", backoff).Str("error", result.Error).Msg("retry failed, rescheduled")
	}

	if len(resolved) > 0 {
		q.mu.Lock()
		q.items = removeAll(q.items, resolved)
		q.mu.Unlock()
	}

	return processed
}

func removeAll(items, toRemove []*Item) []*Item {
	drop := make(map[*Item]bool, len(toRemove))
	for _, item := range toRemove {
		drop[item] = true
	}
	out := items[:0:0]
	for _, item := range items {
		if !drop[item] {
			out = append(out, item)
		}
	}
	return out
}

// Start launches the background loop that calls ProcessDue every
// CheckInterval until Stop is called. A no-op if already running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.runLoop(loopCtx)
	log.Info().Msg("retry queue background task started")
}

// Stop cancels the background loop and waits for it to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	done := q.done
	q.cancel = nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("retry queue background task stopped")
}

func (q *Queue) runLoop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ProcessDue(ctx)
		}
	}
}
