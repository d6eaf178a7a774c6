// Package writers buffers rows destined for storage and flushes them in
// batches, either when the buffer fills or on a timer, re-enqueueing at
// the front of the buffer on a failed flush so nothing is silently
// dropped.
package writers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FlushFunc persists one batch of rows. Returning an error leaves the
// batch in the buffer for the next flush attempt.
type FlushFunc[T any] func(ctx context.Context, rows []T) error

// Config bounds a Writer's buffering behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffered   int
}

// DefaultConfig flushes every 100 rows or every second, whichever comes
// first, and bounds the buffer to 10,000 rows to avoid unbounded memory
// growth if storage is down.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		MaxBuffered:   10_000,
	}
}

// Writer is a generic bounded-buffer batch writer for one destination
// table.
type Writer[T any] struct {
	name   string
	flush  FlushFunc[T]
	config Config

	mu     sync.Mutex
	buffer []T

	cancel context.CancelFunc
	done   chan struct{}

	droppedTotal int
}

// New constructs a Writer. A zero Config is replaced with DefaultConfig.
func New[T any](name string, flush FlushFunc[T], config Config) *Writer[T] {
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Writer[T]{name: name, flush: flush, config: config}
}

// Enqueue appends row to the buffer, dropping the oldest row and logging
// a warning if the buffer is already at MaxBuffered.
func (w *Writer[T]) Enqueue(row T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) >= w.config.MaxBuffered {
		w.buffer = w.buffer[1:]
		w.droppedTotal++
		log.Warn().Str("writer", w.name).Int("dropped_total", w.droppedTotal).Msg("writer buffer full, dropping oldest row")
	}
	w.buffer = append(w.buffer, row)
}

// Buffered returns the current buffer length.
func (w *Writer[T]) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// FlushNow synchronously flushes up to BatchSize buffered rows. On
// failure the batch is put back at the front of the buffer so ordering
// is preserved across retries.
func (w *Writer[T]) FlushNow(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	n := len(w.buffer)
	if n > w.config.BatchSize {
		n = w.config.BatchSize
	}
	batch := make([]T, n)
	copy(batch, w.buffer[:n])
	w.mu.Unlock()

	if err := w.flush(ctx, batch); err != nil {
		log.Warn().Str("writer", w.name).Err(err).Int("batch_size", n).Msg("flush failed, retaining batch")
		return err
	}

	w.mu.Lock()
	w.buffer = w.buffer[n:]
	w.mu.Unlock()
	return nil
}

// Start launches the background flush loop. A no-op if already running.
func (w *Writer[T]) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(loopCtx)
	log.Info().Str("writer", w.name).Msg("writer started")
}

// Stop cancels the flush loop, waits for it to exit, and flushes any
// remaining buffered rows.
func (w *Writer[T]) Stop(ctx context.Context) {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for w.Buffered() > 0 {
		if err := w.FlushNow(ctx); err != nil {
			log.Error().Str("writer", w.name).Err(err).Msg("final flush failed, rows may be lost")
			return
		}
	}
	log.Info().Str("writer", w.name).Msg("writer stopped, buffer drained")
}

func (w *Writer[T]) runLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for w.Buffered() >= w.config.BatchSize {
				if err := w.FlushNow(ctx); err != nil {
					break
				}
			}
			_ = w.FlushNow(ctx)
		}
	}
}
