package writers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueAndBuffered(t *testing.T) {
	w := New[int]("test", func(ctx context.Context, rows []int) error { return nil }, Config{BatchSize: 10, FlushInterval: time.Second, MaxBuffered: 100})
	w.Enqueue(1)
	w.Enqueue(2)
	if w.Buffered() != 2 {
		t.Fatalf("buffered = %d, want 2", w.Buffered())
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	w := New[int]("test", func(ctx context.Context, rows []int) error { return nil }, Config{BatchSize: 10, FlushInterval: time.Second, MaxBuffered: 2})
	w.Enqueue(1)
	w.Enqueue(2)
	w.Enqueue(3) // should drop 1

	if w.Buffered() != 2 {
		t.Fatalf("buffered = %d, want 2 (capped at MaxBuffered)", w.Buffered())
	}
}

func TestFlushNowEmptiesBufferOnSuccess(t *testing.T) {
	var flushed []int
	w := New[int]("test", func(ctx context.Context, rows []int) error {
		flushed = append(flushed, rows...)
		return nil
	}, Config{BatchSize: 10, FlushInterval: time.Second, MaxBuffered: 100})

	w.Enqueue(1)
	w.Enqueue(2)
	if err := w.FlushNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0 after a successful flush", w.Buffered())
	}
	if len(flushed) != 2 {
		t.Errorf("flushed %d rows, want 2", len(flushed))
	}
}

func TestFlushNowRespectsBatchSize(t *testing.T) {
	var flushedBatches [][]int
	w := New[int]("test", func(ctx context.Context, rows []int) error {
		batch := make([]int, len(rows))
		copy(batch, rows)
		flushedBatches = append(flushedBatches, batch)
		return nil
	}, Config{BatchSize: 2, FlushInterval: time.Second, MaxBuffered: 100})

	for i := 0; i < 5; i++ {
		w.Enqueue(i)
	}
	if err := w.FlushNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(flushedBatches) != 1 || len(flushedBatches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", flushedBatches)
	}
	if w.Buffered() != 3 {
		t.Errorf("buffered = %d, want 3 remaining after a batch-size-limited flush", w.Buffered())
	}
}

func TestFlushNowRetainsBatchOnFailure(t *testing.T) {
	w := New[int]("test", func(ctx context.Context, rows []int) error {
		return errors.New("storage unavailable")
	}, Config{BatchSize: 10, FlushInterval: time.Second, MaxBuffered: 100})

	w.Enqueue(1)
	w.Enqueue(2)
	if err := w.FlushNow(context.Background()); err == nil {
		t.Fatal("expected FlushNow to return the flush error")
	}
	if w.Buffered() != 2 {
		t.Errorf("buffered = %d, want 2 (rows retained on failed flush)", w.Buffered())
	}
}

func TestFlushNowNoopOnEmptyBuffer(t *testing.T) {
	called := false
	w := New[int]("test", func(ctx context.Context, rows []int) error {
		called = true
		return nil
	}, Config{BatchSize: 10, FlushInterval: time.Second, MaxBuffered: 100})

	if err := w.FlushNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("flush func should not be called on an empty buffer")
	}
}

func TestStartStopDrainsBuffer(t *testing.T) {
	var mu sync.Mutex
	var flushed []int
	w := New[int]("test", func(ctx context.Context, rows []int) error {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, rows...)
		return nil
	}, Config{BatchSize: 10, FlushInterval: 10 * time.Millisecond, MaxBuffered: 100})

	w.Start(context.Background())
	w.Enqueue(1)
	w.Enqueue(2)
	w.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Errorf("flushed %d rows after Stop, want 2 (Stop must drain remaining buffer)", len(flushed))
	}
}

func TestStartIsNoopWhenAlreadyRunning(t *testing.T) {
	w := New[int]("test", func(ctx context.Context, rows []int) error { return nil }, Config{BatchSize: 10, FlushInterval: 10 * time.Millisecond, MaxBuffered: 100})
	w.Start(context.Background())
	defer w.Stop(context.Background())
	w.Start(context.Background())
}

func TestNewZeroConfigUsesDefaults(t *testing.T) {
	w := New[int]("test", func(ctx context.Context, rows []int) error { return nil }, Config{})
	if w.config != DefaultConfig() {
		t.Errorf("zero Config should resolve to DefaultConfig, got %+v", w.config)
	}
}
