package ratelimit

import (
	"testing"
	"time"
)

func TestCanRequestUnderLimit(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 2, QueryRate: 2, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	if !l.CanRequest(RequestTypeOrder) {
		t.Fatal("a fresh limiter should allow a request")
	}
}

func TestThirdOrderWithinWindowIsBlocked(t *testing.T) {
	// Mirrors the order_rate=2, window=1s scenario: two requests fill the
	// window, a third within the same second must be blocked with a
	// wait_time close to the window length.
	l := NewLimiter(Config{OrderRate: 2, QueryRate: 20, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})

	l.RecordRequest(RequestTypeOrder)
	l.RecordRequest(RequestTypeOrder)

	if l.CanRequest(RequestTypeOrder) {
		t.Fatal("third order request within the window should be blocked")
	}

	wait := l.WaitTime(RequestTypeOrder)
	if wait <= 0 || wait > 1.0 {
		t.Errorf("wait time = %f, want in (0, 1.0]", wait)
	}
}

func TestWaitTimeZeroWhenUnderLimit(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 5, QueryRate: 5, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	l.RecordRequest(RequestTypeOrder)
	if wait := l.WaitTime(RequestTypeOrder); wait != 0 {
		t.Errorf("wait time = %f, want 0 while under the limit", wait)
	}
}

func TestSlidingWindowExpiresOldTimestamps(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 1, QueryRate: 1, WindowSeconds: 0.05, BackoffBase: 1.0, MaxBackoff: 60.0})
	l.RecordRequest(RequestTypeOrder)
	if l.CanRequest(RequestTypeOrder) {
		t.Fatal("should be blocked immediately after filling a 1-request window")
	}

	time.Sleep(80 * time.Millisecond)
	if !l.CanRequest(RequestTypeOrder) {
		t.Fatal("should be allowed again once the window has elapsed")
	}
}

func TestRecordRateLimitHitActivatesBackoff(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 10, QueryRate: 10, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})

	l.RecordRateLimitHit()
	if l.CanRequest(RequestTypeOrder) {
		t.Fatal("a request should be blocked during an active backoff window")
	}
	if remaining := l.BackoffRemaining(); remaining <= 0 {
		t.Errorf("backoff remaining = %f, want > 0", remaining)
	}
}

func TestRecordRateLimitHitDoublesOnConsecutiveHits(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 10, QueryRate: 10, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})

	l.RecordRateLimitHit()
	first := l.BackoffRemaining()

	l.RecordRateLimitHit()
	second := l.BackoffRemaining()

	if second <= first {
		t.Errorf("second consecutive 429 should roughly double the backoff: first=%f second=%f", first, second)
	}
}

func TestRecordRateLimitHitCapsAtMaxBackoff(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 10, QueryRate: 10, WindowSeconds: 1.0, BackoffBase: 10.0, MaxBackoff: 15.0})
	for i := 0; i < 5; i++ {
		l.RecordRateLimitHit()
	}
	if remaining := l.BackoffRemaining(); remaining > 15.0+0.01 {
		t.Errorf("backoff remaining = %f, want capped at MaxBackoff=15", remaining)
	}
}

func TestRecordSuccessResetsConsecutiveCounter(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 10, QueryRate: 10, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	l.RecordRateLimitHit()
	l.RecordSuccess()

	l.RecordRateLimitHit() // should behave like the first hit again, not the second
	remaining := l.BackoffRemaining()
	if remaining > 1.5 {
		t.Errorf("backoff after RecordSuccess reset should restart from BackoffBase, got %f", remaining)
	}
}

func TestBackoffRemainingZeroWhenNotBackingOff(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 10, QueryRate: 10, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	if remaining := l.BackoffRemaining(); remaining != 0 {
		t.Errorf("backoff remaining = %f, want 0 with no prior 429", remaining)
	}
}

func TestAvailableCapacity(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 3, QueryRate: 3, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	if cap := l.AvailableCapacity(RequestTypeOrder); cap != 3 {
		t.Errorf("available capacity = %d, want 3", cap)
	}
	l.RecordRequest(RequestTypeOrder)
	if cap := l.AvailableCapacity(RequestTypeOrder); cap != 2 {
		t.Errorf("available capacity = %d, want 2 after one request", cap)
	}
}

func TestResetClearsStateAndBackoff(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 1, QueryRate: 1, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	l.RecordRequest(RequestTypeOrder)
	l.RecordRateLimitHit()

	l.Reset()

	if !l.CanRequest(RequestTypeOrder) {
		t.Error("CanRequest should be true immediately after Reset")
	}
	if remaining := l.BackoffRemaining(); remaining != 0 {
		t.Errorf("backoff remaining after Reset = %f, want 0", remaining)
	}
}

func TestNewLimiterZeroConfigUsesDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	if l.config != DefaultConfig() {
		t.Errorf("zero Config should resolve to DefaultConfig, got %+v", l.config)
	}
}

func TestQueryAndOrderWindowsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{OrderRate: 1, QueryRate: 1, WindowSeconds: 1.0, BackoffBase: 1.0, MaxBackoff: 60.0})
	l.RecordRequest(RequestTypeOrder)

	if !l.CanRequest(RequestTypeQuery) {
		t.Error("filling the order window should not affect the query window")
	}
}
