package live

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/ratelimit"
	"github.com/gridbot/validation/internal/retryqueue"
)

type fakeOrderExecutor struct {
	mu sync.Mutex

	placeErr    error
	placeResult exchange.PlaceOrderResult
	placeCalls  int

	cancelErr   error
	cancelCalls int
}

func (f *fakeOrderExecutor) PlaceOrder(ctx context.Context, symbol string, side gridcore.Side, qty, price decimal.Decimal, reduceOnly bool, positionIdx exchange.PositionIdx, orderLinkID string) (exchange.PlaceOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	return f.placeResult, f.placeErr
}

func (f *fakeOrderExecutor) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr == nil, f.cancelErr
}

func (f *fakeOrderExecutor) calls() (place, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls, f.cancelCalls
}

func testIntent() gridcore.PlaceLimitIntent {
	return gridcore.PlaceLimitIntent{
		Symbol:        "BTCUSDT",
		Side:          gridcore.SideBuy,
		Price:         decimal.RequireFromString("100000"),
		Qty:           decimal.RequireFromString("0.01"),
		Direction:     gridcore.DirectionLong,
		ClientOrderID: "clientorder1",
	}
}

func TestExecutorPlaceSuccessSkipsRetryQueue(t *testing.T) {
	fake := &fakeOrderExecutor{placeResult: exchange.PlaceOrderResult{OrderID: "o1"}}
	e := NewExecutor(fake, ratelimit.NewLimiter(ratelimit.Config{}), retryqueue.Config{}, OneWayPositionIdx)

	result := e.Place(context.Background(), testIntent())
	if !result.Success || result.OrderID != "o1" {
		t.Fatalf("Place = %+v, want success with order ID o1", result)
	}
	if e.QueueSize() != 0 {
		t.Errorf("QueueSize = %d, want 0 after a successful place", e.QueueSize())
	}
}

func TestExecutorPlaceFailureEnqueuesRetry(t *testing.T) {
	fake := &fakeOrderExecutor{placeErr: errors.New("connection reset")}
	e := NewExecutor(fake, ratelimit.NewLimiter(ratelimit.Config{}), retryqueue.Config{}, OneWayPositionIdx)

	result := e.Place(context.Background(), testIntent())
	if result.Success {
		t.Fatal("Place should report failure when the adapter errors")
	}
	if e.QueueSize() != 1 {
		t.Errorf("QueueSize = %d, want 1 after a failed place", e.QueueSize())
	}
}

func TestExecutorCancelFailureEnqueuesRetry(t *testing.T) {
	fake := &fakeOrderExecutor{cancelErr: errors.New("order not found")}
	e := NewExecutor(fake, ratelimit.NewLimiter(ratelimit.Config{}), retryqueue.Config{}, OneWayPositionIdx)

	result := e.Cancel(context.Background(), gridcore.CancelIntent{Symbol: "BTCUSDT", OrderID: "o1"})
	if result.Success {
		t.Fatal("Cancel should report failure when the adapter errors")
	}
	if e.QueueSize() != 1 {
		t.Errorf("QueueSize = %d, want 1 after a failed cancel", e.QueueSize())
	}
}

func TestExecutorRespectsRateLimit(t *testing.T) {
	fake := &fakeOrderExecutor{placeResult: exchange.PlaceOrderResult{OrderID: "o1"}}
	limiter := ratelimit.NewLimiter(ratelimit.Config{OrderRate: 1, QueryRate: 1, WindowSeconds: 60, BackoffBase: 1, MaxBackoff: 60})
	e := NewExecutor(fake, limiter, retryqueue.Config{}, OneWayPositionIdx)

	first := e.Place(context.Background(), testIntent())
	if !first.Success {
		t.Fatal("first place should succeed under an untouched limiter")
	}

	second := e.Place(context.Background(), testIntent())
	if second.Success {
		t.Fatal("second place should be refused once the order-rate window is exhausted")
	}
	if placeCalls, _ := fake.calls(); placeCalls != 1 {
		t.Errorf("adapter PlaceOrder calls = %d, want 1 (second call should never reach the adapter)", placeCalls)
	}
}

func TestExecutorExecuteDoesNotReenqueue(t *testing.T) {
	fake := &fakeOrderExecutor{placeErr: errors.New("still failing")}
	e := NewExecutor(fake, ratelimit.NewLimiter(ratelimit.Config{}), retryqueue.Config{}, OneWayPositionIdx)

	result := e.Execute(context.Background(), testIntent())
	if result.Success {
		t.Fatal("Execute should surface adapter failure")
	}
	if e.QueueSize() != 0 {
		t.Errorf("QueueSize = %d, want 0 — Execute is the retry queue's own call path and must not self-enqueue", e.QueueSize())
	}
}

func TestExecuteIntentsInvokesCallbacksOnSuccess(t *testing.T) {
	fake := &fakeOrderExecutor{placeResult: exchange.PlaceOrderResult{OrderID: "o1"}}
	e := NewExecutor(fake, ratelimit.NewLimiter(ratelimit.Config{}), retryqueue.Config{}, OneWayPositionIdx)

	var placedOrderID string
	var cancelledIntent gridcore.CancelIntent
	placedCalls, cancelledCalls := 0, 0

	e.ExecuteIntents(
		context.Background(),
		[]gridcore.PlaceLimitIntent{testIntent()},
		[]gridcore.CancelIntent{{Symbol: "BTCUSDT", OrderID: "o2"}},
		func(_ gridcore.PlaceLimitIntent, orderID string) { placedOrderID = orderID; placedCalls++ },
		func(intent gridcore.CancelIntent) { cancelledIntent = intent; cancelledCalls++ },
	)

	if placedCalls != 1 || placedOrderID != "o1" {
		t.Errorf("onPlaced called %d times with order ID %q, want 1 call with o1", placedCalls, placedOrderID)
	}
	if cancelledCalls != 1 || cancelledIntent.OrderID != "o2" {
		t.Errorf("onCancelled called %d times with order %q, want 1 call with o2", cancelledCalls, cancelledIntent.OrderID)
	}
}

func TestHedgePositionIdxMapsDirectionToSlot(t *testing.T) {
	if got := HedgePositionIdx(gridcore.DirectionLong); got != exchange.PositionIdxLong {
		t.Errorf("HedgePositionIdx(long) = %v, want PositionIdxLong", got)
	}
	if got := HedgePositionIdx(gridcore.DirectionShort); got != exchange.PositionIdxShort {
		t.Errorf("HedgePositionIdx(short) = %v, want PositionIdxShort", got)
	}
}
