package live

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/ratelimit"
	"github.com/gridbot/validation/internal/retryqueue"
)

// bybitRateLimitCode is Bybit's retCode for "too many visits" — a signal
// to back off independently of the attempt's own success/failure outcome.
const bybitRateLimitCode = "10006"

// OrderExecutor is the subset of exchange.Adapter the Executor calls —
// narrower than the full Adapter so a fake satisfying just these two
// methods is enough to exercise it in tests.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, symbol string, side gridcore.Side, qty, price decimal.Decimal, reduceOnly bool, positionIdx exchange.PositionIdx, orderLinkID string) (exchange.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
}

// PlaceResult is the outcome of one Place call: the retry-queue result
// plus the exchange order ID, valid only when Success is true.
type PlaceResult struct {
	retryqueue.Result
	OrderID string
}

// Executor gates PlaceOrder/CancelOrder calls behind a Limiter and routes
// failed attempts into a retryqueue.Queue for backoff-and-retry, rather
// than letting the intent engine's place/cancel decisions reach the REST
// API unthrottled and unretried.
type Executor struct {
	adapter     OrderExecutor
	limiter     *ratelimit.Limiter
	queue       *retryqueue.Queue
	positionIdx func(gridcore.Direction) exchange.PositionIdx
}

// NewExecutor constructs an Executor. positionIdx maps a grid direction to
// the Bybit position slot to submit against; pass OneWayPositionIdx for an
// account running one-way mode.
func NewExecutor(adapter OrderExecutor, limiter *ratelimit.Limiter, retryCfg retryqueue.Config, positionIdx func(gridcore.Direction) exchange.PositionIdx) *Executor {
	e := &Executor{adapter: adapter, limiter: limiter, positionIdx: positionIdx}
	e.queue = retryqueue.New(e, retryCfg)
	return e
}

// OneWayPositionIdx is the positionIdx mapping for an account running
// Bybit's one-way (non-hedge) position mode: every order targets the
// single position slot regardless of grid direction.
func OneWayPositionIdx(gridcore.Direction) exchange.PositionIdx {
	return exchange.PositionIdxOneWay
}

// HedgePositionIdx is the positionIdx mapping for an account running
// Bybit's hedge mode: long and short grids hold independent position
// slots.
func HedgePositionIdx(direction gridcore.Direction) exchange.PositionIdx {
	if direction == gridcore.DirectionShort {
		return exchange.PositionIdxShort
	}
	return exchange.PositionIdxLong
}

// Start launches the background retry-queue loop.
func (e *Executor) Start(ctx context.Context) { e.queue.Start(ctx) }

// Stop halts the background retry-queue loop.
func (e *Executor) Stop() { e.queue.Stop() }

// QueueSize reports how many intents are currently awaiting retry.
func (e *Executor) QueueSize() int { return e.queue.Size() }

// Place submits a PlaceLimitIntent, rate-limit-gated. A failed attempt is
// enqueued onto the retry queue rather than returned as a hard error —
// this is infrastructure the intent engine's Tick output flows through,
// not a call the caller needs to retry itself.
func (e *Executor) Place(ctx context.Context, intent gridcore.PlaceLimitIntent) PlaceResult {
	orderID, result := e.attempt(ctx, intent)
	if !result.Success {
		e.queue.Add(intent, result.Error)
	}
	return PlaceResult{Result: result, OrderID: orderID}
}

// Cancel submits a CancelIntent, rate-limit-gated, enqueuing a failed
// attempt onto the retry queue.
func (e *Executor) Cancel(ctx context.Context, intent gridcore.CancelIntent) retryqueue.Result {
	_, result := e.attempt(ctx, intent)
	if !result.Success {
		e.queue.Add(intent, result.Error)
	}
	return result
}

// ExecuteIntents submits every place/cancel decision from one intent
// engine tick. onPlaced/onCancelled (either may be nil) are called for
// each intent that succeeds on the first attempt, letting the caller
// update its local observed-order state without polling the exchange.
func (e *Executor) ExecuteIntents(
	ctx context.Context,
	places []gridcore.PlaceLimitIntent,
	cancels []gridcore.CancelIntent,
	onPlaced func(gridcore.PlaceLimitIntent, string),
	onCancelled func(gridcore.CancelIntent),
) {
	for _, intent := range places {
		result := e.Place(ctx, intent)
		if result.Success && onPlaced != nil {
			onPlaced(intent, result.OrderID)
		}
	}
	for _, intent := range cancels {
		if result := e.Cancel(ctx, intent); result.Success && onCancelled != nil {
			onCancelled(intent)
		}
	}
}

// Execute implements retryqueue.Executor: the queue's own ProcessDue loop
// calls this for an already-enqueued item, so unlike Place/Cancel it must
// not re-enqueue on failure — the queue owns that scheduling decision.
func (e *Executor) Execute(ctx context.Context, intent retryqueue.Intent) retryqueue.Result {
	_, result := e.attempt(ctx, intent)
	return result
}

// attempt is the single rate-limit-gated call path shared by first
// attempts and queued retries.
func (e *Executor) attempt(ctx context.Context, intent retryqueue.Intent) (string, retryqueue.Result) {
	if !e.limiter.CanRequest(ratelimit.RequestTypeOrder) {
		return "", retryqueue.Result{Success: false, Error: "order rate limit exhausted"}
	}

	var orderID string
	var err error
	switch v := intent.(type) {
	case gridcore.PlaceLimitIntent:
		var result exchange.PlaceOrderResult
		result, err = e.adapter.PlaceOrder(ctx, v.Symbol, v.Side, v.Qty, v.Price, v.ReduceOnly, e.positionIdx(v.Direction), v.ClientOrderID)
		orderID = result.OrderID
	case gridcore.CancelIntent:
		_, err = e.adapter.CancelOrder(ctx, v.Symbol, v.OrderID)
	default:
		return "", retryqueue.Result{Success: false, Error: fmt.Sprintf("executor: unsupported intent type %T", intent)}
	}
	e.limiter.RecordRequest(ratelimit.RequestTypeOrder)

	if err != nil {
		if strings.Contains(err.Error(), bybitRateLimitCode) {
			e.limiter.RecordRateLimitHit()
		}
		log.Warn().Err(err).Msg("executor: intent attempt failed")
		return "", retryqueue.Result{Success: false, Error: err.Error()}
	}

	e.limiter.RecordSuccess()
	return orderID, retryqueue.Result{Success: true}
}
