// Package live wires a concrete exchange client to the collectors'
// reconnecting websockets, producing a full exchange.Adapter. It is kept
// separate from internal/exchange to avoid an import cycle: the
// collectors package already depends on internal/exchange for the
// PositionSnapshot/WalletSnapshot types its private stream emits.
package live

import (
	"context"
	"time"

	"github.com/gridbot/validation/internal/collectors"
	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
)

// Client is the full live Adapter: REST via the embedded *exchange.BybitClient,
// inbound events via a public and a private collector.
type Client struct {
	*exchange.BybitClient

	publicSymbol string
	public       *collectors.PublicCollector
	private      *collectors.PrivateCollector
}

// New constructs a Client over bybit, subscribing the public collector to
// symbol's ticker/trade topics.
func New(bybit *exchange.BybitClient, symbol string) *Client {
	return &Client{BybitClient: bybit, publicSymbol: symbol}
}

// callbackBridge adapts exchange.Callbacks to the two collectors'
// narrower per-stream handler interfaces.
type callbackBridge struct {
	cb exchange.Callbacks
}

func (b callbackBridge) OnTicker(e gridcore.TickerEvent)           { b.cb.OnTicker(e) }
func (b callbackBridge) OnPublicTrade(e gridcore.PublicTradeEvent) { b.cb.OnPublicTrade(e) }
func (b callbackBridge) OnExecution(e gridcore.ExecutionEvent)     { b.cb.OnExecution(e) }
func (b callbackBridge) OnOrder(e gridcore.OrderUpdateEvent)       { b.cb.OnOrder(e) }
func (b callbackBridge) OnPosition(p exchange.PositionSnapshot)    { b.cb.OnPosition(p) }
func (b callbackBridge) OnWallet(w exchange.WalletSnapshot)        { b.cb.OnWallet(w) }
func (b callbackBridge) OnDisconnect(ts time.Time)                 { b.cb.OnDisconnect(ts) }
func (b callbackBridge) OnReconnect(d, r time.Time)                { b.cb.OnReconnect(d, r) }

// Connect starts the public and private collectors and blocks until ctx
// is cancelled, satisfying exchange.Adapter.
func (c *Client) Connect(ctx context.Context, cb exchange.Callbacks) error {
	bridge := callbackBridge{cb: cb}

	c.public = collectors.NewPublicCollector(c.BybitClient.PublicWS(), c.publicSymbol, bridge)
	c.private = collectors.NewPrivateCollector(c.BybitClient.PrivateWS(), c.BybitClient.SignPrivateAuth, bridge)

	c.public.Start()
	c.private.Start()

	<-ctx.Done()

	c.public.Stop()
	c.private.Stop()
	return nil
}
