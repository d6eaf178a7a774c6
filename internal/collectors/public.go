// Package collectors connects to the exchange's public and private
// websocket streams and normalizes their messages into gridcore events,
// with heartbeat-gap detection and reconnect callbacks layered on top of
// the usual connect/read/ping reconnecting-websocket loop.
package collectors

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 20 * time.Second
	defaultHeartbeatGrace = 45 * time.Second
)

// PublicHandler receives normalized public-stream events.
type PublicHandler interface {
	OnTicker(gridcore.TickerEvent)
	OnPublicTrade(gridcore.PublicTradeEvent)
	OnDisconnect(ts time.Time)
	OnReconnect(disconnectedAt, reconnectedAt time.Time)
}

// PublicCollector maintains a reconnecting websocket connection to the
// public ticker/trade topics for one symbol.
type PublicCollector struct {
	wsURL   string
	symbol  string
	handler PublicHandler

	reconnectDelay time.Duration
	pingInterval   time.Duration
	heartbeatGrace time.Duration

	mu            sync.Mutex
	conn          *websocket.Conn
	running       bool
	stopCh        chan struct{}
	lastMessageAt time.Time
	disconnectedAt time.Time
}

// NewPublicCollector constructs a collector for symbol against wsURL.
func NewPublicCollector(wsURL, symbol string, handler PublicHandler) *PublicCollector {
	return &PublicCollector{
		wsURL:          wsURL,
		symbol:         symbol,
		handler:        handler,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		heartbeatGrace: defaultHeartbeatGrace,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the connection loop in the background. A no-op if
// already running.
func (c *PublicCollector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.connectionLoop()
	go c.heartbeatMonitorLoop()
	log.Info().Str("symbol", c.symbol).Msg("public collector started")
}

// Stop tears down the connection and background loops.
func (c *PublicCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *PublicCollector) connectionLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Warn().Err(err).Str("symbol", c.symbol).Msg("public ws connect failed, retrying")
			time.Sleep(c.reconnectDelay)
			continue
		}

		c.readLoop()
		time.Sleep(c.reconnectDelay)
	}
}

func (c *PublicCollector) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	wasDisconnected := !c.disconnectedAt.IsZero()
	disconnectedAt := c.disconnectedAt
	c.conn = conn
	c.lastMessageAt = time.Now().UTC()
	c.disconnectedAt = time.Time{}
	c.mu.Unlock()

	if wasDisconnected {
		c.handler.OnReconnect(disconnectedAt, time.Now().UTC())
	}

	subMsg := map[string]any{
		"op":   "subscribe",
		"args": []string{"tickers." + c.symbol, "publicTrade." + c.symbol},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return err
	}

	go c.pingLoop(conn)
	log.Info().Str("symbol", c.symbol).Msg("public ws connected")
	return nil
}

func (c *PublicCollector) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if conn.WriteJSON(map[string]string{"op": "ping"}) != nil {
				return
			}
		}
	}
}

func (c *PublicCollector) readLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			now := time.Now().UTC()
			c.mu.Lock()
			c.disconnectedAt = now
			c.conn = nil
			c.mu.Unlock()
			c.handler.OnDisconnect(now)
			log.Warn().Err(err).Str("symbol", c.symbol).Msg("public ws read error, reconnecting")
			return
		}

		c.mu.Lock()
		c.lastMessageAt = time.Now().UTC()
		c.mu.Unlock()
		c.processMessage(message)
	}
}

// heartbeatMonitorLoop fires OnDisconnect if no message (including pongs
// implicitly resetting lastMessageAt via data frames) has arrived within
// heartbeatGrace, catching silently-dead connections the read loop's
// blocking read wouldn't otherwise notice until the OS finally errors.
func (c *PublicCollector) heartbeatMonitorLoop() {
	ticker := time.NewTicker(c.heartbeatGrace / 3)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := !c.lastMessageAt.IsZero() && time.Since(c.lastMessageAt) > c.heartbeatGrace && c.disconnectedAt.IsZero()
			if stale {
				c.disconnectedAt = time.Now().UTC()
				conn := c.conn
				c.conn = nil
				c.mu.Unlock()
				if conn != nil {
					conn.Close()
				}
				c.handler.OnDisconnect(time.Now().UTC())
				log.Warn().Str("symbol", c.symbol).Msg("public ws heartbeat gap detected")
				continue
			}
			c.mu.Unlock()
		}
	}
}

type wsEnvelope struct {
	Topic string          `json:"topic"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type tickerPayload struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type publicTradePayload struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"v"`
	Side   string `json:"S"`
	TradeID string `json:"i"`
	Ts     int64  `json:"T"`
}

func (c *PublicCollector) processMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch {
	case len(env.Topic) >= 7 && env.Topic[:7] == "tickers":
		var payload tickerPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		if payload.LastPrice == "" {
			return
		}
		price, err := decimal.NewFromString(payload.LastPrice)
		if err != nil {
			return
		}
		c.handler.OnTicker(gridcore.TickerEvent{
			Symbol:     c.symbol,
			LastPrice:  price,
			ExchangeTS: time.UnixMilli(env.Ts).UTC(),
		})

	case len(env.Topic) >= 11 && env.Topic[:11] == "publicTrade":
		var trades []publicTradePayload
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			return
		}
		for _, t := range trades {
			price, err := decimal.NewFromString(t.Price)
			if err != nil {
				continue
			}
			qty, err := decimal.NewFromString(t.Qty)
			if err != nil {
				continue
			}
			c.handler.OnPublicTrade(gridcore.PublicTradeEvent{
				Symbol:     c.symbol,
				Price:      price,
				Size:       qty,
				Side:       gridcore.Side(t.Side),
				TradeID:    t.TradeID,
				ExchangeTS: time.UnixMilli(t.Ts).UTC(),
			})
		}
	}
}
