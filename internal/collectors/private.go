package collectors

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/exchange"
	"github.com/gridbot/validation/internal/gridcore"
)

// PrivateHandler receives normalized account-stream events.
type PrivateHandler interface {
	OnExecution(gridcore.ExecutionEvent)
	OnOrder(gridcore.OrderUpdateEvent)
	OnPosition(exchange.PositionSnapshot)
	OnWallet(exchange.WalletSnapshot)
	OnDisconnect(ts time.Time)
	OnReconnect(disconnectedAt, reconnectedAt time.Time)
}

// AuthFunc signs and returns the authentication frame sent immediately
// after connect, since the private stream (unlike the public one) requires
// an API-key/signature handshake before subscriptions are accepted.
type AuthFunc func() (map[string]any, error)

// PrivateCollector maintains a reconnecting websocket connection to the
// account's execution/order/position/wallet topics.
type PrivateCollector struct {
	wsURL   string
	auth    AuthFunc
	handler PrivateHandler

	reconnectDelay time.Duration
	pingInterval   time.Duration
	heartbeatGrace time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	running        bool
	stopCh         chan struct{}
	lastMessageAt  time.Time
	disconnectedAt time.Time
}

// NewPrivateCollector constructs a collector against wsURL, authenticating
// each connection attempt via auth.
func NewPrivateCollector(wsURL string, auth AuthFunc, handler PrivateHandler) *PrivateCollector {
	return &PrivateCollector{
		wsURL:          wsURL,
		auth:           auth,
		handler:        handler,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		heartbeatGrace: defaultHeartbeatGrace,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the connection loop in the background. A no-op if
// already running.
func (c *PrivateCollector) Start() {
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
	log.Info().Msg("private collector started")
}

// Stop tears down the connection and background loops.
func (c *PrivateCollector) Stop() {
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

func (c *PrivateCollector) connectionLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Warn().Err(err).Msg("private ws connect failed, retrying")
			time.Sleep(c.reconnectDelay)
			continue
		}

		c.readLoop()
		time.Sleep(c.reconnectDelay)
	}
}

func (c *PrivateCollector) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return err
	}

	authFrame, err := c.auth()
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(authFrame); err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": []string{"execution", "order", "position", "wallet"},
	}); err != nil {
		conn.Close()
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

	go c.pingLoop(conn)
	log.Info().Msg("private ws connected")
	return nil
}

func (c *PrivateCollector) pingLoop(conn *websocket.Conn) {
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

func (c *PrivateCollector) readLoop() {
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
			log.Warn().Err(err).Msg("private ws read error, reconnecting")
			return
		}

		c.mu.Lock()
		c.lastMessageAt = time.Now().UTC()
		c.mu.Unlock()
		c.processMessage(message)
	}
}

func (c *PrivateCollector) heartbeatMonitorLoop() {
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
				log.Warn().Msg("private ws heartbeat gap detected")
				continue
			}
			c.mu.Unlock()
		}
	}
}

type privateEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type executionPayload struct {
	Symbol      string `json:"symbol"`
	ExecID      string `json:"execId"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	ClosedPnl   string `json:"closedPnl"`
	LeavesQty   string `json:"leavesQty"`
	ExecTime    string `json:"execTime"`
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	LeavesQty   string `json:"leavesQty"`
	OrderStatus string `json:"orderStatus"`
	UpdatedTime string `json:"updatedTime"`
}

type positionPayload struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Size             string `json:"size"`
	AvgPrice         string `json:"avgPrice"`
	UnrealisedPnl    string `json:"unrealisedPnl"`
	PositionValue    string `json:"positionValue"`
	Leverage         string `json:"leverage"`
	UpdatedTime      string `json:"updatedTime"`
}

type walletPayload struct {
	AccountType string `json:"accountType"`
	Coin        []struct {
		Coin            string `json:"coin"`
		WalletBalance   string `json:"walletBalance"`
	} `json:"coin"`
}

func parseMillis(s string) time.Time {
	var ms int64
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return time.Now().UTC()
		}
		ms = ms*10 + int64(ch-'0')
	}
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func (c *PrivateCollector) processMessage(raw []byte) {
	var env privateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Topic {
	case "execution":
		var execs []executionPayload
		if err := json.Unmarshal(env.Data, &execs); err != nil {
			return
		}
		for _, e := range execs {
			price, _ := decimal.NewFromString(e.ExecPrice)
			qty, _ := decimal.NewFromString(e.ExecQty)
			fee, _ := decimal.NewFromString(e.ExecFee)
			closedPnl, _ := decimal.NewFromString(e.ClosedPnl)
			leaves, _ := decimal.NewFromString(e.LeavesQty)
			c.handler.OnExecution(gridcore.ExecutionEvent{
				Symbol:      e.Symbol,
				ExecID:      e.ExecID,
				OrderID:     e.OrderID,
				OrderLinkID: e.OrderLinkID,
				Side:        gridcore.Side(e.Side),
				Price:       price,
				Qty:         qty,
				Fee:         fee,
				ClosedPnL:   closedPnl,
				LeavesQty:   leaves,
				ExchangeTS:  parseMillis(e.ExecTime),
			})
		}

	case "order":
		var orders []orderPayload
		if err := json.Unmarshal(env.Data, &orders); err != nil {
			return
		}
		for _, o := range orders {
			price, _ := decimal.NewFromString(o.Price)
			qty, _ := decimal.NewFromString(o.Qty)
			leaves, _ := decimal.NewFromString(o.LeavesQty)
			c.handler.OnOrder(gridcore.OrderUpdateEvent{
				Symbol:      o.Symbol,
				OrderID:     o.OrderID,
				OrderLinkID: o.OrderLinkID,
				Side:        gridcore.Side(o.Side),
				Price:       price,
				Qty:         qty,
				LeavesQty:   leaves,
				Status:      o.OrderStatus,
				ExchangeTS:  parseMillis(o.UpdatedTime),
			})
		}

	case "position":
		var positions []positionPayload
		if err := json.Unmarshal(env.Data, &positions); err != nil {
			return
		}
		for _, p := range positions {
			size, _ := decimal.NewFromString(p.Size)
			avgPrice, _ := decimal.NewFromString(p.AvgPrice)
			unrealized, _ := decimal.NewFromString(p.UnrealisedPnl)
			positionValue, _ := decimal.NewFromString(p.PositionValue)
			leverage, _ := decimal.NewFromString(p.Leverage)
			direction := gridcore.DirectionLong
			if p.Side == "Sell" {
				direction = gridcore.DirectionShort
			}
			c.handler.OnPosition(exchange.PositionSnapshot{
				Symbol:        p.Symbol,
				Direction:     direction,
				Size:          size,
				AvgPrice:      avgPrice,
				UnrealizedPnL: unrealized,
				PositionValue: positionValue,
				Leverage:      leverage,
				ExchangeTS:    parseMillis(p.UpdatedTime),
			})
		}

	case "wallet":
		var wallets []walletPayload
		if err := json.Unmarshal(env.Data, &wallets); err != nil {
			return
		}
		now := time.Now().UTC()
		for _, w := range wallets {
			for _, coin := range w.Coin {
				balance, _ := decimal.NewFromString(coin.WalletBalance)
				c.handler.OnWallet(exchange.WalletSnapshot{
					AccountID:  w.AccountType,
					Coin:       coin.Coin,
					Balance:    balance,
					ExchangeTS: now,
				})
			}
		}
	}
}
