package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
	"github.com/gridbot/validation/internal/instrument"
)

const defaultRecvWindow = "5000"

// BybitClient implements the REST half of Bybit's V5 linear perpetual
// API: orders/positions/risk-limit/instrument-info/transaction-log. It
// deliberately does not implement Connect (and therefore not the full
// Adapter interface by itself) — internal/live.Client embeds it and adds
// the websocket half, keeping internal/exchange free of a dependency on
// internal/collectors (which already depends on internal/exchange for
// PositionSnapshot/WalletSnapshot, so the wiring can't live here without
// an import cycle).
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	publicWS   string
	privateWS  string
	httpClient *http.Client
}

// NewBybitClient constructs a client against baseURL/publicWS/privateWS,
// signing REST requests with apiKey/apiSecret.
func NewBybitClient(apiKey, apiSecret, baseURL, publicWS, privateWS string) *BybitClient {
	return &BybitClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		publicWS:   publicWS,
		privateWS:  privateWS,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// PublicWS and PrivateWS expose the configured stream URLs so
// internal/live can construct collectors without duplicating config
// parsing.
func (c *BybitClient) PublicWS() string  { return c.publicWS }
func (c *BybitClient) PrivateWS() string { return c.privateWS }

// SignPrivateAuth builds the auth frame Bybit's private websocket expects
// immediately after connect: {"op":"auth","args":[apiKey, expires, sign]}.
func (c *BybitClient) SignPrivateAuth() (map[string]any, error) {
	expires := time.Now().Add(time.Minute).UnixMilli()
	payload := fmt.Sprintf("GET/realtime%d", expires)
	sign := c.sign(payload)
	return map[string]any{
		"op":   "auth",
		"args": []any{c.apiKey, expires, sign},
	}, nil
}

func (c *BybitClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// doSigned issues a signed REST request per Bybit's V5 HMAC scheme:
// sign = HMAC_SHA256(timestamp + apiKey + recvWindow + queryStringOrBody).
func (c *BybitClient) doSigned(ctx context.Context, method, path string, query url.Values, body map[string]any) ([]byte, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var bodyBytes []byte
	var signPayload string
	reqURL := c.baseURL + path

	if method == http.MethodGet {
		if query == nil {
			query = url.Values{}
		}
		signPayload = timestamp + c.apiKey + defaultRecvWindow + query.Encode()
		if encoded := query.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
	} else {
		var err error
		bodyBytes, err = json.Marshal(orderedBody(body))
		if err != nil {
			return nil, fmt.Errorf("exchange: encode bybit request body: %w", err)
		}
		signPayload = timestamp + c.apiKey + defaultRecvWindow + string(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("exchange: build bybit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", defaultRecvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(signPayload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: bybit request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read bybit response: %w", err)
	}
	return data, nil
}

// orderedBody copies body into a fresh map (an empty one for nil). The
// signed payload is deterministic across Go map iteration because
// encoding/json always writes map keys in sorted order; Bybit does not
// require key order, but stable signatures make retries idempotent to
// reason about.
func orderedBody(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(body))
	for _, k := range keys {
		ordered[k] = body[k]
	}
	return ordered
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *BybitClient) call(ctx context.Context, method, path string, query url.Values, body map[string]any, out any) error {
	data, err := c.doSigned(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("exchange: decode bybit envelope: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("exchange: bybit error %d: %s", env.RetCode, env.RetMsg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// PlaceOrder submits a GTC limit order on the linear category.
func (c *BybitClient) PlaceOrder(ctx context.Context, symbol string, side gridcore.Side, qty, price decimal.Decimal, reduceOnly bool, positionIdx PositionIdx, orderLinkID string) (PlaceOrderResult, error) {
	body := map[string]any{
		"category":    "linear",
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   "Limit",
		"qty":         qty.String(),
		"price":       price.String(),
		"timeInForce": "GTC",
		"reduceOnly":  reduceOnly,
		"positionIdx": int(positionIdx),
		"orderLinkId": orderLinkID,
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, http.MethodPost, "/v5/order/create", nil, body, &result); err != nil {
		return PlaceOrderResult{}, fmt.Errorf("exchange: place order: %w", err)
	}
	return PlaceOrderResult{OrderID: result.OrderID}, nil
}

// CancelOrder cancels a resting order, returning false (not an error) if
// the exchange reports it already gone — a business outcome, not a
// transient failure.
func (c *BybitClient) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	body := map[string]any{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	err := c.call(ctx, http.MethodPost, "/v5/order/cancel", nil, body, nil)
	if err != nil {
		if strings.Contains(err.Error(), "110001") || strings.Contains(err.Error(), "order not exists") {
			return false, nil
		}
		return false, fmt.Errorf("exchange: cancel order: %w", err)
	}
	return true, nil
}

// GetOpenOrders lists resting orders for symbol.
func (c *BybitClient) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/order/realtime", query, nil, &result); err != nil {
		return nil, fmt.Errorf("exchange: get open orders: %w", err)
	}

	orders := make([]OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.Qty)
		orders = append(orders, OpenOrder{
			OrderID:       o.OrderID,
			ClientOrderID: o.OrderLinkID,
			Symbol:        o.Symbol,
			Side:          gridcore.Side(o.Side),
			Price:         price,
			Qty:           qty,
		})
	}
	return orders, nil
}

// GetPositions lists open positions for symbol (both hedge-mode slots if
// present).
func (c *BybitClient) GetPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	query := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			PositionValue string `json:"positionValue"`
			Leverage      string `json:"leverage"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/position/list", query, nil, &result); err != nil {
		return nil, fmt.Errorf("exchange: get positions: %w", err)
	}

	snapshots := make([]PositionSnapshot, 0, len(result.List))
	for _, p := range result.List {
		size, _ := decimal.NewFromString(p.Size)
		avgPrice, _ := decimal.NewFromString(p.AvgPrice)
		unrealized, _ := decimal.NewFromString(p.UnrealisedPnl)
		value, _ := decimal.NewFromString(p.PositionValue)
		leverage, _ := decimal.NewFromString(p.Leverage)

		direction := gridcore.DirectionLong
		if p.Side == "Sell" {
			direction = gridcore.DirectionShort
		}

		snapshots = append(snapshots, PositionSnapshot{
			Symbol:        p.Symbol,
			Direction:     direction,
			Size:          size,
			AvgPrice:      avgPrice,
			UnrealizedPnL: unrealized,
			PositionValue: value,
			Leverage:      leverage,
			ExchangeTS:    parseUpdatedTime(p.UpdatedTime),
		})
	}
	return snapshots, nil
}

// GetRiskLimit fetches symbol's tiered risk-limit table, implementing
// risklimit.Fetcher so the Store's API step and the tier-drift monitor
// can both use this client directly.
func (c *BybitClient) GetRiskLimit(ctx context.Context, symbol string) ([]gridcore.RiskLimitTier, error) {
	query := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []struct {
			RiskLimitValue string `json:"riskLimitValue"`
			MaintainMargin string `json:"maintainMarginRate"`
			InitialMargin  string `json:"initialMarginRate"`
			MMDeduction    string `json:"mmDeduction"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/market/risk-limit", query, nil, &result); err != nil {
		return nil, fmt.Errorf("exchange: get risk limit: %w", err)
	}

	tiers := make([]gridcore.RiskLimitTier, 0, len(result.List))
	for _, t := range result.List {
		maxNotional, _ := decimal.NewFromString(t.RiskLimitValue)
		mmr, _ := decimal.NewFromString(t.MaintainMargin)
		imr, _ := decimal.NewFromString(t.InitialMargin)
		ded, _ := decimal.NewFromString(t.MMDeduction)
		tiers = append(tiers, gridcore.RiskLimitTier{
			MaxNotional: maxNotional,
			MMRRate:     mmr,
			MMDeduction: ded,
			IMRRate:     imr,
		})
	}
	return tiers, nil
}

// FetchRiskLimit satisfies risklimit.Fetcher directly.
func (c *BybitClient) FetchRiskLimit(ctx context.Context, symbol string) ([]gridcore.RiskLimitTier, error) {
	return c.GetRiskLimit(ctx, symbol)
}

// FetchInstrumentInfo satisfies instrument.Fetcher by reading the linear
// category's instruments-info endpoint.
func (c *BybitClient) FetchInstrumentInfo(ctx context.Context, symbol string) (instrument.Info, error) {
	query := url.Values{"category": {"linear"}, "symbol": {symbol}}
	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
				MinQty  string `json:"minOrderQty"`
				MaxQty  string `json:"maxOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := c.call(ctx, http.MethodGet, "/v5/market/instruments-info", query, nil, &result); err != nil {
		return instrument.Info{}, fmt.Errorf("exchange: get instrument info: %w", err)
	}
	if len(result.List) == 0 {
		return instrument.Info{}, fmt.Errorf("exchange: no instrument info returned for %s", symbol)
	}

	row := result.List[0]
	qtyStep, _ := decimal.NewFromString(row.LotSizeFilter.QtyStep)
	minQty, _ := decimal.NewFromString(row.LotSizeFilter.MinQty)
	maxQty, _ := decimal.NewFromString(row.LotSizeFilter.MaxQty)
	tickSize, _ := decimal.NewFromString(row.PriceFilter.TickSize)

	return instrument.Info{
		Symbol:   row.Symbol,
		QtyStep:  qtyStep,
		TickSize: tickSize,
		MinQty:   minQty,
		MaxQty:   maxQty,
	}, nil
}

// GetTransactionLog paginates the account's funding/fee ledger for
// symbol, stopping at maxPages and reporting whether more pages remained.
func (c *BybitClient) GetTransactionLog(ctx context.Context, symbol, logType string, maxPages int) ([]TransactionLogRow, bool, error) {
	var rows []TransactionLogRow
	cursor := ""
	truncated := false

	for page := 0; page < maxPages; page++ {
		query := url.Values{"category": {"linear"}, "symbol": {symbol}, "type": {logType}, "limit": {"50"}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				Type        string `json:"type"`
				TransTime   string `json:"transactionTime"`
				Change      string `json:"change"`
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}
		if err := c.call(ctx, http.MethodGet, "/v5/account/transaction-log", query, nil, &result); err != nil {
			return nil, false, fmt.Errorf("exchange: get transaction log page %d: %w", page, err)
		}
		for _, r := range result.List {
			amount, _ := decimal.NewFromString(r.Change)
			rows = append(rows, TransactionLogRow{
				Symbol:     r.Symbol,
				Type:       r.Type,
				ExchangeTS: parseUpdatedTime(r.TransTime),
				Amount:     amount,
			})
		}
		cursor = result.NextPageCursor
		if cursor == "" {
			break
		}
		if page == maxPages-1 {
			truncated = true
		}
	}

	return rows, truncated, nil
}

func parseUpdatedTime(ms string) time.Time {
	if ms == "" {
		return time.Time{}
	}
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		log.Warn().Str("value", ms).Msg("exchange: unparseable millisecond timestamp")
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
