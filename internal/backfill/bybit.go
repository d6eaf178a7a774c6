// Package backfill seeds public_trades from Bybit's historical kline
// endpoint when no live-recorded history exists for a symbol/range. A
// kline's close price is a coarse proxy for tick-level public trades:
// each one becomes a single synthesized PublicTrade rather than the many
// individual prints that actually occurred in that bucket, so backfilled
// ranges should be treated as directional fill-context only, never as
// the ground truth a live/backtest comparison matches against.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/storage"
)

// Kline is one OHLCV bar from Bybit's /v5/market/kline endpoint.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Client fetches historical linear-perpetual klines from Bybit's public
// REST API. It holds no credentials: kline history is public data.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client against baseURL (e.g. https://api.bybit.com).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type klineEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// FetchKlines fetches up to limit bars of interval (Bybit's minute-count
// strings: "1", "5", "60", "D", ...) for symbol ending at or before end.
// Bybit returns newest-first; FetchKlines reverses the result so callers
// receive bars in ascending chronological order.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, end time.Time, limit int) ([]Kline, error) {
	query := url.Values{
		"category": {"linear"},
		"symbol":   {symbol},
		"interval": {interval},
		"end":      {strconv.FormatInt(end.UnixMilli(), 10)},
		"limit":    {strconv.Itoa(limit)},
	}
	reqURL := c.baseURL + "/v5/market/kline?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backfill: build kline request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill: fetch klines: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backfill: read klines response: %w", err)
	}

	var env klineEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("backfill: decode klines envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("backfill: bybit error %d: %s", env.RetCode, env.RetMsg)
	}

	klines := make([]Kline, 0, len(env.Result.List))
	for _, row := range env.Result.List {
		if len(row) < 7 {
			continue
		}
		k, err := parseKlineRow(row)
		if err != nil {
			continue
		}
		klines = append(klines, k)
	}

	for i, j := 0, len(klines)-1; i < j; i, j = i+1, j-1 {
		klines[i], klines[j] = klines[j], klines[i]
	}
	return klines, nil
}

// parseKlineRow decodes one Bybit kline row: [start, open, high, low,
// close, volume, turnover].
func parseKlineRow(row []string) (Kline, error) {
	startMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse kline start time: %w", err)
	}
	open, err := decimal.NewFromString(row[1])
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse open: %w", err)
	}
	high, err := decimal.NewFromString(row[2])
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse high: %w", err)
	}
	low, err := decimal.NewFromString(row[3])
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse low: %w", err)
	}
	closePrice, err := decimal.NewFromString(row[4])
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse close: %w", err)
	}
	volume, err := decimal.NewFromString(row[5])
	if err != nil {
		return Kline{}, fmt.Errorf("backfill: parse volume: %w", err)
	}

	startTime := time.UnixMilli(startMs).UTC()
	return Kline{
		OpenTime:  startTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: startTime,
	}, nil
}

// ToPublicTrades synthesizes one PublicTrade per kline, tagged with
// source "backfill" so it's never mistaken for a live or simulated
// execution in a validation comparison. TradeID is deterministic on
// (symbol, open time) so repeated backfills of an overlapping range are
// idempotent against the unique index on public_trades.trade_id.
func ToPublicTrades(symbol string, klines []Kline) []storage.PublicTrade {
	trades := make([]storage.PublicTrade, 0, len(klines))
	for _, k := range klines {
		side := "Buy"
		if k.Close.LessThan(k.Open) {
			side = "Sell"
		}
		trades = append(trades, storage.PublicTrade{
			Source:     "backfill",
			Symbol:     symbol,
			Price:      k.Close,
			Qty:        k.Volume,
			Side:       side,
			TradeID:    fmt.Sprintf("backfill_%s_%d", symbol, k.OpenTime.UnixMilli()),
			ExchangeTS: k.OpenTime,
		})
	}
	return trades
}
