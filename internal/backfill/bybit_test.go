package backfill

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFetchKlinesReversesToAscendingOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700000120000","100010","100020","100000","100015","5","500000"],
			["1700000060000","100000","100010","99990","100010","4","400000"]
		]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	klines, err := client.FetchKlines(t.Context(), "BTCUSDT", "1", time.Now(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(klines) != 2 {
		t.Fatalf("got %d klines, want 2", len(klines))
	}
	if klines[0].OpenTime.After(klines[1].OpenTime) {
		t.Error("expected klines in ascending chronological order")
	}
	if !klines[0].Close.Equal(decimal.RequireFromString("100010")) {
		t.Errorf("first kline close = %s, want 100010", klines[0].Close)
	}
}

func TestFetchKlinesReturnsErrorOnNonZeroRetCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10001,"retMsg":"invalid symbol","result":{"list":[]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.FetchKlines(t.Context(), "NOTREAL", "1", time.Now(), 10); err == nil {
		t.Fatal("expected an error for a non-zero retCode")
	}
}

func TestFetchKlinesSkipsMalformedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			["1700000060000","100000","100010","99990","100010","4","400000"],
			["not-a-timestamp","1","1","1","1","1","1"]
		]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	klines, err := client.FetchKlines(t.Context(), "BTCUSDT", "1", time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(klines) != 1 {
		t.Fatalf("got %d klines, want 1 (malformed row dropped)", len(klines))
	}
}

func TestToPublicTradesAssignsDeterministicTradeIDsAndSide(t *testing.T) {
	klines := []Kline{
		{OpenTime: time.UnixMilli(1700000060000).UTC(), Open: decimal.RequireFromString("100"), Close: decimal.RequireFromString("105"), Volume: decimal.RequireFromString("2")},
		{OpenTime: time.UnixMilli(1700000120000).UTC(), Open: decimal.RequireFromString("105"), Close: decimal.RequireFromString("102"), Volume: decimal.RequireFromString("3")},
	}

	trades := ToPublicTrades("BTCUSDT", klines)
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Side != "Buy" {
		t.Errorf("rising kline should map to Buy, got %s", trades[0].Side)
	}
	if trades[1].Side != "Sell" {
		t.Errorf("falling kline should map to Sell, got %s", trades[1].Side)
	}
	if trades[0].TradeID == trades[1].TradeID {
		t.Error("distinct klines should produce distinct trade IDs")
	}
	if trades[0].Source != "backfill" {
		t.Errorf("Source = %q, want backfill", trades[0].Source)
	}

	again := ToPublicTrades("BTCUSDT", klines)
	if trades[0].TradeID != again[0].TradeID {
		t.Error("TradeID should be deterministic across repeated backfills of the same range")
	}
}
