package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundToTick(t *testing.T) {
	cases := []struct {
		price, tick, want string
	}{
		{"100000.37", "0.1", "100000.4"},
		{"100000.34", "0.1", "100000.3"},
		{"100000.00", "0.5", "100000"},
	}
	for _, c := range cases {
		got := RoundToTick(dec(c.price), dec(c.tick))
		if !got.Equal(dec(c.want)) {
			t.Errorf("RoundToTick(%s, %s) = %s, want %s", c.price, c.tick, got, c.want)
		}
	}
}

// TestRoundToTickHalfwayUsesBankersRounding pins down the exact-halfway
// case: 100000.25/0.5 = 200000.5 ticks, which sits exactly between 200000
// (even) and 200001 (odd). Round-half-to-even picks 200000, giving a
// rounded price of 100000, not 100000.5 — the round-half-away-from-zero
// answer a naive Decimal.Round would produce.
func TestRoundToTickHalfwayUsesBankersRounding(t *testing.T) {
	got := RoundToTick(dec("100000.25"), dec("0.5"))
	if !got.Equal(dec("100000")) {
		t.Errorf("RoundToTick(100000.25, 0.5) = %s, want 100000 (200000.5 ticks rounds down to the even 200000)", got)
	}

	got = RoundToTick(dec("100000.75"), dec("0.5"))
	if !got.Equal(dec("100001")) {
		t.Errorf("RoundToTick(100000.75, 0.5) = %s, want 100001 (200001.5 ticks rounds up to the even 200002)", got)
	}
}

func TestRoundToTickZeroTick(t *testing.T) {
	price := dec("12345.6789")
	if got := RoundToTick(price, decimal.Zero); !got.Equal(price) {
		t.Errorf("RoundToTick with zero tick = %s, want unchanged %s", got, price)
	}
}

func TestRoundUpToStep(t *testing.T) {
	cases := []struct {
		qty, step, want string
	}{
		{"0.0011", "0.001", "0.002"},
		{"0.001", "0.001", "0.001"},
		{"0.0009", "0.001", "0.001"},
	}
	for _, c := range cases {
		got := RoundUpToStep(dec(c.qty), dec(c.step))
		if !got.Equal(dec(c.want)) {
			t.Errorf("RoundUpToStep(%s, %s) = %s, want %s", c.qty, c.step, got, c.want)
		}
	}
}

func TestClientOrderIDDeterministic(t *testing.T) {
	price := dec("100000.1")
	id1 := ClientOrderID("grid-v1", "BTCUSDT", "Buy", 3, price, "long")
	id2 := ClientOrderID("grid-v1", "BTCUSDT", "Buy", 3, price, "long")
	if id1 != id2 {
		t.Fatalf("ClientOrderID not deterministic: %s != %s", id1, id2)
	}
	if len(id1) != 16 {
		t.Fatalf("ClientOrderID length = %d, want 16", len(id1))
	}
}

func TestClientOrderIDSameForScaleEquivalentPrices(t *testing.T) {
	// Two decimal.Decimal values that compare equal but were built at
	// different internal scales must still serialize identically via
	// StringFixed, producing the same digest.
	fromDivision := dec("300000").Div(dec("3")) // 100000.000000...
	fromLiteral := dec("100000")

	id1 := ClientOrderID("grid-v1", "BTCUSDT", "Sell", 0, fromDivision, "short")
	id2 := ClientOrderID("grid-v1", "BTCUSDT", "Sell", 0, fromLiteral, "short")
	if id1 != id2 {
		t.Fatalf("ClientOrderID differs for scale-equivalent prices: %s != %s", id1, id2)
	}
}

func TestClientOrderIDDiffersOnInputChange(t *testing.T) {
	base := ClientOrderID("grid-v1", "BTCUSDT", "Buy", 3, dec("100000.1"), "long")
	variants := []string{
		ClientOrderID("grid-v2", "BTCUSDT", "Buy", 3, dec("100000.1"), "long"),
		ClientOrderID("grid-v1", "ETHUSDT", "Buy", 3, dec("100000.1"), "long"),
		ClientOrderID("grid-v1", "BTCUSDT", "Sell", 3, dec("100000.1"), "long"),
		ClientOrderID("grid-v1", "BTCUSDT", "Buy", 4, dec("100000.1"), "long"),
		ClientOrderID("grid-v1", "BTCUSDT", "Buy", 3, dec("100000.2"), "long"),
		ClientOrderID("grid-v1", "BTCUSDT", "Buy", 3, dec("100000.1"), "short"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d unexpectedly matches base id", i)
		}
	}
}
