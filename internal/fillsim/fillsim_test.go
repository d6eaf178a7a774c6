package fillsim

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCheckFillBuyRequiresStrictlyBelowLimit(t *testing.T) {
	order := gridcore.SimulatedOrder{Side: gridcore.SideBuy, Price: dec("100")}

	if ok, _ := CheckFill(order, dec("100")); ok {
		t.Error("a touch at exactly the limit must not fill a resting Buy")
	}
	if ok, _ := CheckFill(order, dec("100.01")); ok {
		t.Error("price above the limit must not fill a resting Buy")
	}
	ok, fillPrice := CheckFill(order, dec("99.99"))
	if !ok {
		t.Fatal("price strictly below the limit should fill a resting Buy")
	}
	if !fillPrice.Equal(dec("100")) {
		t.Errorf("fill price = %s, want the limit price 100", fillPrice)
	}
}

func TestCheckFillSellRequiresStrictlyAboveLimit(t *testing.T) {
	order := gridcore.SimulatedOrder{Side: gridcore.SideSell, Price: dec("100")}

	if ok, _ := CheckFill(order, dec("100")); ok {
		t.Error("a touch at exactly the limit must not fill a resting Sell")
	}
	if ok, _ := CheckFill(order, dec("99.99")); ok {
		t.Error("price below the limit must not fill a resting Sell")
	}
	ok, fillPrice := CheckFill(order, dec("100.01"))
	if !ok {
		t.Fatal("price strictly above the limit should fill a resting Sell")
	}
	if !fillPrice.Equal(dec("100")) {
		t.Errorf("fill price = %s, want the limit price 100", fillPrice)
	}
}

func TestBookPlaceRejectsDuplicateClientOrderID(t *testing.T) {
	b := NewBook(dec("0.0002"))
	intent := gridcore.PlaceLimitIntent{ClientOrderID: "abc123", Symbol: "BTCUSDT", Side: gridcore.SideBuy, Price: dec("100"), Qty: dec("1")}

	if _, ok := b.Place(intent, time.Now()); !ok {
		t.Fatal("first Place should succeed")
	}
	if _, ok := b.Place(intent, time.Now()); ok {
		t.Fatal("duplicate ClientOrderID should be rejected")
	}
}

func TestBookCheckFillsChargesCommissionAndRemovesFromActive(t *testing.T) {
	b := NewBook(dec("0.0002"))
	intent := gridcore.PlaceLimitIntent{
		ClientOrderID: "buy1",
		Symbol:        "BTCUSDT",
		Side:          gridcore.SideBuy,
		Price:         dec("100"),
		Qty:           dec("2"),
		Direction:     gridcore.DirectionLong,
	}
	order, ok := b.Place(intent, time.Now())
	if !ok {
		t.Fatal("Place failed")
	}

	fills := b.CheckFills(dec("99"), time.Now(), "BTCUSDT")
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}

	fill := fills[0]
	wantFee := dec("2").Mul(dec("100")).Mul(dec("0.0002"))
	if !fill.Fee.Equal(wantFee) {
		t.Errorf("fee = %s, want %s", fill.Fee, wantFee)
	}
	if fill.OrderID != order.OrderID {
		t.Errorf("fill OrderID = %s, want %s", fill.OrderID, order.OrderID)
	}

	if _, ok := b.GetOrderByID(order.OrderID); ok {
		t.Error("filled order should no longer be active")
	}
	filled := b.FilledOrders()
	if len(filled) != 1 || filled[0].Status != gridcore.OrderStatusFilled {
		t.Error("filled order should appear in FilledOrders with status Filled")
	}
}

func TestBookCheckFillsFiltersBySymbol(t *testing.T) {
	b := NewBook(dec("0"))
	b.Place(gridcore.PlaceLimitIntent{ClientOrderID: "a", Symbol: "BTCUSDT", Side: gridcore.SideBuy, Price: dec("100"), Qty: dec("1")}, time.Now())
	b.Place(gridcore.PlaceLimitIntent{ClientOrderID: "b", Symbol: "ETHUSDT", Side: gridcore.SideBuy, Price: dec("100"), Qty: dec("1")}, time.Now())

	fills := b.CheckFills(dec("50"), time.Now(), "BTCUSDT")
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1 (symbol-filtered)", len(fills))
	}
	if fills[0].Symbol != "BTCUSDT" {
		t.Errorf("fill symbol = %s, want BTCUSDT", fills[0].Symbol)
	}
}

func TestBookCancelReleasesClientOrderID(t *testing.T) {
	b := NewBook(dec("0"))
	intent := gridcore.PlaceLimitIntent{ClientOrderID: "x", Symbol: "BTCUSDT", Side: gridcore.SideBuy, Price: dec("100"), Qty: dec("1")}
	order, _ := b.Place(intent, time.Now())

	if !b.Cancel(order.OrderID) {
		t.Fatal("Cancel should succeed for an active order")
	}
	if b.Cancel(order.OrderID) {
		t.Fatal("Cancel should fail the second time for an already-cancelled order")
	}

	// ClientOrderID should now be reusable.
	if _, ok := b.Place(intent, time.Now()); !ok {
		t.Fatal("ClientOrderID should be reusable after cancel")
	}
}

func TestBookCancelByClientOrderID(t *testing.T) {
	b := NewBook(dec("0"))
	intent := gridcore.PlaceLimitIntent{ClientOrderID: "y", Symbol: "BTCUSDT", Side: gridcore.SideSell, Price: dec("100"), Qty: dec("1")}
	b.Place(intent, time.Now())

	if !b.CancelByClientOrderID("y") {
		t.Fatal("CancelByClientOrderID should find and cancel the order")
	}
	if b.CancelByClientOrderID("y") {
		t.Fatal("CancelByClientOrderID should return false once already cancelled")
	}
}

func TestBookGetLimitOrdersGroupsByDirection(t *testing.T) {
	b := NewBook(dec("0"))
	b.Place(gridcore.PlaceLimitIntent{ClientOrderID: "l1", Symbol: "BTCUSDT", Side: gridcore.SideBuy, Price: dec("100"), Qty: dec("1"), Direction: gridcore.DirectionLong}, time.Now())
	b.Place(gridcore.PlaceLimitIntent{ClientOrderID: "s1", Symbol: "BTCUSDT", Side: gridcore.SideSell, Price: dec("100"), Qty: dec("1"), Direction: gridcore.DirectionShort}, time.Now())

	grouped := b.GetLimitOrders()
	if len(grouped[gridcore.DirectionLong]) != 1 {
		t.Errorf("long orders = %d, want 1", len(grouped[gridcore.DirectionLong]))
	}
	if len(grouped[gridcore.DirectionShort]) != 1 {
		t.Errorf("short orders = %d, want 1", len(grouped[gridcore.DirectionShort]))
	}
}
