package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/gridbot/validation/internal/gridcore"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tier(maxNotional, mmr, mmDeduction, imr string) gridcore.RiskLimitTier {
	return gridcore.RiskLimitTier{
		MaxNotional: dec(maxNotional),
		MMRRate:     dec(mmr),
		MMDeduction: dec(mmDeduction),
		IMRRate:     dec(imr),
	}
}

func testTiers() []gridcore.RiskLimitTier {
	return []gridcore.RiskLimitTier{
		tier("50000", "0.005", "0", "0.01"),
		tier("500000", "0.01", "250", "0.02"),
	}
}

func TestNewRejectsInvalidDirection(t *testing.T) {
	if _, err := New(gridcore.Direction("sideways"), "BTCUSDT", dec("0.0002"), dec("10"), testTiers()); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestNewRejectsCommissionOutOfRange(t *testing.T) {
	if _, err := New(gridcore.DirectionLong, "BTCUSDT", dec("0.02"), dec("10"), testTiers()); err == nil {
		t.Fatal("expected error for commission rate above 1%")
	}
	if _, err := New(gridcore.DirectionLong, "BTCUSDT", dec("-0.001"), dec("10"), testTiers()); err == nil {
		t.Fatal("expected error for negative commission rate")
	}
}

func TestProcessFillOpeningLongAccumulatesWeightedEntry(t *testing.T) {
	tr, err := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	if err != nil {
		t.Fatal(err)
	}

	realized, err := tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))
	if err != nil {
		t.Fatal(err)
	}
	if !realized.IsZero() {
		t.Errorf("opening fill should realize zero PnL, got %s", realized)
	}

	if _, err := tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("200")); err != nil {
		t.Fatal(err)
	}

	state := tr.State()
	if !state.Size.Equal(dec("2")) {
		t.Errorf("size = %s, want 2", state.Size)
	}
	if !state.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avg entry = %s, want 150 (weighted average of 100 and 200)", state.AvgEntryPrice)
	}
}

func TestProcessFillRejectsNonPositiveInputs(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	if _, err := tr.ProcessFill(gridcore.SideBuy, dec("0"), dec("100")); err == nil {
		t.Error("expected error for zero qty")
	}
	if _, err := tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("0")); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestProcessFillReducingLongRealizesPnL(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("2"), dec("100"))

	realized, err := tr.ProcessFill(gridcore.SideSell, dec("1"), dec("110"))
	if err != nil {
		t.Fatal(err)
	}
	if !realized.Equal(dec("10")) {
		t.Errorf("realized PnL = %s, want 10 ((110-100)*1)", realized)
	}

	state := tr.State()
	if !state.Size.Equal(dec("1")) {
		t.Errorf("remaining size = %s, want 1", state.Size)
	}
	if !state.RealizedPnL.Equal(dec("10")) {
		t.Errorf("cumulative realized PnL = %s, want 10", state.RealizedPnL)
	}
}

func TestProcessFillReducingShortRealizesPnL(t *testing.T) {
	tr, _ := New(gridcore.DirectionShort, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideSell, dec("2"), dec("100"))

	realized, err := tr.ProcessFill(gridcore.SideBuy, dec("2"), dec("90"))
	if err != nil {
		t.Fatal(err)
	}
	if !realized.Equal(dec("20")) {
		t.Errorf("realized PnL = %s, want 20 ((100-90)*2)", realized)
	}
	if !tr.State().Size.IsZero() {
		t.Error("position should be fully closed")
	}
	if !tr.State().AvgEntryPrice.IsZero() {
		t.Error("avg entry price should reset to zero once flat")
	}
}

func TestProcessFillClampsOverReduction(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))

	// Sell more than the held size; only the held amount should close.
	realized, err := tr.ProcessFill(gridcore.SideSell, dec("5"), dec("110"))
	if err != nil {
		t.Fatal(err)
	}
	if !realized.Equal(dec("10")) {
		t.Errorf("realized PnL = %s, want 10 (clamped to size=1)", realized)
	}
	if !tr.State().Size.IsZero() {
		t.Errorf("size = %s, want 0 after over-reduction clamp", tr.State().Size)
	}
}

func TestProcessFillAccumulatesCommission(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0.0002"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))

	want := dec("100").Mul(dec("0.0002")).Mul(dec("2"))
	if !tr.State().CommissionPaid.Equal(want) {
		t.Errorf("commission paid = %s, want %s", tr.State().CommissionPaid, want)
	}
}

func TestCalculateUnrealizedPnLAndMarginSnapshot(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))

	unrealized := tr.CalculateUnrealizedPnL(dec("110"))
	if !unrealized.Equal(dec("10")) {
		t.Errorf("unrealized PnL = %s, want 10", unrealized)
	}

	state := tr.State()
	if !state.PositionValue.Equal(dec("100")) {
		t.Errorf("position value = %s, want 100", state.PositionValue)
	}
	// Tier 0 has IMR 0.01, but 1/leverage = 1/10 = 0.1 dominates.
	if !state.IMRRate.Equal(dec("0.1")) {
		t.Errorf("IMR rate = %s, want 0.1 (1/leverage dominates tier IMR)", state.IMRRate)
	}
	if !state.InitialMargin.Equal(dec("10")) {
		t.Errorf("initial margin = %s, want 10 (100 * 0.1)", state.InitialMargin)
	}
	if !state.MMRRate.Equal(dec("0.005")) {
		t.Errorf("MMR rate = %s, want 0.005 (tier 0)", state.MMRRate)
	}
}

func TestCalculateUnrealizedPnLFlatResetsMargin(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	unrealized := tr.CalculateUnrealizedPnL(dec("100"))
	if !unrealized.IsZero() {
		t.Errorf("unrealized PnL with no position = %s, want 0", unrealized)
	}
	if !tr.State().PositionValue.IsZero() || !tr.State().InitialMargin.IsZero() {
		t.Error("margin fields should be zero when flat")
	}
}

func TestApplyFundingLongPaysOnPositiveRate(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))

	payment := tr.ApplyFunding(dec("0.0001"), dec("100"))
	want := dec("100").Mul(dec("0.0001")).Neg()
	if !payment.Equal(want) {
		t.Errorf("long funding payment = %s, want %s (a debit)", payment, want)
	}
	if !tr.State().FundingPaid.Equal(want.Neg()) {
		t.Errorf("FundingPaid = %s, want %s", tr.State().FundingPaid, want.Neg())
	}
}

func TestApplyFundingShortReceivesOnPositiveRate(t *testing.T) {
	tr, _ := New(gridcore.DirectionShort, "BTCUSDT", dec("0"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideSell, dec("1"), dec("100"))

	payment := tr.ApplyFunding(dec("0.0001"), dec("100"))
	want := dec("100").Mul(dec("0.0001"))
	if !payment.Equal(want) {
		t.Errorf("short funding payment = %s, want %s (a credit)", payment, want)
	}
}

func TestApplyFundingNoopWhenFlat(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	if payment := tr.ApplyFunding(dec("0.0001"), dec("100")); !payment.IsZero() {
		t.Errorf("funding payment with no position = %s, want 0", payment)
	}
}

func TestGetTotalPnLCombinesAllComponents(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0.0002"), dec("10"), testTiers())
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))
	tr.ProcessFill(gridcore.SideSell, dec("1"), dec("110")) // realize +10, pay commission twice
	tr.ApplyFunding(dec("0.0001"), dec("110"))              // flat, so funding is a no-op

	total := tr.GetTotalPnL()
	wantCommission := dec("100").Mul(dec("0.0002")).Add(dec("110").Mul(dec("0.0002")))
	want := dec("10").Sub(wantCommission)
	if !total.Equal(want) {
		t.Errorf("total PnL = %s, want %s", total, want)
	}
}

func TestHasPosition(t *testing.T) {
	tr, _ := New(gridcore.DirectionLong, "BTCUSDT", dec("0"), dec("10"), testTiers())
	if tr.HasPosition() {
		t.Error("new tracker should report no position")
	}
	tr.ProcessFill(gridcore.SideBuy, dec("1"), dec("100"))
	if !tr.HasPosition() {
		t.Error("tracker with size > 0 should report HasPosition true")
	}
}
