package pricing

import (
	"math"
	"testing"
	"time"

	"optionledger/internal/model"
)

func pos(kind model.PositionKind, qty int, entry, strike float64) model.OptionPosition {
	return model.OptionPosition{
		ID:         "p1",
		Symbol:     "AMD",
		Kind:       kind,
		Quantity:   qty,
		EntryPrice: entry,
		Strike:     strike,
		Expiration: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-6
}

func TestValue_SellPutAskOnly(t *testing.T) {
	// SellPut, quantity=2, entry=3.50 → cost=700. Quote {ask: 4.00}
	// → currentValue=-800, total={-100, -14.2857...}.
	v, _ := Value(pos(model.SellPut, 2, 3.50, 160), model.PriceQuote{Ask: 4.00}, 0, true)

	if v.Cost != 700 {
		t.Errorf("cost = %v, want 700", v.Cost)
	}
	if v.CurrentValue != -800 {
		t.Errorf("currentValue = %v, want -800", v.CurrentValue)
	}
	if v.TotalGainLoss.Amount != -100 {
		t.Errorf("total amount = %v, want -100", v.TotalGainLoss.Amount)
	}
	if !approx(v.TotalGainLoss.Percent, -100.0/700*100) {
		t.Errorf("total percent = %v, want %v", v.TotalGainLoss.Percent, -100.0/700*100)
	}
	if v.IsLastTradingDay {
		t.Error("isLastTradingDay must be false while market is open")
	}
}

func TestValue_BuyCallMidpoint(t *testing.T) {
	// BuyCall, quantity=1, entry=2.00 → cost=200. Quote {bid:3.00,
	// ask:3.20}, mark=3.10 → currentValue=310, total={110, 55}.
	v, _ := Value(pos(model.BuyCall, 1, 2.00, 150), model.PriceQuote{Bid: 3.00, Ask: 3.20}, 0, true)

	if v.Cost != 200 {
		t.Errorf("cost = %v, want 200", v.Cost)
	}
	if !approx(v.MarkPrice, 3.10) {
		t.Errorf("mark = %v, want 3.10", v.MarkPrice)
	}
	if !approx(v.CurrentValue, 310) {
		t.Errorf("currentValue = %v, want 310", v.CurrentValue)
	}
	if !approx(v.TotalGainLoss.Amount, 110) {
		t.Errorf("total amount = %v, want 110", v.TotalGainLoss.Amount)
	}
	if !approx(v.TotalGainLoss.Percent, 55) {
		t.Errorf("total percent = %v, want 55", v.TotalGainLoss.Percent)
	}
}

func TestValue_MarketClosedBaselineWrite(t *testing.T) {
	// Market closed, change=0, no cached close, last=5.00: today is
	// zero, isLastTradingDay set, and a 5.00 baseline write is
	// scheduled for the next session.
	v, writes := Value(pos(model.BuyPut, 1, 4.00, 100), model.PriceQuote{Last: 5.00}, 0, false)

	if v.TodayGainLoss.Amount != 0 || v.TodayGainLoss.Percent != 0 {
		t.Errorf("today = %+v, want zero", v.TodayGainLoss)
	}
	if !v.IsLastTradingDay {
		t.Error("isLastTradingDay must be true while market is closed")
	}
	if len(writes) != 1 {
		t.Fatalf("writes = %v, want one baseline write", writes)
	}
	if !writes[0].Baseline || writes[0].Price != 5.00 {
		t.Errorf("write = %+v, want baseline 5.00", writes[0])
	}
	// The same pass must not have used the baseline it just scheduled.
	if v.TodayGainLoss.Amount != 0 {
		t.Error("fresh baseline leaked into the pass that produced it")
	}
}

func TestValue_SelfHealingCacheWrite(t *testing.T) {
	// Feed supplies last and change: previousClose = last − change is
	// written back when it differs from the cached value.
	q := model.PriceQuote{Last: 5.50, Change: 0.50}
	_, writes := Value(pos(model.BuyCall, 1, 2, 150), q, 4.80, true)
	if len(writes) != 1 {
		t.Fatalf("writes = %v, want one", writes)
	}
	if writes[0].Baseline || !approx(writes[0].Price, 5.00) {
		t.Errorf("write = %+v, want derived close 5.00", writes[0])
	}

	// Cached value already matches: nothing to write.
	_, writes = Value(pos(model.BuyCall, 1, 2, 150), q, 5.00, true)
	if len(writes) != 0 {
		t.Errorf("writes = %v, want none when cache already matches", writes)
	}
}

func TestValue_TodayFromFeedChange(t *testing.T) {
	q := model.PriceQuote{Last: 5.50, Change: 0.50, ChangePercent: 10}

	long, _ := Value(pos(model.BuyCall, 2, 2, 150), q, 5.00, true)
	if !approx(long.TodayGainLoss.Amount, 100) { // 0.50 × 2 × 100
		t.Errorf("long today = %v, want 100", long.TodayGainLoss.Amount)
	}
	if !approx(long.TodayGainLoss.Percent, 10) {
		t.Errorf("long today%% = %v, want 10", long.TodayGainLoss.Percent)
	}

	short, _ := Value(pos(model.SellPut, 2, 2, 150), q, 5.00, true)
	if !approx(short.TodayGainLoss.Amount, -100) {
		t.Errorf("short today = %v, want -100 (price rise hurts a short put)", short.TodayGainLoss.Amount)
	}
	if !approx(short.TodayGainLoss.Percent, -10) {
		t.Errorf("short today%% = %v, want -10", short.TodayGainLoss.Percent)
	}
}

func TestValue_TodayFromMarkVsClose(t *testing.T) {
	// No feed change; market open with a cached close: compare mark
	// against the baseline, signed by direction.
	q := model.PriceQuote{Bid: 5.40, Ask: 5.60} // mark 5.50

	long, _ := Value(pos(model.BuyCall, 1, 2, 150), q, 5.00, true)
	if !approx(long.TodayGainLoss.Amount, 50) {
		t.Errorf("long today = %v, want 50", long.TodayGainLoss.Amount)
	}
	if !approx(long.TodayGainLoss.Percent, 10) {
		t.Errorf("long today%% = %v, want 10", long.TodayGainLoss.Percent)
	}

	short, _ := Value(pos(model.SellPut, 1, 2, 150), q, 5.00, true)
	if !approx(short.TodayGainLoss.Amount, -50) {
		t.Errorf("short today = %v, want -50", short.TodayGainLoss.Amount)
	}
}

func TestValue_MarketClosedLastVsClose(t *testing.T) {
	// Closed market, no feed change, last differs from baseline by
	// more than the epsilon: report the session move.
	q := model.PriceQuote{Last: 5.50}
	v, _ := Value(pos(model.BuyCall, 1, 2, 150), q, 5.00, false)
	if !approx(v.TodayGainLoss.Amount, 50) {
		t.Errorf("today = %v, want 50", v.TodayGainLoss.Amount)
	}
	if !v.IsLastTradingDay {
		t.Error("isLastTradingDay must be set")
	}

	// Difference below the epsilon reports zero.
	q = model.PriceQuote{Last: 5.0005}
	v, _ = Value(pos(model.BuyCall, 1, 2, 150), q, 5.00, false)
	if v.TodayGainLoss.Amount != 0 {
		t.Errorf("today = %v, want 0 for sub-epsilon move", v.TodayGainLoss.Amount)
	}
}

func TestValue_SignProperties(t *testing.T) {
	quotes := []model.PriceQuote{
		{Bid: 1, Ask: 2},
		{Last: 3},
		{Ask: 0.05},
		{},
	}
	for _, q := range quotes {
		short, _ := Value(pos(model.SellPut, 3, 1.25, 50), q, 2, true)
		if short.CurrentValue > 0 {
			t.Errorf("SellPut currentValue = %v with quote %+v, must be <= 0", short.CurrentValue, q)
		}
		long, _ := Value(pos(model.BuyCall, 3, 1.25, 50), q, 2, true)
		if long.CurrentValue < 0 {
			t.Errorf("BuyCall currentValue = %v with quote %+v, must be >= 0", long.CurrentValue, q)
		}
		for _, v := range []model.ValuedOptionPosition{short, long} {
			if v.Cost != 1.25*3*100 {
				t.Errorf("cost = %v, want %v regardless of kind", v.Cost, 1.25*3*100)
			}
		}
	}
}

func TestValue_ZeroGuards(t *testing.T) {
	// Zero cost: total percent must be 0, never NaN or Inf.
	v, _ := Value(pos(model.BuyCall, 1, 0, 150), model.PriceQuote{Last: 2}, 0, true)
	if math.IsNaN(v.TotalGainLoss.Percent) || math.IsInf(v.TotalGainLoss.Percent, 0) {
		t.Fatalf("total percent = %v with zero cost", v.TotalGainLoss.Percent)
	}
	if v.TotalGainLoss.Percent != 0 {
		t.Errorf("total percent = %v, want 0 with zero cost", v.TotalGainLoss.Percent)
	}

	// Absent closing price: today percent must be 0, never NaN.
	v, _ = Value(pos(model.BuyCall, 1, 2, 150), model.PriceQuote{Bid: 3, Ask: 3.2}, 0, true)
	if math.IsNaN(v.TodayGainLoss.Percent) || v.TodayGainLoss.Percent != 0 {
		t.Errorf("today percent = %v, want 0 with no baseline", v.TodayGainLoss.Percent)
	}
}

func TestValue_EntryPriceLastResort(t *testing.T) {
	// Empty quote, no cached close: the position marks at its own
	// entry price and shows flat total.
	v, writes := Value(pos(model.SellPut, 2, 3.50, 160), model.PriceQuote{}, 0, true)
	if !approx(v.MarkPrice, 3.50) {
		t.Errorf("mark = %v, want entry price 3.50", v.MarkPrice)
	}
	if !approx(v.CurrentValue, -700) {
		t.Errorf("currentValue = %v, want -700", v.CurrentValue)
	}
	if v.TotalGainLoss.Amount != 0 {
		t.Errorf("total = %v, want 0", v.TotalGainLoss.Amount)
	}
	if len(writes) != 0 {
		t.Errorf("writes = %v, want none for an empty quote", writes)
	}
}

func TestEffectiveClosingPrice(t *testing.T) {
	// Cached value wins.
	if got := EffectiveClosingPrice(model.PriceQuote{Last: 5.5, Change: 0.5}, 4.8); got != 4.8 {
		t.Errorf("effClose = %v, want cached 4.8", got)
	}
	// Derived from last − change.
	if got := EffectiveClosingPrice(model.PriceQuote{Last: 5.5, Change: 0.5}, 0); !approx(got, 5.0) {
		t.Errorf("effClose = %v, want 5.0", got)
	}
	// Derivation yielding a non-positive price is rejected.
	if got := EffectiveClosingPrice(model.PriceQuote{Last: 1, Change: 2}, 0); got != 0 {
		t.Errorf("effClose = %v, want 0 for non-positive derivation", got)
	}
	// Nothing available.
	if got := EffectiveClosingPrice(model.PriceQuote{}, 0); got != 0 {
		t.Errorf("effClose = %v, want 0", got)
	}
}

func TestApplyDayChange(t *testing.T) {
	long, _ := Value(pos(model.BuyCall, 1, 2, 150), model.PriceQuote{Last: 5}, 5, false)
	dc := model.DayChange{Change: 0.25, ChangePercent: 5, LastClose: 5, PrevClose: 4.75}

	ApplyDayChange(&long, dc)
	if !approx(long.TodayGainLoss.Amount, 25) {
		t.Errorf("today = %v, want 25", long.TodayGainLoss.Amount)
	}
	if !approx(long.TodayGainLoss.Percent, 5) {
		t.Errorf("today%% = %v, want 5", long.TodayGainLoss.Percent)
	}

	short, _ := Value(pos(model.SellPut, 1, 2, 150), model.PriceQuote{Last: 5}, 5, false)
	ApplyDayChange(&short, dc)
	if !approx(short.TodayGainLoss.Amount, -25) {
		t.Errorf("short today = %v, want -25", short.TodayGainLoss.Amount)
	}

	// Zero change leaves the figures alone.
	before := long.TodayGainLoss
	ApplyDayChange(&long, model.DayChange{})
	if long.TodayGainLoss != before {
		t.Error("zero day change must not modify the position")
	}
}
