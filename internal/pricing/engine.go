// Package pricing computes option position valuations. The engine is a
// pure function over a position, a feed quote, a cached previous close,
// and the market state; it never errors — every missing input degrades
// through a documented fallback chain to a zero result.
package pricing

import (
	"math"

	"optionledger/internal/model"
)

// SharesPerContract is the standard option contract multiplier.
const SharesPerContract = 100

// priceEpsilon is the threshold below which two prices are considered
// equal for change detection and cache write-back.
const priceEpsilon = 0.001

// CacheWrite is a closing-price update the engine wants persisted after
// the pass completes. Baseline writes record today's last price as the
// comparison baseline for the next session; they are deliberately not
// consulted in the pass that produced them (comparing a price against
// itself would always yield zero).
type CacheWrite struct {
	ContractID string
	Price      float64
	Baseline   bool
}

// candidate is one (condition, value) pair of an ordered fallback chain.
type candidate struct {
	ok    bool
	price float64
}

// firstPositive returns the first candidate whose condition holds and
// whose price is positive, keeping the priority order auditable.
func firstPositive(cands ...candidate) float64 {
	for _, c := range cands {
		if c.ok && c.price > 0 {
			return c.price
		}
	}
	return 0
}

// EffectiveClosingPrice resolves the prior-session baseline:
// the cached close when present, else the close implied by the quote's
// last price and change delta, else zero (unknown).
func EffectiveClosingPrice(q model.PriceQuote, cachedClose float64) float64 {
	return firstPositive(
		candidate{cachedClose > 0, cachedClose},
		candidate{q.Last > 0 && q.Change != 0, q.Last - q.Change},
	)
}

// MarkPrice resolves the price used to value the position right now.
// Bid/ask midpoint when both sides are quoted; a one-sided quote uses
// the available side; then last trade, then the effective closing
// price, then the position's own entry price as last resort.
func MarkPrice(pos model.OptionPosition, q model.PriceQuote, effClose float64) float64 {
	return firstPositive(
		candidate{q.Bid > 0 && q.Ask > 0, (q.Bid + q.Ask) / 2},
		candidate{q.Ask > 0, q.Ask},
		candidate{q.Bid > 0, q.Bid},
		candidate{q.Last > 0, q.Last},
		candidate{effClose > 0, effClose},
		candidate{true, pos.EntryPrice},
	)
}

// Value prices one position against a quote snapshot and a cached
// previous close. marketOpen is the live session flag from the market
// calendar; when false the today-figures describe the most recent
// completed session and IsLastTradingDay is set.
func Value(pos model.OptionPosition, q model.PriceQuote, cachedClose float64, marketOpen bool) (model.ValuedOptionPosition, []CacheWrite) {
	v := model.ValuedOptionPosition{OptionPosition: pos}

	dir := float64(pos.Kind.Direction())
	scale := float64(pos.Quantity) * SharesPerContract

	v.Cost = pos.EntryPrice * scale

	effClose := EffectiveClosingPrice(q, cachedClose)
	mark := MarkPrice(pos, q, effClose)
	v.MarkPrice = mark

	// Signed mark-to-market: a short option is a liability marked at
	// its buyback cost.
	v.CurrentValue = dir * mark * scale

	v.IsLastTradingDay = !marketOpen
	v.TodayGainLoss = todayGainLoss(q, dir, scale, mark, effClose, marketOpen)

	// Total since open. CurrentValue is already signed, so the short
	// case nets the received premium against the cost to close:
	// long: currentValue − cost; short: cost + currentValue.
	v.TotalGainLoss.Amount = dir * (mark*scale - v.Cost)
	v.TotalGainLoss.Percent = safePercent(v.TotalGainLoss.Amount, v.Cost)

	return v, cacheWrites(pos.ContractID(), q, cachedClose)
}

func todayGainLoss(q model.PriceQuote, dir, scale, mark, effClose float64, marketOpen bool) model.GainLoss {
	var gl model.GainLoss

	if q.Change != 0 {
		// The feed's own delta, scaled to contract value and
		// sign-flipped for shorts (a price rise hurts a short put).
		gl.Amount = dir * q.Change * scale
		if q.ChangePercent != 0 {
			gl.Percent = dir * q.ChangePercent
		} else {
			gl.Percent = safePercent(gl.Amount, effClose*scale)
		}
		return gl
	}

	if marketOpen {
		if effClose > 0 && mark > 0 {
			gl.Amount = dir * (mark - effClose) * scale
			gl.Percent = safePercent(gl.Amount, effClose*scale)
		}
		return gl
	}

	// Market closed and the feed gave no delta: compare the last trade
	// against the baseline if they differ meaningfully. Otherwise zero
	// — genuinely unchanged and no-data are indistinguishable here.
	if q.Last > 0 && effClose > 0 && math.Abs(q.Last-effClose) > priceEpsilon {
		gl.Amount = dir * (q.Last - effClose) * scale
		gl.Percent = safePercent(gl.Amount, effClose*scale)
	}
	return gl
}

// ApplyDayChange recomputes the today-figures of a valued position from
// a historical-series day change, using the same sign conventions. Used
// by the orchestrator's last-trading-day second-chance escalation.
func ApplyDayChange(v *model.ValuedOptionPosition, dc model.DayChange) {
	if dc.Change == 0 {
		return
	}
	dir := float64(v.Kind.Direction())
	scale := float64(v.Quantity) * SharesPerContract
	v.TodayGainLoss.Amount = dir * dc.Change * scale
	if dc.ChangePercent != 0 {
		v.TodayGainLoss.Percent = dir * dc.ChangePercent
	} else {
		v.TodayGainLoss.Percent = safePercent(v.TodayGainLoss.Amount, dc.PrevClose*scale)
	}
}

// cacheWrites derives closing-price cache updates from the quote: a
// fresher close implied by last−change when the feed supplies a delta,
// or a baseline write of the bare last price when no baseline exists at
// all yet.
func cacheWrites(contractID string, q model.PriceQuote, cachedClose float64) []CacheWrite {
	if q.Change != 0 && q.Last > 0 {
		prev := q.Last - q.Change
		if prev > 0 && math.Abs(prev-cachedClose) > priceEpsilon {
			return []CacheWrite{{ContractID: contractID, Price: prev}}
		}
		return nil
	}
	if cachedClose <= 0 && q.Last > 0 {
		return []CacheWrite{{ContractID: contractID, Price: q.Last, Baseline: true}}
	}
	return nil
}

// safePercent returns amount/base×100, or 0 when base is not positive.
// Never NaN or Inf.
func safePercent(amount, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return amount / base * 100
}
