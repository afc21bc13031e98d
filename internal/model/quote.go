package model

import "time"

// PriceQuote is a best-effort snapshot from the options feed for one
// contract. Every field is optional: a zero value means the feed did not
// supply it. A zero Change is indistinguishable from "no change data";
// the pricing engine treats both the same by design.
type PriceQuote struct {
	Bid           float64 `json:"bid,omitempty"`
	Ask           float64 `json:"ask,omitempty"`
	Last          float64 `json:"last,omitempty"`
	Change        float64 `json:"change,omitempty"`         // signed delta vs previous close, per share
	ChangePercent float64 `json:"change_percent,omitempty"` // signed
	Volume        int64   `json:"volume,omitempty"`
	OpenInterest  int64   `json:"open_interest,omitempty"`
}

// Empty reports whether the feed returned no usable price data at all.
func (q PriceQuote) Empty() bool {
	return q.Bid == 0 && q.Ask == 0 && q.Last == 0 && q.Change == 0
}

// GainLoss is a signed amount/percent pair. Positive means a favorable
// move for the holder regardless of position direction.
type GainLoss struct {
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`
}

// DayChange describes the move of the most recent completed trading
// session, derived from the two latest daily closes. Used as a
// second-chance data source when the live quote omits change data.
type DayChange struct {
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	LastClose     float64 `json:"last_close"`
	PrevClose     float64 `json:"prev_close"`
}

// ValuedOptionPosition is an OptionPosition enriched with the output of
// one pricing pass. CurrentValue is signed: negative for SellPut (a
// liability marked at buyback cost), positive for long positions.
type ValuedOptionPosition struct {
	OptionPosition

	Cost             float64  `json:"cost"` // always positive: premium magnitude
	MarkPrice        float64  `json:"mark_price"`
	CurrentValue     float64  `json:"current_value"`
	TodayGainLoss    GainLoss `json:"today_gain_loss"`
	TotalGainLoss    GainLoss `json:"total_gain_loss"`
	IsLastTradingDay bool     `json:"is_last_trading_day"`
}

// PortfolioSummary aggregates one pricing pass across all positions.
type PortfolioSummary struct {
	At           time.Time `json:"at"`
	Positions    int       `json:"positions"`
	Cost         float64   `json:"cost"`
	CurrentValue float64   `json:"current_value"`
	TodayAmount  float64   `json:"today_amount"`
	TotalAmount  float64   `json:"total_amount"`
}

// Summarize rolls a valued position list up into a PortfolioSummary.
func Summarize(at time.Time, valued []ValuedOptionPosition) PortfolioSummary {
	s := PortfolioSummary{At: at, Positions: len(valued)}
	for _, v := range valued {
		s.Cost += v.Cost
		s.CurrentValue += v.CurrentValue
		s.TodayAmount += v.TodayGainLoss.Amount
		s.TotalAmount += v.TotalGainLoss.Amount
	}
	return s
}
