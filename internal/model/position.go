package model

import (
	"fmt"
	"time"
)

// PositionKind identifies the direction and type of an option trade.
type PositionKind string

const (
	SellPut PositionKind = "sell_put"
	BuyCall PositionKind = "buy_call"
	BuyPut  PositionKind = "buy_put"
)

// Valid reports whether k is a known position kind.
func (k PositionKind) Valid() bool {
	switch k {
	case SellPut, BuyCall, BuyPut:
		return true
	}
	return false
}

// Direction returns the sign multiplier for the position: +1 for long
// positions (BuyCall, BuyPut), -1 for short (SellPut). All sign-by-kind
// logic in the pricing engine derives from this single multiplier.
func (k PositionKind) Direction() int {
	if k == SellPut {
		return -1
	}
	return 1
}

// IsCall reports whether the kind references a call contract.
func (k PositionKind) IsCall() bool {
	return k == BuyCall
}

// OptionPosition is one option trade the user holds. Quantity is always
// stored positive; direction is carried by Kind, not sign. Positions are
// immutable after creation except for deletion.
type OptionPosition struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Kind       PositionKind `json:"kind"`
	Quantity   int          `json:"quantity"`    // number of contracts, > 0
	EntryPrice float64      `json:"entry_price"` // premium per share
	Strike     float64      `json:"strike"`      // > 0
	Expiration time.Time    `json:"expiration"`  // calendar date
	CreatedAt  time.Time    `json:"created_at"`
}

// Validate checks the creation-time invariants. now is the reference
// instant for the expiration check; the expiration must not be a date
// before now's date.
func (p *OptionPosition) Validate(now time.Time) error {
	if p.Symbol == "" {
		return fmt.Errorf("position: symbol is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("position: unknown kind %q", p.Kind)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position: quantity must be > 0, got %d", p.Quantity)
	}
	if p.Strike <= 0 {
		return fmt.Errorf("position: strike must be > 0, got %v", p.Strike)
	}
	if p.EntryPrice < 0 {
		return fmt.Errorf("position: entry price must not be negative, got %v", p.EntryPrice)
	}
	if dateOnly(p.Expiration).Before(dateOnly(now)) {
		return fmt.Errorf("position: expiration %s is in the past", p.Expiration.Format("2006-01-02"))
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ContractID returns the deterministic contract identifier for this
// position, used both as feed lookup key and cache key.
func (p *OptionPosition) ContractID() string {
	return BuildContractID(p.Symbol, p.Strike, p.Expiration, p.Kind)
}
