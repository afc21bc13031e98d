package model

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Contract identifiers follow the OCC option symbology:
// {SYMBOL}{YY}{MM}{DD}{C|P}{strike*1000, zero-padded to 8 digits},
// e.g. AMD260320P00160000 for the AMD 160 put expiring 2026-03-20.
// The same string is both the feed lookup symbol and the cache key,
// so it must be bit-exact.

var contractIDRe = regexp.MustCompile(`^([A-Z][A-Z0-9.]*?)(\d{6})([CP])(\d{8})$`)

// BuildContractID encodes a contract identifier. kind only contributes
// its call/put flag: BuyCall encodes C, SellPut and BuyPut encode P.
func BuildContractID(symbol string, strike float64, expiration time.Time, kind PositionKind) string {
	cp := "P"
	if kind.IsCall() {
		cp = "C"
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(symbol),
		expiration.Format("060102"),
		cp,
		int64(math.Round(strike*1000)))
}

// ParseContractID decodes a contract identifier back into its parts.
// call is true for a C contract. The returned expiration is a UTC date.
func ParseContractID(id string) (symbol string, strike float64, expiration time.Time, call bool, err error) {
	m := contractIDRe.FindStringSubmatch(id)
	if m == nil {
		return "", 0, time.Time{}, false, fmt.Errorf("contract: malformed identifier %q", id)
	}
	expiration, err = time.Parse("060102", m[2])
	if err != nil {
		return "", 0, time.Time{}, false, fmt.Errorf("contract: bad expiration in %q: %w", id, err)
	}
	milli, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, false, fmt.Errorf("contract: bad strike in %q: %w", id, err)
	}
	return m[1], float64(milli) / 1000, expiration, m[3] == "C", nil
}
