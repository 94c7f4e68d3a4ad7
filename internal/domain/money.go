// Package domain holds the order, payment and money types shared across the
// service layer. All monetary values are fixed-point minor units; binary
// floating point is never used for money.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (paise for INR, cents for USD).
type Amount int64

// AmountFromMinorUnits wraps a raw minor-unit value, typically one received
// from a payment gateway.
func AmountFromMinorUnits(v int64) Amount { return Amount(v) }

// MinorUnits returns the raw minor-unit value for gateway requests.
func (a Amount) MinorUnits() int64 { return int64(a) }

// String renders the amount in major units with exactly two decimals.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// PercentOf computes pct% of the amount, rounding half-up on the minor unit.
func (a Amount) PercentOf(pct int64) Amount {
	product := int64(a) * pct
	if product >= 0 {
		return Amount((product + 50) / 100)
	}
	return Amount(-((-product + 50) / 100))
}

// ParseAmount parses a major-unit decimal string ("1299.00", "49.5", "1999")
// into minor units. More than two fractional digits is an error, not a
// rounding opportunity.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	value := major*100 + minor
	if negative {
		value = -value
	}
	return Amount(value), nil
}
