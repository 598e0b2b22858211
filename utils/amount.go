package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currency markers stripped from user-typed amounts, longest first
var currencyMarkers = []string{"GTQ", "gtq", "USD", "usd", "Q", "q", "$"}

// ParseAmount accepts plain numbers and common user-formatted strings like:
// - "8500"
// - "8,500"
// - "Q8,500"
// - "GTQ -1,234.50"
//
// Keep digits, '.', and a leading '-' only.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s != "" {
		s = strings.ReplaceAll(s, ",", "")
		for _, marker := range currencyMarkers {
			s = strings.ReplaceAll(s, marker, "")
		}
		s = strings.TrimSpace(s)
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	// Strip everything except digits and '.'.
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		} else if r != ' ' {
			return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if neg {
		clean = "-" + clean
	}

	val, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return val, nil
}

// ParseAmountJSON accepts a JSON number or a JSON string holding a formatted amount.
func ParseAmountJSON(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseAmount(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %s", string(raw))
	}
	return decimal.NewFromString(num.String())
}
