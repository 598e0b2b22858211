package utils

import (
	"encoding/json"
	"testing"
)

func TestParseAmount_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"8500", "8500"},
		{"8,500", "8500"},
		{"Q8,500", "8500"},
		{"Q 6,000.00", "6000"},
		{"GTQ -1,234.50", "-1234.5"},
		{"  q1,234.50  ", "1234.5"},
		{"$ 20", "20"},
	}
	for _, tc := range cases {
		d, err := ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseAmount(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseAmount_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "Q", "abc", "12x4", "--5"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("ParseAmount(%q) expected error", in)
		}
	}
}

func TestParseAmountJSON(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{`8500`, "8500"},
		{`8500.25`, "8500.25"},
		{`"Q8,500"`, "8500"},
	}
	for _, tc := range cases {
		d, err := ParseAmountJSON(json.RawMessage(tc.in))
		if err != nil {
			t.Fatalf("ParseAmountJSON(%s) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseAmountJSON(%s) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
	if _, err := ParseAmountJSON(json.RawMessage(`true`)); err == nil {
		t.Fatalf("ParseAmountJSON(true) expected error")
	}
}
