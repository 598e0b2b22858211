package utils

import "testing"

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in       string
		region   string
		expected string
	}{
		{"2345-6789", "GT", "+50223456789"},
		{"+502 2345 6789", "GT", "+50223456789"},
	}
	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.in, tc.region)
		if err != nil {
			t.Fatalf("NormalizePhoneNumber(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("NormalizePhoneNumber(%q) expected %s, got %s", tc.in, tc.expected, got)
		}
	}
}

func TestNormalizePhoneNumber_Invalid(t *testing.T) {
	if _, err := NormalizePhoneNumber("not a phone", "GT"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}
