package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseFieldValue(t *testing.T) {
	cases := []struct {
		typ      FieldType
		raw      string
		expected FieldValue
	}{
		{FieldTypeCurrency, `"Q8,500"`, CurrencyValue(dec("8500"))},
		{FieldTypeCurrency, `"GTQ 1,234.50"`, CurrencyValue(dec("1234.50"))},
		{FieldTypeCurrency, `6000`, CurrencyValue(dec("6000"))},
		{FieldTypeNumber, `3`, NumberValue(dec("3"))},
		{FieldTypeText, `"Ana  López"`, TextValue("Ana  López")},
		{FieldTypeText, `1234567890101`, TextValue("1234567890101")},
		{FieldTypeBoolean, `true`, BoolValue(true)},
		{FieldTypeBoolean, `"Si"`, BoolValue(true)},
		{FieldTypeBoolean, `"no"`, BoolValue(false)},
		{FieldTypeDate, `"1990-04-12"`, DateValue(time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC))},
		{FieldTypeMultiselect, `["retail", " food ", ""]`, MultiselectValue("retail", "food")},
		{FieldTypeMultiselect, `"retail, food"`, MultiselectValue("retail", "food")},
	}
	for _, c := range cases {
		got, err := ParseFieldValue(c.typ, json.RawMessage(c.raw))
		if err != nil {
			t.Fatalf("%s %s: unexpected error %v", c.typ, c.raw, err)
		}
		if !got.Matches(c.expected, "", "") || got.String() != c.expected.String() {
			t.Fatalf("%s %s: expected %q, got %q", c.typ, c.raw, c.expected, got)
		}
	}
}

func TestParseFieldValue_Rejects(t *testing.T) {
	cases := []struct {
		typ FieldType
		raw string
	}{
		{FieldTypeCurrency, `"abc"`},
		{FieldTypeBoolean, `"maybe"`},
		{FieldTypeDate, `"12/04/1990"`},
		{FieldTypeMultiselect, `12`},
		{FieldTypeText, `{"a":1}`},
	}
	for _, c := range cases {
		if _, err := ParseFieldValue(c.typ, json.RawMessage(c.raw)); !errors.Is(err, ErrValueTypeMismatch) {
			t.Fatalf("%s %s: expected type mismatch, got %v", c.typ, c.raw, err)
		}
	}
	if _, err := ParseFieldValue(FieldTypeText, json.RawMessage(`null`)); !errors.Is(err, ErrMissingDeclaredValue) {
		t.Fatalf("expected missing value, got %v", err)
	}
}

func TestFieldValueMatches(t *testing.T) {
	cases := []struct {
		name     string
		a, b     FieldValue
		format   string
		expected bool
	}{
		{"text case and spaces", TextValue(" Ana   LOPEZ "), TextValue("ana lopez"), "", true},
		{"text differs", TextValue("Ana"), TextValue("Ana Maria"), "", false},
		{"phone formats", TextValue("2345-6789"), TextValue("+502 2345 6789"), FieldFormatPhone, true},
		{"phone differs", TextValue("2345-6789"), TextValue("2345-6780"), FieldFormatPhone, false},
		{"currency scale", CurrencyValue(dec("100")), CurrencyValue(dec("100.00")), "", true},
		{"boolean", BoolValue(true), BoolValue(false), "", false},
		{"date ignores time", DateValue(time.Date(2020, 1, 2, 15, 0, 0, 0, time.UTC)), DateValue(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)), "", true},
		{"multiselect order", MultiselectValue("Retail", "food"), MultiselectValue("food", "retail"), "", true},
		{"multiselect differs", MultiselectValue("retail"), MultiselectValue("retail", "food"), "", false},
		{"variant mismatch", NumberValue(dec("1")), CurrencyValue(dec("1")), "", false},
	}
	for _, c := range cases {
		if got := c.a.Matches(c.b, c.format, "GT"); got != c.expected {
			t.Fatalf("%s: expected %v, got %v", c.name, c.expected, got)
		}
	}
}

func TestFieldValueJSONRoundTrip(t *testing.T) {
	values := []FieldValue{
		TextValue("Ana"),
		CurrencyValue(dec("8500.25")),
		BoolValue(false),
		DateValue(time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC)),
		MultiselectValue("retail", "food"),
		MultiselectValue(),
	}
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %q: %v", v, err)
		}
		var back FieldValue
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back.Type != v.Type || !back.Matches(v, "", "") {
			t.Fatalf("round trip changed %s into %q", b, back)
		}
	}
}

func TestFieldValueScan(t *testing.T) {
	raw, err := CurrencyValue(dec("6000")).Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	var v FieldValue
	if err := v.Scan([]byte(raw.(string))); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if v.Type != FieldTypeCurrency || !v.Number.Equal(dec("6000")) {
		t.Fatalf("unexpected scanned value %#v", v)
	}
	if err := v.Scan(nil); err != nil || !v.IsZero() {
		t.Fatalf("expected zero value after NULL scan")
	}
}
