package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/creditfield/loan_backend/utils"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// FieldValue is a tagged union with one variant per FieldType.
// Only the member matching Type is meaningful.
type FieldValue struct {
	Type    FieldType
	Text    string
	Number  decimal.Decimal
	Bool    bool
	Date    time.Time
	Options []string
}

func TextValue(s string) FieldValue { return FieldValue{Type: FieldTypeText, Text: s} }

func NumberValue(d decimal.Decimal) FieldValue { return FieldValue{Type: FieldTypeNumber, Number: d} }

func CurrencyValue(d decimal.Decimal) FieldValue {
	return FieldValue{Type: FieldTypeCurrency, Number: d}
}

func BoolValue(b bool) FieldValue { return FieldValue{Type: FieldTypeBoolean, Bool: b} }

func DateValue(t time.Time) FieldValue {
	y, m, d := t.Date()
	return FieldValue{Type: FieldTypeDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func MultiselectValue(options ...string) FieldValue {
	return FieldValue{Type: FieldTypeMultiselect, Options: cleanOptions(options)}
}

func (v FieldValue) IsZero() bool { return v.Type == "" }

// Matches compares two values of the same variant. Text comparison ignores
// case and surrounding/repeated whitespace; phone-formatted text compares the
// normalised number.
func (v FieldValue) Matches(other FieldValue, format, region string) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case FieldTypeText:
		if format == FieldFormatPhone {
			return normalizePhone(v.Text, region) == normalizePhone(other.Text, region)
		}
		return normalizeText(v.Text) == normalizeText(other.Text)
	case FieldTypeNumber, FieldTypeCurrency:
		return v.Number.Equal(other.Number)
	case FieldTypeBoolean:
		return v.Bool == other.Bool
	case FieldTypeDate:
		return v.Date.Format(dateLayout) == other.Date.Format(dateLayout)
	case FieldTypeMultiselect:
		return sameOptionSet(v.Options, other.Options)
	}
	return false
}

func (v FieldValue) String() string {
	switch v.Type {
	case FieldTypeText:
		return v.Text
	case FieldTypeNumber:
		return v.Number.String()
	case FieldTypeCurrency:
		return v.Number.StringFixed(2)
	case FieldTypeBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case FieldTypeDate:
		return v.Date.Format(dateLayout)
	case FieldTypeMultiselect:
		return strings.Join(v.Options, ", ")
	}
	return ""
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizePhone(s, region string) string {
	if region == "" {
		region = "GT"
	}
	if e164, err := utils.NormalizePhoneNumber(s, region); err == nil {
		return e164
	}
	// unparseable numbers still compare on their digits
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cleanOptions(options []string) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return utils.UniqueSlice(out)
}

func sameOptionSet(a, b []string) bool {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, o := range in {
			out = append(out, normalizeText(o))
		}
		out = utils.UniqueSlice(out)
		sort.Strings(out)
		return out
	}
	na, nb := norm(a), norm(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

var truthy = map[string]bool{
	"true": true, "yes": true, "si": true, "sí": true, "y": true, "1": true,
	"false": false, "no": false, "n": false, "0": false,
}

// ParseFieldValue decodes a raw JSON value into the variant for fieldType.
func ParseFieldValue(fieldType FieldType, raw json.RawMessage) (FieldValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return FieldValue{}, ErrMissingDeclaredValue
	}
	switch fieldType {
	case FieldTypeText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// numbers typed into text fields (ids, phone numbers) are kept verbatim
			var n json.Number
			if err := json.Unmarshal(raw, &n); err != nil {
				return FieldValue{}, fmt.Errorf("%w: expected text", ErrValueTypeMismatch)
			}
			s = n.String()
		}
		return TextValue(s), nil
	case FieldTypeNumber, FieldTypeCurrency:
		d, err := utils.ParseAmountJSON(raw)
		if err != nil {
			return FieldValue{}, fmt.Errorf("%w: %v", ErrValueTypeMismatch, err)
		}
		return FieldValue{Type: fieldType, Number: d}, nil
	case FieldTypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return BoolValue(b), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected boolean", ErrValueTypeMismatch)
		}
		b, ok := truthy[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			return FieldValue{}, fmt.Errorf("%w: invalid boolean %q", ErrValueTypeMismatch, s)
		}
		return BoolValue(b), nil
	case FieldTypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return FieldValue{}, fmt.Errorf("%w: expected date string", ErrValueTypeMismatch)
		}
		s = strings.TrimSpace(s)
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return FieldValue{}, fmt.Errorf("%w: invalid date %q", ErrValueTypeMismatch, s)
			}
		}
		return DateValue(t), nil
	case FieldTypeMultiselect:
		var opts []string
		if err := json.Unmarshal(raw, &opts); err != nil {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return FieldValue{}, fmt.Errorf("%w: expected list of options", ErrValueTypeMismatch)
			}
			opts = strings.Split(s, ",")
		}
		return MultiselectValue(opts...), nil
	}
	return FieldValue{}, fmt.Errorf("%w: unsupported field type %q", ErrValueTypeMismatch, fieldType)
}

type fieldValueJSON struct {
	Type  FieldType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	var inner any
	switch v.Type {
	case FieldTypeText:
		inner = v.Text
	case FieldTypeNumber, FieldTypeCurrency:
		inner = v.Number.String()
	case FieldTypeBoolean:
		inner = v.Bool
	case FieldTypeDate:
		inner = v.Date.Format(dateLayout)
	case FieldTypeMultiselect:
		opts := v.Options
		if opts == nil {
			opts = []string{}
		}
		inner = opts
	default:
		return nil, fmt.Errorf("unsupported field type %q", v.Type)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldValueJSON{Type: v.Type, Value: raw})
}

func (v *FieldValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = FieldValue{}
		return nil
	}
	var wire fieldValueJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	parsed, err := ParseFieldValue(wire.Type, wire.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value stores the value as JSON.
func (v FieldValue) Value() (driver.Value, error) {
	if v.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *FieldValue) Scan(src any) error {
	switch data := src.(type) {
	case nil:
		*v = FieldValue{}
		return nil
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	}
	return errors.New("field value: unsupported scan type")
}
