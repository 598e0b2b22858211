package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// matches the delta column; classification never uses the rounded value
const deltaPlaces = 4

// CalculateDelta returns the exact absolute percentage difference between the
// declared and observed values, or nil when no delta applies to the type.
func CalculateDelta(fieldType FieldType, declared FieldValue, observed *FieldValue) *decimal.Decimal {
	if observed == nil || !fieldType.IsNumeric() {
		return nil
	}
	var delta decimal.Decimal
	switch {
	case declared.Number.IsZero() && observed.Number.IsZero():
		delta = decimal.Zero
	case declared.Number.IsZero():
		delta = hundred
	default:
		delta = observed.Number.Sub(declared.Number).
			Div(declared.Number).
			Abs().
			Mul(hundred)
	}
	return &delta
}

// RoundDelta is the stored and displayed form of a delta.
func RoundDelta(delta *decimal.Decimal) *decimal.Decimal {
	if delta == nil {
		return nil
	}
	d := delta.Round(deltaPlaces)
	return &d
}

type severityTiers struct {
	critical, high, medium decimal.Decimal
}

var (
	currencyTiers = severityTiers{
		critical: decimal.NewFromInt(30),
		high:     decimal.NewFromInt(20),
		medium:   decimal.NewFromInt(10),
	}
	numericTiers = severityTiers{
		critical: decimal.NewFromInt(50),
		high:     decimal.NewFromInt(25),
		medium:   decimal.NewFromInt(10),
	}
)

// ClassifySeverity maps a delta onto its tier. Lower bounds are exclusive.
func ClassifySeverity(fieldType FieldType, delta *decimal.Decimal) Severity {
	if delta == nil {
		return SeverityNone
	}
	var tiers severityTiers
	switch fieldType {
	case FieldTypeCurrency:
		tiers = currencyTiers
	case FieldTypeNumber:
		tiers = numericTiers
	default:
		return SeverityNone
	}
	switch {
	case delta.GreaterThan(tiers.critical):
		return SeverityCritical
	case delta.GreaterThan(tiers.high):
		return SeverityHigh
	case delta.GreaterThan(tiers.medium):
		return SeverityMedium
	}
	return SeverityLow
}

// Threshold is an optional tolerance band on the delta, in percent.
type Threshold struct {
	MinPercentage *decimal.Decimal `json:"min_percentage,omitempty"`
	MaxPercentage *decimal.Decimal `json:"max_percentage,omitempty"`
}

func (t *Threshold) HasBounds() bool {
	return t != nil && (t.MinPercentage != nil || t.MaxPercentage != nil)
}

// Within is true only when every present bound holds.
func (t *Threshold) Within(delta *decimal.Decimal) bool {
	if !t.HasBounds() || delta == nil {
		return false
	}
	if t.MinPercentage != nil && delta.LessThan(*t.MinPercentage) {
		return false
	}
	if t.MaxPercentage != nil && delta.GreaterThan(*t.MaxPercentage) {
		return false
	}
	return true
}

func (t Threshold) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Threshold) Scan(src any) error {
	switch data := src.(type) {
	case nil:
		*t = Threshold{}
		return nil
	case []byte:
		return json.Unmarshal(data, t)
	case string:
		return json.Unmarshal([]byte(data), t)
	}
	return errors.New("threshold: unsupported scan type")
}
