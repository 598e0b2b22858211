package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Discrepancy struct {
	SectionKey    string           `json:"section_key"`
	SectionTitle  string           `json:"section_title"`
	FieldKey      string           `json:"field_key"`
	Label         string           `json:"label"`
	Type          FieldType        `json:"type"`
	DeclaredValue FieldValue       `json:"declared_value"`
	ObservedValue FieldValue       `json:"observed_value"`
	Delta         *decimal.Decimal `json:"delta"`
	Severity      Severity         `json:"severity,omitempty"`
	Comment       string           `json:"comment"`
	Evidence      string           `json:"evidence,omitempty"`
	CapturedAt    *time.Time       `json:"captured_at"`
}

type SeverityBreakdown struct {
	Low          int `json:"low"`
	Medium       int `json:"medium"`
	High         int `json:"high"`
	Critical     int `json:"critical"`
	Unclassified int `json:"unclassified"`
}

func (b *SeverityBreakdown) add(s Severity) {
	switch s {
	case SeverityLow:
		b.Low++
	case SeverityMedium:
		b.Medium++
	case SeverityHigh:
		b.High++
	case SeverityCritical:
		b.Critical++
	default:
		b.Unclassified++
	}
}

type DiscrepancyReport struct {
	InvestigationId    int                  `json:"investigation_id"`
	ApplicationId      string               `json:"application_id"`
	State              LifecycleState       `json:"state"`
	TotalDiscrepancies int                  `json:"total_discrepancies"`
	BySeverity         SeverityBreakdown    `json:"by_severity"`
	AutoDetected       int                  `json:"auto_detected"`
	ManualAdjustments  int                  `json:"manual_adjustments"`
	Discrepancies      []Discrepancy        `json:"discrepancies"`
	Summary            InvestigationSummary `json:"summary"`
}

// deltas above this count as detected by the engine rather than the verifier
var autoDetectedDelta = decimal.NewFromInt(10)

// CollectDiscrepancies lists adjusted fields in section and field order.
func CollectDiscrepancies(sections []*InvcSection) []Discrepancy {
	out := []Discrepancy{}
	for _, s := range sections {
		for _, f := range s.Fields {
			if f.Status != FieldStatusAdjusted || f.ObservedValue == nil {
				continue
			}
			out = append(out, Discrepancy{
				SectionKey:    s.Key,
				SectionTitle:  s.Title,
				FieldKey:      f.Key,
				Label:         f.Label,
				Type:          f.Type,
				DeclaredValue: f.DeclaredValue,
				ObservedValue: *f.ObservedValue,
				Delta:         f.Delta,
				Severity:      f.Severity,
				Comment:       f.Comment,
				Evidence:      f.Evidence,
				CapturedAt:    f.CapturedAt,
			})
		}
	}
	return out
}

// GenerateDiscrepancyReport is a read-only projection of the stored field data.
func GenerateDiscrepancyReport(inv *ComparisonInvestigation) DiscrepancyReport {
	items := CollectDiscrepancies(inv.Sections)
	report := DiscrepancyReport{
		InvestigationId:    inv.ID,
		ApplicationId:      inv.ApplicationId,
		State:              inv.State,
		TotalDiscrepancies: len(items),
		Discrepancies:      items,
		Summary:            BuildSummary(inv.Sections),
	}
	for _, d := range items {
		report.BySeverity.add(d.Severity)
		if d.Delta != nil && d.Delta.GreaterThan(autoDetectedDelta) {
			report.AutoDetected++
		}
		if d.Comment != "" {
			report.ManualAdjustments++
		}
	}
	return report
}
