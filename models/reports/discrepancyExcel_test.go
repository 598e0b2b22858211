package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/creditfield/loan_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestWriteDiscrepancyExcel(t *testing.T) {
	delta := decimal.RequireFromString("29.4118")
	captured := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	report := models.DiscrepancyReport{
		InvestigationId:    12,
		ApplicationId:      "APP-12",
		State:              models.LifecycleStateCompleted,
		TotalDiscrepancies: 1,
		BySeverity:         models.SeverityBreakdown{High: 1},
		AutoDetected:       1,
		ManualAdjustments:  1,
		Discrepancies: []models.Discrepancy{{
			SectionKey:    "financial_analysis",
			SectionTitle:  "Financial analysis",
			FieldKey:      "monthly_income",
			Label:         "Monthly income",
			Type:          models.FieldTypeCurrency,
			DeclaredValue: models.CurrencyValue(decimal.NewFromInt(8500)),
			ObservedValue: models.CurrencyValue(decimal.NewFromInt(6000)),
			Delta:         &delta,
			Severity:      models.SeverityHigh,
			Comment:       "lower sales",
			CapturedAt:    &captured,
		}},
	}

	var buf bytes.Buffer
	if err := WriteDiscrepancyExcel(report, &buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	cases := []struct {
		sheet, cell, expected string
	}{
		{SummarySheet, "A2", "Application"},
		{SummarySheet, "B2", "APP-12"},
		{SummarySheet, "B3", "completed"},
		{DiscrepanciesSheet, "A1", "Section"},
		{DiscrepanciesSheet, "B2", "Monthly income"},
		{DiscrepanciesSheet, "D2", "8500.00"},
		{DiscrepanciesSheet, "E2", "6000.00"},
		{DiscrepanciesSheet, "G2", "high"},
		{DiscrepanciesSheet, "J2", "2026-03-02 10:00:00"},
	}
	for _, c := range cases {
		got, err := f.GetCellValue(c.sheet, c.cell)
		if err != nil {
			t.Fatalf("%s!%s: %v", c.sheet, c.cell, err)
		}
		if got != c.expected {
			t.Fatalf("%s!%s: expected %q, got %q", c.sheet, c.cell, c.expected, got)
		}
	}
}
