package reports

import (
	"fmt"
	"io"

	"github.com/creditfield/loan_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet       = "Summary"
	DiscrepanciesSheet = "Discrepancies"
)

var discrepancyHeadings = []string{
	"Section", "Field", "Type", "Declared", "Observed", "Delta %", "Severity", "Comment", "Evidence", "Captured At",
}

// BuildDiscrepancyWorkbook renders the report as a two-sheet workbook for the
// credit committee audit file.
func BuildDiscrepancyWorkbook(report models.DiscrepancyReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(DiscrepanciesSheet); err != nil {
		return nil, err
	}

	summaryRows := [][]interface{}{
		{"Investigation", report.InvestigationId},
		{"Application", report.ApplicationId},
		{"State", string(report.State)},
		{"Overall status", string(report.Summary.OverallStatus)},
		{"Overall risk", string(report.Summary.OverallRisk)},
		{"Recommended action", string(report.Summary.RecommendedAction)},
		{"Total fields", report.Summary.TotalFields},
		{"Progress %", report.Summary.Progress},
		{"Total discrepancies", report.TotalDiscrepancies},
		{"Critical", report.BySeverity.Critical},
		{"High", report.BySeverity.High},
		{"Medium", report.BySeverity.Medium},
		{"Low", report.BySeverity.Low},
		{"Unclassified", report.BySeverity.Unclassified},
		{"Auto detected", report.AutoDetected},
		{"Manual adjustments", report.ManualAdjustments},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if err := f.SetSheetRow(DiscrepanciesSheet, "A1", &discrepancyHeadings); err != nil {
		return nil, err
	}
	for i, d := range report.Discrepancies {
		var delta interface{} = ""
		if d.Delta != nil {
			delta = d.Delta.InexactFloat64()
		}
		captured := ""
		if d.CapturedAt != nil {
			captured = d.CapturedAt.UTC().Format("2006-01-02 15:04:05")
		}
		row := []interface{}{
			d.SectionTitle,
			d.Label,
			string(d.Type),
			d.DeclaredValue.String(),
			d.ObservedValue.String(),
			delta,
			string(d.Severity),
			d.Comment,
			d.Evidence,
			captured,
		}
		if err := f.SetSheetRow(DiscrepanciesSheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func WriteDiscrepancyExcel(report models.DiscrepancyReport, w io.Writer) error {
	f, err := BuildDiscrepancyWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func SaveDiscrepancyExcel(report models.DiscrepancyReport, filename string) error {
	f, err := BuildDiscrepancyWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
