package models

import (
	"errors"
	"testing"
)

func TestEvaluateGate_ReasonCodes(t *testing.T) {
	sections := []*InvcSection{
		{Key: "personal_data", Title: "Personal data", Fields: []*ComparisonField{
			fieldWithStatus("full_name", FieldStatusConfirmed, SeverityNone, true),
			fieldWithStatus("national_id", FieldStatusPending, "", true),
			fieldWithStatus("dependents", FieldStatusPending, "", false),
		}},
		{Key: "economic_activity", Title: "Economic activity", Fields: []*ComparisonField{
			fieldWithStatus("business_address", FieldStatusBlocked, SeverityMedium, true),
			fieldWithStatus("employees", FieldStatusBlocked, SeverityCritical, false),
			fieldWithStatus("business_phone", FieldStatusBlocked, SeverityLow, false),
		}},
	}
	res := EvaluateGate(sections)
	if res.Allowed {
		t.Fatalf("gate must refuse")
	}
	expected := []struct {
		field string
		code  BlockingReasonCode
	}{
		{"national_id", BlockingReasonRequiredPending},
		{"business_address", BlockingReasonRequiredBlocked},
		{"employees", BlockingReasonCriticalBlock},
	}
	if len(res.Reasons) != len(expected) {
		t.Fatalf("expected %d reasons, got %+v", len(expected), res.Reasons)
	}
	for i, e := range expected {
		r := res.Reasons[i]
		if r.FieldKey != e.field || r.Code != e.code {
			t.Fatalf("reason %d: expected %s/%s, got %s/%s", i, e.field, e.code, r.FieldKey, r.Code)
		}
	}
	if res.Reasons[0].SectionTitle != "Personal data" || res.Reasons[0].Status != FieldStatusPending {
		t.Fatalf("reason must point back to the section: %+v", res.Reasons[0])
	}
}

func TestFinalize_RefusesThenSucceeds(t *testing.T) {
	inv := investigationOf(&InvcSection{Key: "financial_analysis", Title: "Financial analysis", Fields: []*ComparisonField{
		pendingField("monthly_income", CurrencyValue(dec("8500")), true),
		pendingField("inventory_value", CurrencyValue(dec("3000")), false),
	}})

	refusal, err := inv.Finalize(testNow)
	if err != nil {
		t.Fatalf("refusal must not be an error: %v", err)
	}
	if refusal == nil || len(refusal.Reasons) != 1 || refusal.Reasons[0].FieldKey != "monthly_income" {
		t.Fatalf("expected refusal naming monthly_income, got %+v", refusal)
	}
	if inv.State != LifecycleStateOpen || inv.CompletedAt != nil {
		t.Fatalf("refusal must leave the investigation open")
	}

	if _, _, err := inv.CaptureObservation("monthly_income", CurrencyValue(dec("8500")), "", "", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refusal, err = inv.Finalize(testNow)
	if err != nil || refusal != nil {
		t.Fatalf("expected finalize to succeed, got %v %+v", err, refusal)
	}
	if inv.State != LifecycleStateCompleted || inv.CompletedAt == nil {
		t.Fatalf("expected completed investigation")
	}

	if _, _, err := inv.ReopenField("monthly_income"); !errors.Is(err, ErrInvestigationTerminal) {
		t.Fatalf("expected terminal error on reopen, got %v", err)
	}
	if _, _, err := inv.CaptureObservation("inventory_value", CurrencyValue(dec("3000")), "", "", testNow); !errors.Is(err, ErrInvestigationTerminal) {
		t.Fatalf("expected terminal error on capture, got %v", err)
	}
	if _, err := inv.Finalize(testNow); !IsStateError(err) {
		t.Fatalf("expected state error on second finalize, got %v", err)
	}
	if err := inv.Cancel("duplicate", testNow); !errors.Is(err, ErrInvestigationTerminal) {
		t.Fatalf("expected terminal error on cancel, got %v", err)
	}
}

func TestInvestigationMutations(t *testing.T) {
	inv := investigationOf(&InvcSection{Key: "s", Title: "S", Fields: []*ComparisonField{
		pendingField("monthly_income", CurrencyValue(dec("8500")), true),
	}})

	if _, _, err := inv.CaptureObservation("nope", CurrencyValue(dec("1")), "", "", testNow); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected unknown field, got %v", err)
	}
	if _, _, err := inv.CaptureObservation("monthly_income", CurrencyValue(dec("6000")), "", "", testNow); !errors.Is(err, ErrCommentRequired) {
		t.Fatalf("expected comment required, got %v", err)
	}
	if inv.Summary.PendingFields != 1 || len(inv.Discrepancies()) != 0 {
		t.Fatalf("failed capture must not change the aggregate")
	}

	if _, _, err := inv.CaptureObservation("monthly_income", CurrencyValue(dec("6000")), "lower sales", "", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.Discrepancies()) != 1 || inv.Summary.AdjustedFields != 1 {
		t.Fatalf("expected one discrepancy")
	}

	// re-edit must not leave a stale discrepancy behind
	if _, _, err := inv.ReopenField("monthly_income"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.Discrepancies()) != 0 || inv.Summary.PendingFields != 1 {
		t.Fatalf("reopen must remove the discrepancy")
	}
	if _, _, err := inv.CaptureObservation("monthly_income", CurrencyValue(dec("8000")), "rounded", "", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := inv.Discrepancies()
	if len(items) != 1 || !items[0].Delta.Equal(dec("5.8824")) {
		t.Fatalf("expected a single recomputed discrepancy, got %+v", items)
	}

	if err := inv.SetGeneralComment("  visit done  "); err != nil || inv.GeneralComment != "visit done" {
		t.Fatalf("expected trimmed general comment, got %q %v", inv.GeneralComment, err)
	}
	if err := inv.Cancel(" ", testNow); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	if err := inv.Cancel("applicant withdrew", testNow); err != nil || inv.State != LifecycleStateCancelled {
		t.Fatalf("expected cancelled, got %v %s", err, inv.State)
	}
	if err := inv.SetGeneralComment("late"); !errors.Is(err, ErrInvestigationTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}
