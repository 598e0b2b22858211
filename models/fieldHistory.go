package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creditfield/loan_backend/utils"
)

// FieldHistory is the append-only audit trail of every transition. Rows are
// written in the same transaction as the change they describe.
type FieldHistory struct {
	ID              int                `gorm:"primary_key" json:"id"`
	InvestigationId int                `gorm:"index;not null" json:"investigation_id"`
	FieldKey        string             `gorm:"size:100;index" json:"field_key"`
	Action          FieldHistoryAction `gorm:"size:20;not null" json:"action"`
	FromStatus      string             `gorm:"size:20" json:"from_status"`
	ToStatus        string             `gorm:"size:20" json:"to_status"`
	Before          string             `gorm:"type:text" json:"before"`
	After           string             `gorm:"type:text" json:"after"`
	Description     string             `gorm:"type:text;not null" json:"description"`
	VerifierId      int                `gorm:"index;not null" json:"verifier_id"`
	VerifierName    string             `gorm:"size:100" json:"verifier_name"`
	CorrelationId   string             `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// NewFieldHistory builds an audit row for a field transition. Verifier and
// correlation ids come from ctx.
func NewFieldHistory(ctx context.Context, investigationId int, tr FieldTransition, fieldKey string, before, after interface{}, description string) FieldHistory {
	h := newHistory(ctx, investigationId, tr.Action, before, after, description)
	h.FieldKey = fieldKey
	h.FromStatus = string(tr.From)
	h.ToStatus = string(tr.To)
	return h
}

// NewInvestigationHistory builds an audit row for an investigation-level action.
func NewInvestigationHistory(ctx context.Context, inv *ComparisonInvestigation, action FieldHistoryAction, fromState LifecycleState, description string) FieldHistory {
	h := newHistory(ctx, inv.ID, action, nil, inv.Summary, description)
	h.FromStatus = string(fromState)
	h.ToStatus = string(inv.State)
	return h
}

func newHistory(ctx context.Context, investigationId int, action FieldHistoryAction, before, after interface{}, description string) FieldHistory {
	h := FieldHistory{
		InvestigationId: investigationId,
		Action:          action,
		Description:     description,
	}
	if before != nil {
		b, _ := json.Marshal(before)
		h.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		h.After = string(a)
	}
	h.VerifierId, _ = utils.GetVerifierIdFromContext(ctx)
	h.VerifierName, _ = utils.GetVerifierNameFromContext(ctx)
	h.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	return h
}

func DescribeTransition(f *ComparisonField, tr FieldTransition) string {
	switch tr.Action {
	case FieldHistoryActionConfirm:
		return fmt.Sprintf("%s confirmed as %s.", f.Label, f.ObservedValue)
	case FieldHistoryActionAdjust:
		return fmt.Sprintf("%s adjusted from %s to %s (%s).", f.Label, f.DeclaredValue, f.ObservedValue, f.Comment)
	case FieldHistoryActionBlock:
		return fmt.Sprintf("%s blocked: %s.", f.Label, f.BlockReason)
	case FieldHistoryActionReopen:
		return fmt.Sprintf("%s reopened from %s.", f.Label, tr.From)
	case FieldHistoryActionUnblock:
		return fmt.Sprintf("%s unblocked.", f.Label)
	case FieldHistoryActionEvidence:
		return fmt.Sprintf("%s evidence attached.", f.Label)
	}
	return fmt.Sprintf("%s %s.", f.Label, tr.Action)
}
