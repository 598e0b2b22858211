package models

import (
	"strings"
	"time"
)

// ComparisonInvestigation is the aggregate root of one field verification.
// All mutation goes through its methods; Summary is rebuilt after each one.
type ComparisonInvestigation struct {
	ID             int                  `gorm:"primary_key" json:"id"`
	ApplicationId  string               `gorm:"size:64;not null;index" json:"application_id"`
	TemplateKey    string               `gorm:"size:64;not null" json:"template_key"`
	State          LifecycleState       `gorm:"column:lifecycle_state;size:20;not null;index;default:'open'" json:"state"`
	Version        int                  `gorm:"not null;default:1" json:"version"`
	GeneralComment string               `gorm:"type:text" json:"general_comment"`
	CompletedAt    *time.Time           `json:"completed_at"`
	CancelledAt    *time.Time           `json:"cancelled_at"`
	CancelReason   string               `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	Sections       []*InvcSection       `gorm:"foreignKey:InvestigationId" json:"sections"`
	Summary        InvestigationSummary `gorm:"-" json:"summary"`

	// OpenApplicationId is ApplicationId while open and NULL once terminal.
	// Its unique index allows one open investigation per application.
	OpenApplicationId *string `gorm:"size:64;uniqueIndex" json:"-"`
}

// Recompute refreshes every derived value bottom-up.
func (inv *ComparisonInvestigation) Recompute() {
	for _, s := range inv.Sections {
		s.recompute()
	}
	inv.Summary = BuildSummary(inv.Sections)
}

func (inv *ComparisonInvestigation) openApplicationKey() *string {
	if inv.State.IsTerminal() {
		return nil
	}
	id := inv.ApplicationId
	return &id
}

func (inv *ComparisonInvestigation) ensureOpen(action string) error {
	if inv.State.IsTerminal() {
		return &StateError{From: string(inv.State), Action: action, Err: ErrInvestigationTerminal}
	}
	return nil
}

// Field finds a field by its key.
func (inv *ComparisonInvestigation) Field(fieldKey string) (*InvcSection, *ComparisonField, error) {
	for _, s := range inv.Sections {
		for _, f := range s.Fields {
			if f.Key == fieldKey {
				return s, f, nil
			}
		}
	}
	return nil, nil, newValidationError(fieldKey, ErrUnknownField, "unknown field %q", fieldKey)
}

func (inv *ComparisonInvestigation) mutateField(action, fieldKey string, apply func(*ComparisonField) (FieldTransition, error)) (*ComparisonField, FieldTransition, error) {
	if err := inv.ensureOpen(action); err != nil {
		return nil, FieldTransition{}, err
	}
	_, f, err := inv.Field(fieldKey)
	if err != nil {
		return nil, FieldTransition{}, err
	}
	tr, err := apply(f)
	if err != nil {
		return nil, FieldTransition{}, err
	}
	inv.Recompute()
	return f, tr, nil
}

func (inv *ComparisonInvestigation) CaptureObservation(fieldKey string, observed FieldValue, comment, evidence string, now time.Time) (*ComparisonField, FieldTransition, error) {
	return inv.mutateField("capture", fieldKey, func(f *ComparisonField) (FieldTransition, error) {
		return f.Capture(observed, comment, evidence, now)
	})
}

func (inv *ComparisonInvestigation) BlockField(fieldKey, reason string, assessed Severity, now time.Time) (*ComparisonField, FieldTransition, error) {
	return inv.mutateField("block", fieldKey, func(f *ComparisonField) (FieldTransition, error) {
		return f.Block(reason, assessed, now)
	})
}

func (inv *ComparisonInvestigation) ReopenField(fieldKey string) (*ComparisonField, FieldTransition, error) {
	return inv.mutateField("reopen", fieldKey, func(f *ComparisonField) (FieldTransition, error) {
		return f.Reopen()
	})
}

func (inv *ComparisonInvestigation) UnblockField(fieldKey, reason string) (*ComparisonField, FieldTransition, error) {
	return inv.mutateField("unblock", fieldKey, func(f *ComparisonField) (FieldTransition, error) {
		return f.Unblock(reason)
	})
}

func (inv *ComparisonInvestigation) AttachEvidence(fieldKey, objectKey string) (*ComparisonField, error) {
	f, _, err := inv.mutateField("attach evidence", fieldKey, func(f *ComparisonField) (FieldTransition, error) {
		from := f.Status
		return FieldTransition{Action: FieldHistoryActionEvidence, From: from, To: from}, f.AttachEvidence(objectKey)
	})
	return f, err
}

func (inv *ComparisonInvestigation) SetGeneralComment(comment string) error {
	if err := inv.ensureOpen("comment on"); err != nil {
		return err
	}
	inv.GeneralComment = strings.TrimSpace(comment)
	return nil
}

func (inv *ComparisonInvestigation) EvaluateGate() GateResult {
	return EvaluateGate(inv.Sections)
}

// Finalize closes the investigation when the gate allows it. A refusal is
// returned as a value and leaves the aggregate untouched.
func (inv *ComparisonInvestigation) Finalize(now time.Time) (*GateRefusal, error) {
	if err := inv.ensureOpen("finalize"); err != nil {
		return nil, err
	}
	gate := inv.EvaluateGate()
	if !gate.Allowed {
		return &GateRefusal{Reasons: gate.Reasons}, nil
	}
	inv.State = LifecycleStateCompleted
	inv.CompletedAt = &now
	inv.Recompute()
	return nil, nil
}

func (inv *ComparisonInvestigation) Cancel(reason string, now time.Time) error {
	if err := inv.ensureOpen("cancel"); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &ValidationError{Field: "reason", Err: ErrReasonRequired, Message: "cancel reason is required"}
	}
	inv.State = LifecycleStateCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	return nil
}

func (inv *ComparisonInvestigation) Discrepancies() []Discrepancy {
	return CollectDiscrepancies(inv.Sections)
}

func (inv *ComparisonInvestigation) AllFields() []*ComparisonField {
	var out []*ComparisonField
	for _, s := range inv.Sections {
		out = append(out, s.Fields...)
	}
	return out
}
