package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ComparisonField struct {
	ID              int              `gorm:"primary_key" json:"id"`
	InvestigationId int              `gorm:"index;not null" json:"investigation_id"`
	SectionId       int              `gorm:"index;not null" json:"section_id"`
	SectionKey      string           `gorm:"size:100;not null" json:"section_key"`
	Key             string           `gorm:"size:100;not null" json:"key"`
	Label           string           `gorm:"size:255;not null" json:"label"`
	Type            FieldType        `gorm:"size:20;not null" json:"type"`
	Format          string           `gorm:"size:20" json:"format,omitempty"`
	PhoneRegion     string           `gorm:"size:2" json:"-"`
	Position        int              `gorm:"not null" json:"position"`
	DeclaredValue   FieldValue       `gorm:"type:json;not null" json:"declared_value"`
	ObservedValue   *FieldValue      `gorm:"type:json" json:"observed_value"`
	Delta           *decimal.Decimal `gorm:"type:decimal(12,4)" json:"delta"`
	Severity        Severity         `gorm:"size:20" json:"severity,omitempty"`
	Status          FieldStatus      `gorm:"size:20;not null;index" json:"status"`
	IsRequired      bool             `gorm:"not null" json:"is_required"`
	Threshold       *Threshold       `gorm:"type:json" json:"threshold,omitempty"`
	Comment         string           `gorm:"type:text" json:"comment,omitempty"`
	Evidence        string           `gorm:"size:512" json:"evidence,omitempty"`
	BlockReason     string           `gorm:"type:text" json:"block_reason,omitempty"`
	CapturedAt      *time.Time       `json:"captured_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// FieldTransition describes one applied state change.
type FieldTransition struct {
	Action FieldHistoryAction
	From   FieldStatus
	To     FieldStatus
}

// Capture records the observed value of a pending field.
// Nothing is written unless the resulting transition is legal.
func (f *ComparisonField) Capture(observed FieldValue, comment, evidence string, now time.Time) (FieldTransition, error) {
	if f.Status != FieldStatusPending {
		return FieldTransition{}, &StateError{Field: f.Key, From: string(f.Status), Action: "capture"}
	}
	if observed.Type != f.Type {
		return FieldTransition{}, newValidationError(f.Key, ErrValueTypeMismatch,
			"observed value of type %q does not match field type %q", observed.Type, f.Type)
	}

	delta := CalculateDelta(f.Type, f.DeclaredValue, &observed)
	severity := ClassifySeverity(f.Type, delta)
	comment = strings.TrimSpace(comment)

	to := FieldStatusAdjusted
	action := FieldHistoryActionAdjust
	if f.DeclaredValue.Matches(observed, f.Format, f.PhoneRegion) || f.Threshold.Within(delta) {
		to = FieldStatusConfirmed
		action = FieldHistoryActionConfirm
	} else if comment == "" {
		return FieldTransition{}, &ValidationError{Field: f.Key, Err: ErrCommentRequired, Message: ErrCommentRequired.Error()}
	}

	from := f.Status
	f.ObservedValue = &observed
	f.Delta = RoundDelta(delta)
	f.Severity = severity
	f.Status = to
	f.Comment = comment
	f.Evidence = strings.TrimSpace(evidence)
	f.BlockReason = ""
	f.CapturedAt = &now
	return FieldTransition{Action: action, From: from, To: to}, nil
}

// Block marks a pending field as impossible to verify.
func (f *ComparisonField) Block(reason string, assessed Severity, now time.Time) (FieldTransition, error) {
	if f.Status != FieldStatusPending {
		return FieldTransition{}, &StateError{Field: f.Key, From: string(f.Status), Action: "block"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return FieldTransition{}, &ValidationError{Field: f.Key, Err: ErrReasonRequired, Message: "block reason is required"}
	}
	if !assessed.IsValid() {
		return FieldTransition{}, newValidationError(f.Key, ErrInvalidValue, "invalid severity %q", assessed)
	}

	from := f.Status
	f.ObservedValue = nil
	f.Delta = nil
	f.Severity = assessed
	f.Status = FieldStatusBlocked
	f.BlockReason = reason
	f.CapturedAt = &now
	return FieldTransition{Action: FieldHistoryActionBlock, From: from, To: FieldStatusBlocked}, nil
}

// Reopen returns a confirmed or adjusted field to pending for re-capture.
// Blocked fields go through Unblock.
func (f *ComparisonField) Reopen() (FieldTransition, error) {
	if !f.Status.IsCompleted() {
		return FieldTransition{}, &StateError{Field: f.Key, From: string(f.Status), Action: "reopen"}
	}
	from := f.Status
	f.clearObservation()
	return FieldTransition{Action: FieldHistoryActionReopen, From: from, To: FieldStatusPending}, nil
}

// Unblock lifts a block. The reason is kept in the audit trail only.
func (f *ComparisonField) Unblock(reason string) (FieldTransition, error) {
	if f.Status != FieldStatusBlocked {
		return FieldTransition{}, &StateError{Field: f.Key, From: string(f.Status), Action: "unblock"}
	}
	if strings.TrimSpace(reason) == "" {
		return FieldTransition{}, &ValidationError{Field: f.Key, Err: ErrReasonRequired, Message: "unblock reason is required"}
	}
	f.clearObservation()
	return FieldTransition{Action: FieldHistoryActionUnblock, From: FieldStatusBlocked, To: FieldStatusPending}, nil
}

// AttachEvidence sets the evidence reference of an already captured or blocked field.
func (f *ComparisonField) AttachEvidence(objectKey string) error {
	if f.Status == FieldStatusPending {
		return &StateError{Field: f.Key, From: string(f.Status), Action: "attach evidence to"}
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return newValidationError(f.Key, ErrInvalidValue, "evidence object key is required")
	}
	f.Evidence = objectKey
	return nil
}

func (f *ComparisonField) clearObservation() {
	f.ObservedValue = nil
	f.Delta = nil
	f.Severity = SeverityNone
	f.Status = FieldStatusPending
	f.Comment = ""
	f.Evidence = ""
	f.BlockReason = ""
	f.CapturedAt = nil
}

func (f *ComparisonField) IsCriticalBlock() bool {
	return f.Status == FieldStatusBlocked && f.Severity == SeverityCritical
}

// Clone returns a deep copy, used for before/after audit snapshots.
func (f *ComparisonField) Clone() *ComparisonField {
	c := *f
	if f.ObservedValue != nil {
		v := *f.ObservedValue
		v.Options = append([]string(nil), f.ObservedValue.Options...)
		c.ObservedValue = &v
	}
	if f.Delta != nil {
		d := *f.Delta
		c.Delta = &d
	}
	if f.CapturedAt != nil {
		t := *f.CapturedAt
		c.CapturedAt = &t
	}
	c.DeclaredValue.Options = append([]string(nil), f.DeclaredValue.Options...)
	return &c
}
