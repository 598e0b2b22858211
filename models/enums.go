package models

import (
	"encoding/json"
	"errors"
)

type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeCurrency    FieldType = "currency"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeMultiselect FieldType = "multiselect"
)

func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeCurrency, FieldTypeBoolean, FieldTypeDate, FieldTypeMultiselect:
		return true
	}
	return false
}

// IsNumeric reports whether a percentage delta can be computed for the type.
func (t FieldType) IsNumeric() bool {
	return t == FieldTypeNumber || t == FieldTypeCurrency
}

func (t *FieldType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("field type must be string")
	}
	v := FieldType(str)
	if !v.IsValid() {
		return errors.New("invalid field type: " + str)
	}
	*t = v
	return nil
}

// text formats that change normalisation, never the type
const FieldFormatPhone = "phone"

type FieldStatus string

const (
	FieldStatusPending   FieldStatus = "pending"
	FieldStatusConfirmed FieldStatus = "confirmed"
	FieldStatusAdjusted  FieldStatus = "adjusted"
	FieldStatusBlocked   FieldStatus = "blocked"
)

// IsCompleted reports whether the field counts toward section progress.
func (s FieldStatus) IsCompleted() bool {
	return s == FieldStatusConfirmed || s == FieldStatusAdjusted
}

// Severity is empty when no delta applies.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SeverityNone
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("severity must be string")
	}
	v := Severity(str)
	if !v.IsValid() {
		return errors.New("invalid severity: " + str)
	}
	*s = v
	return nil
}

// ProgressStatus is shared by sections and the investigation overall.
type ProgressStatus string

const (
	ProgressStatusPending    ProgressStatus = "pending"
	ProgressStatusInProgress ProgressStatus = "in_progress"
	ProgressStatusCompleted  ProgressStatus = "completed"
	ProgressStatusBlocked    ProgressStatus = "blocked"
)

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

type RecommendedAction string

const (
	RecommendedActionApprove                RecommendedAction = "approve"
	RecommendedActionApproveWithConditions  RecommendedAction = "approve_with_conditions"
	RecommendedActionAdditionalVerification RecommendedAction = "additional_verification"
	RecommendedActionReject                 RecommendedAction = "reject"
)

type LifecycleState string

const (
	LifecycleStateOpen      LifecycleState = "open"
	LifecycleStateCompleted LifecycleState = "completed"
	LifecycleStateCancelled LifecycleState = "cancelled"
)

func (s LifecycleState) IsTerminal() bool {
	return s == LifecycleStateCompleted || s == LifecycleStateCancelled
}

type BlockingReasonCode string

const (
	BlockingReasonRequiredPending BlockingReasonCode = "required_pending"
	BlockingReasonRequiredBlocked BlockingReasonCode = "required_blocked"
	BlockingReasonCriticalBlock   BlockingReasonCode = "critical_block"
)

type FieldHistoryAction string

const (
	FieldHistoryActionCreate   FieldHistoryAction = "create"
	FieldHistoryActionConfirm  FieldHistoryAction = "confirm"
	FieldHistoryActionAdjust   FieldHistoryAction = "adjust"
	FieldHistoryActionBlock    FieldHistoryAction = "block"
	FieldHistoryActionReopen   FieldHistoryAction = "reopen"
	FieldHistoryActionUnblock  FieldHistoryAction = "unblock"
	FieldHistoryActionComment  FieldHistoryAction = "comment"
	FieldHistoryActionFinalize FieldHistoryAction = "finalize"
	FieldHistoryActionCancel   FieldHistoryAction = "cancel"
	FieldHistoryActionEvidence FieldHistoryAction = "evidence"
)
