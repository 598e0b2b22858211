package models

import (
	"fmt"
	"strings"
)

// BlockingReason points the verifier back to one outstanding item.
type BlockingReason struct {
	Code         BlockingReasonCode `json:"code"`
	SectionKey   string             `json:"section_key"`
	SectionTitle string             `json:"section_title"`
	FieldKey     string             `json:"field_key"`
	FieldLabel   string             `json:"field_label"`
	Status       FieldStatus        `json:"status"`
}

func (r BlockingReason) String() string {
	return fmt.Sprintf("%s / %s: %s", r.SectionTitle, r.FieldLabel, r.Code)
}

type GateResult struct {
	Allowed bool             `json:"allowed"`
	Reasons []BlockingReason `json:"blocking_reasons"`
}

// GateRefusal is returned by Finalize when the gate does not allow closing.
// It is a result, not an error.
type GateRefusal struct {
	Reasons []BlockingReason `json:"blocking_reasons"`
}

func (r *GateRefusal) Summary() string {
	parts := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		parts = append(parts, reason.String())
	}
	return "investigation cannot be finalized: " + strings.Join(parts, "; ")
}

// EvaluateGate requires every required field to be confirmed or adjusted and
// no field to be blocked with critical severity. Reasons follow section and
// field order.
func EvaluateGate(sections []*InvcSection) GateResult {
	res := GateResult{Reasons: []BlockingReason{}}
	for _, s := range sections {
		for _, f := range s.Fields {
			reason := BlockingReason{
				SectionKey:   s.Key,
				SectionTitle: s.Title,
				FieldKey:     f.Key,
				FieldLabel:   f.Label,
				Status:       f.Status,
			}
			switch {
			case f.IsCriticalBlock():
				reason.Code = BlockingReasonCriticalBlock
			case f.IsRequired && f.Status == FieldStatusBlocked:
				reason.Code = BlockingReasonRequiredBlocked
			case f.IsRequired && f.Status == FieldStatusPending:
				reason.Code = BlockingReasonRequiredPending
			default:
				continue
			}
			res.Reasons = append(res.Reasons, reason)
		}
	}
	res.Allowed = len(res.Reasons) == 0
	return res
}
