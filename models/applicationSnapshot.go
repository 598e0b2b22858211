package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/creditfield/loan_backend/utils"
)

// ApplicationSnapshot is the declared data of a credit application at the
// moment the investigation opens. Values are raw so each is parsed per its
// template field type.
type ApplicationSnapshot struct {
	ApplicationId string                     `json:"application_id" validate:"required,max=64"`
	TemplateKey   string                     `json:"template_key" validate:"omitempty,max=64"`
	Declared      map[string]json.RawMessage `json:"declared" validate:"required"`
}

// NewInvestigationFromSnapshot seeds an open investigation. Declared values
// are copied once and never resynchronised. The returned slice lists
// snapshot keys the template does not know.
func NewInvestigationFromSnapshot(tpl *SectionTemplateSet, snapshot ApplicationSnapshot, now time.Time) (*ComparisonInvestigation, []string, error) {
	if err := utils.ValidateStruct(snapshot); err != nil {
		return nil, nil, &ValidationError{Field: "snapshot", Message: err.Error(), Err: ErrInvalidValue}
	}

	known := map[string]bool{}
	inv := &ComparisonInvestigation{
		ApplicationId: strings.TrimSpace(snapshot.ApplicationId),
		TemplateKey:   tpl.Key,
		State:         LifecycleStateOpen,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var problems []error
	for _, st := range tpl.Sections {
		section := &InvcSection{
			Key:      st.Key,
			Title:    st.Title,
			Required: st.Required,
			Order:    st.Order,
			Fields:   []*ComparisonField{},
		}
		for pos, ft := range st.Fields {
			known[ft.Key] = true
			raw, present := snapshot.Declared[ft.Key]
			if !present || len(raw) == 0 || string(raw) == "null" {
				if ft.Required {
					problems = append(problems, newValidationError(ft.Key, ErrMissingDeclaredValue, "declared value is required"))
				}
				continue
			}
			declared, err := ParseFieldValue(ft.Type, raw)
			if err != nil {
				problems = append(problems, &ValidationError{Field: ft.Key, Message: err.Error(), Err: err})
				continue
			}
			section.Fields = append(section.Fields, &ComparisonField{
				SectionKey:    st.Key,
				Key:           ft.Key,
				Label:         ft.Label,
				Type:          ft.Type,
				Format:        ft.Format,
				PhoneRegion:   tpl.PhoneRegion,
				Position:      pos + 1,
				DeclaredValue: declared,
				Status:        FieldStatusPending,
				IsRequired:    ft.Required,
				Threshold:     ft.Threshold.toThreshold(),
			})
		}
		inv.Sections = append(inv.Sections, section)
	}
	if len(problems) > 0 {
		return nil, nil, joinValidation(problems)
	}
	if len(inv.AllFields()) == 0 {
		return nil, nil, &ValidationError{Field: "declared", Message: errEmptyTemplate.Error(), Err: errEmptyTemplate}
	}
	sort.SliceStable(inv.Sections, func(i, j int) bool { return inv.Sections[i].Order < inv.Sections[j].Order })

	var ignored []string
	for key := range snapshot.Declared {
		if !known[key] {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)

	inv.Recompute()
	return inv, ignored, nil
}

// joinValidation folds several field problems into one ValidationError that
// still matches the first sentinel with errors.Is.
func joinValidation(problems []error) error {
	if len(problems) == 1 {
		return problems[0]
	}
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.Error())
	}
	var first *ValidationError
	errors.As(problems[0], &first)
	return &ValidationError{
		Field:   "declared",
		Message: fmt.Sprintf("%d invalid values: %s", len(problems), strings.Join(msgs, "; ")),
		Err:     first.Err,
	}
}
