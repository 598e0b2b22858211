package models

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/creditfield/loan_backend/utils"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const DefaultTemplateKey = "field_verification_v1"

//go:embed templates/*.yaml
var templateFS embed.FS

type SectionTemplateSet struct {
	Key         string            `yaml:"key" validate:"required,max=64"`
	Title       string            `yaml:"title"`
	PhoneRegion string            `yaml:"phone_region" validate:"omitempty,len=2"`
	Sections    []SectionTemplate `yaml:"sections" validate:"required,min=1,dive"`
}

type SectionTemplate struct {
	Key      string          `yaml:"key" validate:"required,max=100"`
	Title    string          `yaml:"title" validate:"required,max=255"`
	Required bool            `yaml:"required"`
	Order    int             `yaml:"order"`
	Fields   []FieldTemplate `yaml:"fields" validate:"dive"`
}

type FieldTemplate struct {
	Key       string             `yaml:"key" validate:"required,max=100"`
	Label     string             `yaml:"label" validate:"required,max=255"`
	Type      FieldType          `yaml:"type" validate:"required,oneof=text number currency boolean date multiselect"`
	Format    string             `yaml:"format" validate:"omitempty,oneof=phone"`
	Required  bool               `yaml:"required"`
	Threshold *ThresholdTemplate `yaml:"threshold"`
}

type ThresholdTemplate struct {
	MinPercentage *float64 `yaml:"min_percentage" validate:"omitempty,gte=0"`
	MaxPercentage *float64 `yaml:"max_percentage" validate:"omitempty,gte=0"`
}

func (t *ThresholdTemplate) toThreshold() *Threshold {
	if t == nil || (t.MinPercentage == nil && t.MaxPercentage == nil) {
		return nil
	}
	th := &Threshold{}
	if t.MinPercentage != nil {
		d := decimal.NewFromFloat(*t.MinPercentage)
		th.MinPercentage = &d
	}
	if t.MaxPercentage != nil {
		d := decimal.NewFromFloat(*t.MaxPercentage)
		th.MaxPercentage = &d
	}
	return th
}

// LoadTemplate parses and validates one YAML template.
func LoadTemplate(data []byte) (*SectionTemplateSet, error) {
	var set SectionTemplateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks struct tags, then rules tags cannot express:
// unique keys across the template, min <= max, thresholds on numeric types only.
func (t *SectionTemplateSet) Validate() error {
	if err := utils.ValidateStruct(t); err != nil {
		return &ValidationError{Field: "template", Message: err.Error(), Err: ErrInvalidValue}
	}
	var problems []string
	sectionKeys := map[string]bool{}
	fieldKeys := map[string]bool{}
	for _, s := range t.Sections {
		if sectionKeys[s.Key] {
			problems = append(problems, fmt.Sprintf("duplicate section key %q", s.Key))
		}
		sectionKeys[s.Key] = true
		for _, f := range s.Fields {
			if fieldKeys[f.Key] {
				problems = append(problems, fmt.Sprintf("duplicate field key %q", f.Key))
			}
			fieldKeys[f.Key] = true
			if f.Format != "" && f.Type != FieldTypeText {
				problems = append(problems, fmt.Sprintf("field %q: format only applies to text", f.Key))
			}
			th := f.Threshold
			if th == nil {
				continue
			}
			if !f.Type.IsNumeric() {
				problems = append(problems, fmt.Sprintf("field %q: threshold only applies to number or currency", f.Key))
			}
			if th.MinPercentage != nil && th.MaxPercentage != nil && *th.MinPercentage > *th.MaxPercentage {
				problems = append(problems, fmt.Sprintf("field %q: min_percentage is greater than max_percentage", f.Key))
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Field: "template " + t.Key, Message: strings.Join(problems, "; "), Err: ErrInvalidValue}
	}
	return nil
}

// FieldCount is the number of fields the template can seed.
func (t *SectionTemplateSet) FieldCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Fields)
	}
	return n
}

type TemplateRegistry struct {
	templates map[string]*SectionTemplateSet
}

// NewTemplateRegistry indexes the given templates by key. Templates without a
// phone region get defaultRegion.
func NewTemplateRegistry(defaultRegion string, sets ...*SectionTemplateSet) (*TemplateRegistry, error) {
	r := &TemplateRegistry{templates: map[string]*SectionTemplateSet{}}
	for _, set := range sets {
		if _, exists := r.templates[set.Key]; exists {
			return nil, fmt.Errorf("duplicate template key %q", set.Key)
		}
		if set.PhoneRegion == "" {
			set.PhoneRegion = strings.ToUpper(defaultRegion)
		}
		r.templates[set.Key] = set
	}
	return r, nil
}

// EmbeddedTemplates parses every template shipped with the binary.
func EmbeddedTemplates() ([]*SectionTemplateSet, error) {
	entries, err := fs.Glob(templateFS, "templates/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	sets := make([]*SectionTemplateSet, 0, len(entries))
	for _, name := range entries {
		data, err := templateFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		set, err := LoadTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func DefaultTemplateRegistry(defaultRegion string) (*TemplateRegistry, error) {
	sets, err := EmbeddedTemplates()
	if err != nil {
		return nil, err
	}
	return NewTemplateRegistry(defaultRegion, sets...)
}

// Lookup resolves a template key; empty means the default template.
func (r *TemplateRegistry) Lookup(key string) (*SectionTemplateSet, error) {
	if key == "" {
		key = DefaultTemplateKey
	}
	set, ok := r.templates[key]
	if !ok {
		return nil, newValidationError("template_key", ErrUnknownTemplate, "unknown template %q", key)
	}
	return set, nil
}

func (r *TemplateRegistry) Keys() []string {
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var errEmptyTemplate = errors.New("template seeds no fields")
