package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SectionProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// InvcSection groups the fields of one verification area.
// Progress and Status are derived on every recompute and never stored.
type InvcSection struct {
	ID              int                `gorm:"primary_key" json:"id"`
	InvestigationId int                `gorm:"index;not null" json:"investigation_id"`
	Key             string             `gorm:"size:100;not null" json:"key"`
	Title           string             `gorm:"size:255;not null" json:"title"`
	Required        bool               `gorm:"not null" json:"required"`
	Order           int                `gorm:"column:display_order;not null" json:"order"`
	Fields          []*ComparisonField `gorm:"foreignKey:SectionId" json:"fields"`
	Progress        SectionProgress    `gorm:"-" json:"progress"`
	Status          ProgressStatus     `gorm:"-" json:"status"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (s *InvcSection) ComputeProgress() SectionProgress {
	p := SectionProgress{Total: len(s.Fields)}
	for _, f := range s.Fields {
		if f.Status.IsCompleted() {
			p.Completed++
		}
	}
	p.Percentage = percentage(p.Completed, p.Total)
	return p
}

// ComputeStatus applies blocked > completed > in_progress > pending.
func (s *InvcSection) ComputeStatus() ProgressStatus {
	var completed, blocked int
	for _, f := range s.Fields {
		switch {
		case f.Status == FieldStatusBlocked:
			blocked++
		case f.Status.IsCompleted():
			completed++
		}
	}
	return statusFromCounts(len(s.Fields), completed, blocked)
}

func (s *InvcSection) recompute() {
	s.Progress = s.ComputeProgress()
	s.Status = s.ComputeStatus()
}

func statusFromCounts(total, completed, blocked int) ProgressStatus {
	switch {
	case blocked > 0:
		return ProgressStatusBlocked
	case completed == total:
		return ProgressStatusCompleted
	case completed > 0:
		return ProgressStatusInProgress
	}
	return ProgressStatusPending
}

// percentage rounds half away from zero; an empty set is complete.
func percentage(part, total int) int {
	if total == 0 {
		return 100
	}
	return int(decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart())
}
