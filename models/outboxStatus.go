package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OutboxStatus is an ops-facing view of one investigation event row.
type OutboxStatus struct {
	RecordId         int        `json:"record_id"`
	EventKey         string     `json:"event_key"`
	EventType        string     `json:"event_type"`
	InvestigationId  int        `json:"investigation_id"`
	PublishStatus    string     `json:"publish_status"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
}

func outboxStatusOf(rec InvestigationEvent) OutboxStatus {
	return OutboxStatus{
		RecordId:         rec.ID,
		EventKey:         rec.EventKey,
		EventType:        rec.EventType,
		InvestigationId:  rec.InvestigationId,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}
}

// ListOutboxStatus returns the events of an investigation, oldest first.
func ListOutboxStatus(ctx context.Context, db *gorm.DB, investigationId int) ([]OutboxStatus, error) {
	var records []InvestigationEvent
	if err := db.WithContext(ctx).
		Where("investigation_id = ?", investigationId).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]OutboxStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, outboxStatusOf(rec))
	}
	return out, nil
}

// ReplayOutboxEvent moves a FAILED or DEAD event back to FAILED with an
// immediate retry so the dispatcher picks it up on its next poll. SENT rows
// are left alone.
func ReplayOutboxEvent(ctx context.Context, db *gorm.DB, recordId int, now time.Time) (*OutboxStatus, error) {
	res := db.WithContext(ctx).
		Model(&InvestigationEvent{}).
		Where("id = ? AND publish_status IN ?", recordId, []string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusFailed,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"locked_at":          nil,
			"locked_by":          nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var rec InvestigationEvent
	if err := db.WithContext(ctx).First(&rec, recordId).Error; err != nil {
		return nil, err
	}
	status := outboxStatusOf(rec)
	return &status, nil
}
