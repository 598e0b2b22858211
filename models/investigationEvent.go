package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/utils"
)

// Outbox publish statuses for InvestigationEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

const (
	EventTypeInvestigationCompleted = "investigation.completed"
	EventTypeInvestigationCancelled = "investigation.cancelled"
)

// InvestigationEvent is a transactional outbox row. It is inserted in the same
// transaction as the state change and published after commit by the dispatcher.
type InvestigationEvent struct {
	ID              int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventKey        string `gorm:"size:128;not null;uniqueIndex" json:"event_key"`
	EventType       string `gorm:"size:64;not null;index" json:"event_type"`
	InvestigationId int    `gorm:"index;not null" json:"investigation_id"`
	ApplicationId   string `gorm:"size:64;not null;index" json:"application_id"`
	Payload         []byte `gorm:"type:blob" json:"payload"`
	// publish happens after commit via dispatcher
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvestigationEventPayload is what consumers (credit committee, scoring)
// receive for a lifecycle event.
type InvestigationEventPayload struct {
	State          LifecycleState       `json:"state"`
	Summary        InvestigationSummary `json:"summary"`
	Report         DiscrepancyReport    `json:"report"`
	GeneralComment string               `json:"general_comment,omitempty"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
}

// NewInvestigationEvent builds the outbox row for a terminal transition.
// The event key is stable per investigation and type so a retried request
// cannot enqueue the same event twice.
func NewInvestigationEvent(ctx context.Context, inv *ComparisonInvestigation, eventType string, now time.Time) (InvestigationEvent, error) {
	payload, err := json.Marshal(InvestigationEventPayload{
		State:          inv.State,
		Summary:        inv.Summary,
		Report:         GenerateDiscrepancyReport(inv),
		GeneralComment: inv.GeneralComment,
		CancelReason:   inv.CancelReason,
	})
	if err != nil {
		return InvestigationEvent{}, err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return InvestigationEvent{
		EventKey:        fmt.Sprintf("%s:%d", eventType, inv.ID),
		EventType:       eventType,
		InvestigationId: inv.ID,
		ApplicationId:   inv.ApplicationId,
		Payload:         payload,
		PublishStatus:   OutboxPublishStatusPending,
		NextAttemptAt:   &now,
		CorrelationId:   correlationId,
		OccurredAt:      now,
	}, nil
}

func ConvertToEventMessage(record InvestigationEvent) config.InvestigationEventMessage {
	return config.InvestigationEventMessage{
		ID:              record.ID,
		EventKey:        record.EventKey,
		EventType:       record.EventType,
		InvestigationId: record.InvestigationId,
		ApplicationId:   record.ApplicationId,
		OccurredAt:      record.OccurredAt,
		Payload:         record.Payload,
		CorrelationId:   record.CorrelationId,
	}
}
