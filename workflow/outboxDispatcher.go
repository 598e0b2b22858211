package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxOutboxBackoff = 10 * time.Minute

// EventPublisher delivers one investigation event and returns the broker message id.
type EventPublisher interface {
	Publish(ctx context.Context, msg config.InvestigationEventMessage) (string, error)
}

// PubSubPublisher publishes to the PUBSUB_TOPIC configured in config.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, msg config.InvestigationEventMessage) (string, error) {
	return config.PublishInvestigationEventWithResult(ctx, msg)
}

// OutboxDispatcher ships completed/cancelled investigation events written by
// the workflow to the broker. Several replicas may run; rows are claimed with
// SKIP LOCKED and a claim older than LockTimeout is taken over.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    EventPublisher
	Tracer       trace.Tracer
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DispatchResult counts what one pass did with the events it claimed.
type DispatchResult struct {
	Claimed int
	Sent    int
	Failed  int
	Dead    int
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher EventPublisher) *OutboxDispatcher {
	if publisher == nil {
		publisher = PubSubPublisher{}
	}
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		Tracer:         otel.Tracer("field-reconciliation"),
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

// nextBackoff doubles initial per attempt after the first, capped at ten minutes.
func nextBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt && backoff < maxOutboxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxOutboxBackoff {
		return maxOutboxBackoff
	}
	return backoff
}

// failureOutcome decides where an event goes after its attempt-th publish
// failed: back to FAILED with a retry time, or DEAD once attempts run out.
func failureOutcome(attempt, maxAttempts int, initial time.Duration, now time.Time) (string, *time.Time) {
	if maxAttempts > 0 && attempt >= maxAttempts {
		return models.OutboxPublishStatusDead, nil
	}
	next := now.Add(nextBackoff(initial, attempt))
	return models.OutboxPublishStatusFailed, &next
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		res := d.DispatchOnce(ctx)
		if res.Claimed > 0 && d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":         "OutboxDispatcher",
				"dispatcher_id": d.DispatcherID,
				"sent":          res.Sent,
				"failed":        res.Failed,
				"dead":          res.Dead,
			}).Info("investigation events dispatched")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch of due investigation events and publishes
// them in id order.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) DispatchResult {
	var res DispatchResult
	if d.DB == nil {
		return res
	}
	now := time.Now().UTC()

	claimed, expired, err := d.claim(ctx, now)
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "claim batch", d.DispatcherID, err)
		return res
	}
	res.Claimed = len(claimed)
	res.Dead = expired

	for _, ev := range claimed {
		if err := d.publish(ctx, ev); err != nil {
			if d.markFailed(ctx, ev, err) == models.OutboxPublishStatusDead {
				res.Dead++
			} else {
				res.Failed++
			}
			continue
		}
		res.Sent++
	}
	return res
}

// claim locks due rows and marks them PROCESSING for this dispatcher. Rows
// that already used every attempt go straight to DEAD and are not returned.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.InvestigationEvent, int, error) {
	var due []models.InvestigationEvent
	var claimed []models.InvestigationEvent
	expired := 0
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleBefore := now.Add(-d.LockTimeout)
		err := tx.
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&due).Error
		if err != nil {
			return err
		}
		for _, ev := range due {
			if d.MaxAttempts > 0 && ev.PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := setEventStatus(tx, ev.ID, models.OutboxPublishStatusDead, map[string]interface{}{"last_publish_error": &msg}); err != nil {
					return err
				}
				expired++
				continue
			}
			if err := setEventStatus(tx, ev.ID, models.OutboxPublishStatusProcessing, map[string]interface{}{
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
			}); err != nil {
				return err
			}
			ev.PublishAttempts++
			claimed = append(claimed, ev)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return claimed, expired, nil
}

// setEventStatus moves one row to status and releases its claim.
func setEventStatus(db *gorm.DB, id int, status string, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"publish_status":  status,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return db.Model(&models.InvestigationEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (d *OutboxDispatcher) publish(ctx context.Context, ev models.InvestigationEvent) error {
	ctx, span := d.Tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.Int("investigation.id", ev.InvestigationId),
		attribute.String("event.type", ev.EventType),
		attribute.Int("event.attempt", ev.PublishAttempts),
	))
	defer span.End()

	msgId, err := d.Publisher.Publish(ctx, models.ConvertToEventMessage(ev))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	publishedAt := time.Now().UTC()
	if err := setEventStatus(d.DB.WithContext(ctx), ev.ID, models.OutboxPublishStatusSent, map[string]interface{}{
		"published_at":       &publishedAt,
		"pub_sub_message_id": &msgId,
	}); err != nil {
		// Already on the broker; a stale claim will publish it again and
		// consumers dedupe on event_key.
		config.LogError(d.Logger, "outboxDispatcher.go", "publish", "mark sent", ev.EventKey, err)
	}
	return nil
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, ev models.InvestigationEvent, cause error) string {
	msg := cause.Error()
	status, next := failureOutcome(ev.PublishAttempts, d.MaxAttempts, d.InitialBackoff, time.Now().UTC())
	extra := map[string]interface{}{"last_publish_error": &msg}
	if next != nil {
		extra["next_attempt_at"] = next
	}
	if err := setEventStatus(d.DB.WithContext(ctx), ev.ID, status, extra); err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "markFailed", "update status", ev.EventKey, err)
	}

	if d.Logger != nil {
		fields := logrus.Fields{
			"field":            "OutboxDispatcher",
			"event_key":        ev.EventKey,
			"investigation_id": ev.InvestigationId,
			"application_id":   ev.ApplicationId,
			"correlation_id":   ev.CorrelationId,
			"attempt":          ev.PublishAttempts,
		}
		if next != nil {
			fields["next_attempt_at"] = next.Format(time.RFC3339)
		}
		d.Logger.WithFields(fields).Error("investigation event " + status + ": " + msg)
	}
	return status
}
