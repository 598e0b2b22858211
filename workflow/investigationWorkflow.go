package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvestigationExists = errors.New("application already has an open investigation")

// InvestigationStore is the persistence boundary of the engine.
// models.GormInvestigationStore is the production implementation.
type InvestigationStore interface {
	Create(ctx context.Context, inv *models.ComparisonInvestigation, history []models.FieldHistory) error
	Get(ctx context.Context, id int) (*models.ComparisonInvestigation, error)
	GetMany(ctx context.Context, ids []int) ([]*models.ComparisonInvestigation, error)
	FindOpenByApplication(ctx context.Context, applicationId string) (*models.ComparisonInvestigation, error)
	Save(ctx context.Context, inv *models.ComparisonInvestigation, change models.InvestigationChange) error
	ListHistory(ctx context.Context, investigationId int) ([]models.FieldHistory, error)
}

// Service runs every engine operation against a freshly loaded aggregate and
// persists the result in one versioned save.
type Service struct {
	Store      InvestigationStore
	Templates  *models.TemplateRegistry
	Locker     Locker
	Logger     *logrus.Logger
	Tracer     trace.Tracer
	StrictLock bool
	LockTTL    time.Duration
	Now        func() time.Time
}

func NewService(store InvestigationStore, templates *models.TemplateRegistry, locker Locker, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Service{
		Store:      store,
		Templates:  templates,
		Locker:     locker,
		Logger:     logger,
		Tracer:     otel.Tracer("field-reconciliation"),
		StrictLock: config.StrictInvestigationLock(),
		LockTTL:    30 * time.Second,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

type CaptureInput struct {
	Observed json.RawMessage `json:"value"`
	Comment  string          `json:"comment"`
	Evidence string          `json:"evidence"`
}

type CreateResult struct {
	Investigation *models.ComparisonInvestigation `json:"investigation"`
	IgnoredKeys   []string                        `json:"ignored_keys"`
}

// FinalizeResult carries either the completed investigation or the refusal.
type FinalizeResult struct {
	Investigation *models.ComparisonInvestigation `json:"investigation"`
	Refusal       *models.GateRefusal             `json:"refusal,omitempty"`
}

func (r *FinalizeResult) Completed() bool { return r.Refusal == nil }

func (s *Service) logFields(ctx context.Context, funcName string, investigationId int) logrus.Fields {
	fields := logrus.Fields{"field": funcName, "investigation_id": investigationId}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		fields["correlation_id"] = cid
	}
	return fields
}

func (s *Service) startSpan(ctx context.Context, name string, investigationId int) (context.Context, trace.Span) {
	return s.Tracer.Start(ctx, "workflow."+name, trace.WithAttributes(attribute.Int("investigation.id", investigationId)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) CreateInvestigation(ctx context.Context, snapshot models.ApplicationSnapshot) (_ *CreateResult, err error) {
	ctx, span := s.startSpan(ctx, "CreateInvestigation", 0)
	defer func() { endSpan(span, err) }()

	tpl, err := s.Templates.Lookup(snapshot.TemplateKey)
	if err != nil {
		return nil, err
	}
	inv, ignored, err := models.NewInvestigationFromSnapshot(tpl, snapshot, s.Now())
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, "CreateInvestigation", applicationLockKey(inv.ApplicationId))
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.Store.FindOpenByApplication(ctx, inv.ApplicationId)
	if err == nil {
		return nil, fmt.Errorf("%w (id %d)", ErrInvestigationExists, existing.ID)
	}
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, fmt.Errorf("find open investigation: %w", err)
	}

	history := []models.FieldHistory{
		models.NewInvestigationHistory(ctx, inv, models.FieldHistoryActionCreate, "",
			fmt.Sprintf("Investigation opened for application %s with %d fields.", inv.ApplicationId, inv.Summary.TotalFields)),
	}
	if err := s.Store.Create(ctx, inv, history); err != nil {
		if errors.Is(err, models.ErrOpenInvestigationExists) {
			// lost a race with a creator the lock did not exclude
			return nil, fmt.Errorf("%w: %w", ErrInvestigationExists, err)
		}
		config.LogError(s.Logger, "investigationWorkflow.go", "CreateInvestigation", "Store.Create", snapshot.ApplicationId, err)
		return nil, fmt.Errorf("create investigation: %w", err)
	}

	fields := s.logFields(ctx, "CreateInvestigation", inv.ID)
	fields["application_id"] = inv.ApplicationId
	if len(ignored) > 0 {
		fields["ignored_keys"] = strings.Join(ignored, ",")
	}
	s.Logger.WithFields(fields).Info("investigation created")
	return &CreateResult{Investigation: inv, IgnoredKeys: ignored}, nil
}

// mutate loads, applies fn and saves under the investigation lock. A nil
// change from fn means there is nothing to persist.
func (s *Service) mutate(ctx context.Context, funcName string, investigationId int, fn func(inv *models.ComparisonInvestigation, now time.Time) (*models.InvestigationChange, error)) (_ *models.ComparisonInvestigation, err error) {
	ctx, span := s.startSpan(ctx, funcName, investigationId)
	defer func() { endSpan(span, err) }()

	release, err := s.acquire(ctx, funcName, investigationLockKey(investigationId))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.Store.Get(ctx, investigationId)
	if err != nil {
		return nil, fmt.Errorf("load investigation %d: %w", investigationId, err)
	}
	change, err := fn(inv, s.Now())
	if err != nil {
		return nil, err
	}
	if change == nil {
		return inv, nil
	}
	if err := s.Store.Save(ctx, inv, *change); err != nil {
		if !errors.Is(err, models.ErrConcurrentModification) {
			config.LogError(s.Logger, "investigationWorkflow.go", funcName, "Store.Save", investigationId, err)
		}
		return nil, fmt.Errorf("save investigation %d: %w", investigationId, err)
	}
	return inv, nil
}

// fieldChange applies one field transition and records its audit row.
func (s *Service) fieldChange(ctx context.Context, funcName string, investigationId int, fieldKey string,
	apply func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error),
	describe func(f *models.ComparisonField, tr models.FieldTransition) string,
) (*models.ComparisonField, error) {
	var changed *models.ComparisonField
	_, err := s.mutate(ctx, funcName, investigationId, func(inv *models.ComparisonInvestigation, now time.Time) (*models.InvestigationChange, error) {
		_, current, err := inv.Field(fieldKey)
		if err != nil {
			return nil, err
		}
		before := current.Clone()
		f, tr, err := apply(inv, now)
		if err != nil {
			return nil, err
		}
		changed = f
		description := models.DescribeTransition(f, tr)
		if describe != nil {
			description = describe(f, tr)
		}
		fields := s.logFields(ctx, funcName, investigationId)
		fields["field_key"] = fieldKey
		fields["from"] = tr.From
		fields["to"] = tr.To
		s.Logger.WithFields(fields).Info("field transition")
		return &models.InvestigationChange{
			Fields:  []*models.ComparisonField{f},
			History: []models.FieldHistory{models.NewFieldHistory(ctx, inv.ID, tr, fieldKey, before, f, description)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func parseObserved(f *models.ComparisonField, raw json.RawMessage) (models.FieldValue, error) {
	v, err := models.ParseFieldValue(f.Type, raw)
	if errors.Is(err, models.ErrMissingDeclaredValue) {
		return v, &models.ValidationError{Field: f.Key, Message: "observed value is required", Err: models.ErrInvalidValue}
	}
	if err != nil {
		return v, &models.ValidationError{Field: f.Key, Message: err.Error(), Err: err}
	}
	return v, nil
}

func (s *Service) CaptureObservation(ctx context.Context, investigationId int, fieldKey string, in CaptureInput) (*models.ComparisonField, error) {
	return s.fieldChange(ctx, "CaptureObservation", investigationId, fieldKey,
		func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error) {
			_, f, err := inv.Field(fieldKey)
			if err != nil {
				return nil, models.FieldTransition{}, err
			}
			observed, err := parseObserved(f, in.Observed)
			if err != nil {
				return nil, models.FieldTransition{}, err
			}
			return inv.CaptureObservation(fieldKey, observed, in.Comment, in.Evidence, now)
		}, nil)
}

func (s *Service) BlockField(ctx context.Context, investigationId int, fieldKey, reason string, assessed models.Severity) (*models.ComparisonField, error) {
	return s.fieldChange(ctx, "BlockField", investigationId, fieldKey,
		func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error) {
			return inv.BlockField(fieldKey, reason, assessed, now)
		}, nil)
}

func (s *Service) ReopenField(ctx context.Context, investigationId int, fieldKey string) (*models.ComparisonField, error) {
	return s.fieldChange(ctx, "ReopenField", investigationId, fieldKey,
		func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error) {
			return inv.ReopenField(fieldKey)
		}, nil)
}

func (s *Service) UnblockField(ctx context.Context, investigationId int, fieldKey, reason string) (*models.ComparisonField, error) {
	return s.fieldChange(ctx, "UnblockField", investigationId, fieldKey,
		func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error) {
			return inv.UnblockField(fieldKey, reason)
		},
		func(f *models.ComparisonField, tr models.FieldTransition) string {
			return fmt.Sprintf("%s unblocked: %s.", f.Label, strings.TrimSpace(reason))
		})
}

// AttachEvidence links an uploaded evidence object to a captured or blocked field.
func (s *Service) AttachEvidence(ctx context.Context, investigationId int, fieldKey, objectKey string) (*models.ComparisonField, error) {
	return s.fieldChange(ctx, "AttachEvidence", investigationId, fieldKey,
		func(inv *models.ComparisonInvestigation, now time.Time) (*models.ComparisonField, models.FieldTransition, error) {
			f, err := inv.AttachEvidence(fieldKey, objectKey)
			if err != nil {
				return nil, models.FieldTransition{}, err
			}
			return f, models.FieldTransition{Action: models.FieldHistoryActionEvidence, From: f.Status, To: f.Status}, nil
		}, nil)
}

func (s *Service) SetGeneralComment(ctx context.Context, investigationId int, comment string) (*models.ComparisonInvestigation, error) {
	return s.mutate(ctx, "SetGeneralComment", investigationId, func(inv *models.ComparisonInvestigation, now time.Time) (*models.InvestigationChange, error) {
		before := inv.GeneralComment
		if err := inv.SetGeneralComment(comment); err != nil {
			return nil, err
		}
		h := models.NewInvestigationHistory(ctx, inv, models.FieldHistoryActionComment, inv.State, "General comment updated.")
		b, _ := json.Marshal(before)
		a, _ := json.Marshal(inv.GeneralComment)
		h.Before, h.After = string(b), string(a)
		return &models.InvestigationChange{History: []models.FieldHistory{h}}, nil
	})
}

func (s *Service) GetInvestigation(ctx context.Context, investigationId int) (*models.ComparisonInvestigation, error) {
	inv, err := s.Store.Get(ctx, investigationId)
	if err != nil {
		return nil, fmt.Errorf("load investigation %d: %w", investigationId, err)
	}
	return inv, nil
}

// GetSummary is a pure read of the current field states.
func (s *Service) GetSummary(ctx context.Context, investigationId int) (models.InvestigationSummary, error) {
	inv, err := s.GetInvestigation(ctx, investigationId)
	if err != nil {
		return models.InvestigationSummary{}, err
	}
	return models.BuildSummary(inv.Sections), nil
}

// GetSummaries loads several investigations at once. Unknown ids are absent
// from the result.
func (s *Service) GetSummaries(ctx context.Context, ids []int) (map[int]models.InvestigationSummary, error) {
	list, err := s.Store.GetMany(ctx, utils.UniqueSlice(ids))
	if err != nil {
		return nil, fmt.Errorf("load investigations: %w", err)
	}
	out := make(map[int]models.InvestigationSummary, len(list))
	for _, inv := range list {
		out[inv.ID] = models.BuildSummary(inv.Sections)
	}
	return out, nil
}

func (s *Service) Finalize(ctx context.Context, investigationId int) (*FinalizeResult, error) {
	var refusal *models.GateRefusal
	inv, err := s.mutate(ctx, "Finalize", investigationId, func(inv *models.ComparisonInvestigation, now time.Time) (*models.InvestigationChange, error) {
		r, err := inv.Finalize(now)
		if err != nil {
			return nil, err
		}
		fields := s.logFields(ctx, "Finalize", investigationId)
		if r != nil {
			refusal = r
			fields["blocking_reasons"] = len(r.Reasons)
			s.Logger.WithFields(fields).Info("finalize refused by gate")
			return nil, nil
		}
		event, err := models.NewInvestigationEvent(ctx, inv, models.EventTypeInvestigationCompleted, now)
		if err != nil {
			return nil, err
		}
		fields["recommended_action"] = inv.Summary.RecommendedAction
		s.Logger.WithFields(fields).Info("investigation completed")
		return &models.InvestigationChange{
			History: []models.FieldHistory{models.NewInvestigationHistory(ctx, inv, models.FieldHistoryActionFinalize, models.LifecycleStateOpen,
				fmt.Sprintf("Investigation completed, recommended action %s.", inv.Summary.RecommendedAction))},
			Events: []models.InvestigationEvent{event},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{Investigation: inv, Refusal: refusal}, nil
}

func (s *Service) CancelInvestigation(ctx context.Context, investigationId int, reason string) (*models.ComparisonInvestigation, error) {
	return s.mutate(ctx, "CancelInvestigation", investigationId, func(inv *models.ComparisonInvestigation, now time.Time) (*models.InvestigationChange, error) {
		if err := inv.Cancel(reason, now); err != nil {
			return nil, err
		}
		event, err := models.NewInvestigationEvent(ctx, inv, models.EventTypeInvestigationCancelled, now)
		if err != nil {
			return nil, err
		}
		s.Logger.WithFields(s.logFields(ctx, "CancelInvestigation", investigationId)).Info("investigation cancelled")
		return &models.InvestigationChange{
			History: []models.FieldHistory{models.NewInvestigationHistory(ctx, inv, models.FieldHistoryActionCancel, models.LifecycleStateOpen,
				"Investigation cancelled: "+inv.CancelReason)},
			Events: []models.InvestigationEvent{event},
		}, nil
	})
}

func (s *Service) GenerateDiscrepancyReport(ctx context.Context, investigationId int) (models.DiscrepancyReport, error) {
	inv, err := s.GetInvestigation(ctx, investigationId)
	if err != nil {
		return models.DiscrepancyReport{}, err
	}
	return models.GenerateDiscrepancyReport(inv), nil
}

func (s *Service) ListHistory(ctx context.Context, investigationId int) ([]models.FieldHistory, error) {
	if _, err := s.GetInvestigation(ctx, investigationId); err != nil {
		return nil, err
	}
	return s.Store.ListHistory(ctx, investigationId)
}
