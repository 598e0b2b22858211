package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace/noop"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int
	rows     map[int]*models.ComparisonInvestigation
	history  map[int][]models.FieldHistory
	events   map[string]models.InvestigationEvent
	saves    int
	staleNow bool
	// missOpen makes FindOpenByApplication miss, as when a concurrent
	// creator commits after the lookup.
	missOpen bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:    map[int]*models.ComparisonInvestigation{},
		history: map[int][]models.FieldHistory{},
		events:  map[string]models.InvestigationEvent{},
	}
}

func cloneInvestigation(inv *models.ComparisonInvestigation) *models.ComparisonInvestigation {
	c := *inv
	c.Sections = make([]*models.InvcSection, len(inv.Sections))
	for i, s := range inv.Sections {
		sc := *s
		sc.Fields = make([]*models.ComparisonField, len(s.Fields))
		for j, f := range s.Fields {
			sc.Fields[j] = f.Clone()
		}
		c.Sections[i] = &sc
	}
	return &c
}

func (m *memoryStore) Create(ctx context.Context, inv *models.ComparisonInvestigation, history []models.FieldHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ApplicationId == inv.ApplicationId && !row.State.IsTerminal() {
			return models.ErrOpenInvestigationExists
		}
	}
	m.nextID++
	inv.ID = m.nextID
	fieldID := 0
	for _, s := range inv.Sections {
		s.InvestigationId = inv.ID
		for _, f := range s.Fields {
			fieldID++
			f.ID = fieldID
			f.InvestigationId = inv.ID
		}
	}
	for i := range history {
		history[i].InvestigationId = inv.ID
	}
	m.rows[inv.ID] = cloneInvestigation(inv)
	m.history[inv.ID] = append(m.history[inv.ID], history...)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, id int) (*models.ComparisonInvestigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	c := cloneInvestigation(inv)
	c.Recompute()
	return c, nil
}

func (m *memoryStore) GetMany(ctx context.Context, ids []int) ([]*models.ComparisonInvestigation, error) {
	var out []*models.ComparisonInvestigation
	for _, id := range ids {
		inv, err := m.Get(ctx, id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (m *memoryStore) FindOpenByApplication(ctx context.Context, applicationId string) (*models.ComparisonInvestigation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missOpen {
		return nil, utils.ErrorRecordNotFound
	}
	for _, inv := range m.rows {
		if inv.ApplicationId == applicationId && inv.State == models.LifecycleStateOpen {
			return cloneInvestigation(inv), nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (m *memoryStore) Save(ctx context.Context, inv *models.ComparisonInvestigation, change models.InvestigationChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[inv.ID]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if m.staleNow {
		// another writer saved in between
		stored.Version++
		m.staleNow = false
	}
	if stored.Version != inv.Version || stored.State.IsTerminal() {
		return models.ErrConcurrentModification
	}
	m.saves++
	inv.Version++
	m.rows[inv.ID] = cloneInvestigation(inv)
	m.history[inv.ID] = append(m.history[inv.ID], change.History...)
	for _, e := range change.Events {
		if _, dup := m.events[e.EventKey]; !dup {
			m.events[e.EventKey] = e
		}
	}
	return nil
}

func (m *memoryStore) ListHistory(ctx context.Context, investigationId int) ([]models.FieldHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FieldHistory(nil), m.history[investigationId]...), nil
}

type fakeUnlocker struct{ released *int }

func (u fakeUnlocker) Release(ctx context.Context) error {
	*u.released++
	return nil
}

type fakeLocker struct {
	err      error
	obtained int
	released int
}

func (l *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.obtained++
	return fakeUnlocker{released: &l.released}, nil
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store InvestigationStore, locker Locker) *Service {
	t.Helper()
	templates, err := models.DefaultTemplateRegistry("GT")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Service{
		Store:     store,
		Templates: templates,
		Locker:    locker,
		Logger:    logger,
		Tracer:    noop.NewTracerProvider().Tracer("test"),
		LockTTL:   time.Second,
		Now:       func() time.Time { return fixedNow },
	}
}

func declaredValues() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"full_name":         json.RawMessage(`"Ana López"`),
		"national_id":       json.RawMessage(`"1234 56789 0101"`),
		"birth_date":        json.RawMessage(`"1990-04-12"`),
		"mobile_phone":      json.RawMessage(`"5555-1234"`),
		"home_address":      json.RawMessage(`"4a calle 5-10 zona 1"`),
		"business_name":     json.RawMessage(`"Tienda Ana"`),
		"business_activity": json.RawMessage(`["retail"]`),
		"business_address":  json.RawMessage(`"Mercado central"`),
		"monthly_income":    json.RawMessage(`"Q8,500"`),
		"monthly_sales":     json.RawMessage(`"Q20,000"`),
		"monthly_expenses":  json.RawMessage(`12000`),
		"existing_debt":     json.RawMessage(`"Q0"`),
	}
}

func createInvestigation(t *testing.T, svc *Service, applicationId string) *models.ComparisonInvestigation {
	t.Helper()
	res, err := svc.CreateInvestigation(context.Background(), models.ApplicationSnapshot{
		ApplicationId: applicationId,
		Declared:      declaredValues(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Investigation
}

func TestCreateInvestigation(t *testing.T) {
	store := newMemoryStore()
	locker := &fakeLocker{}
	svc := newTestService(t, store, locker)

	declared := declaredValues()
	declared["favourite_color"] = json.RawMessage(`"blue"`)
	res, err := svc.CreateInvestigation(context.Background(), models.ApplicationSnapshot{ApplicationId: "APP-1", Declared: declared})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Investigation.ID == 0 || res.Investigation.Summary.TotalFields != 12 {
		t.Fatalf("unexpected investigation %+v", res.Investigation.Summary)
	}
	if len(res.IgnoredKeys) != 1 || res.IgnoredKeys[0] != "favourite_color" {
		t.Fatalf("expected ignored favourite_color, got %v", res.IgnoredKeys)
	}
	if locker.obtained != 1 || locker.released != 1 {
		t.Fatalf("expected lock obtained and released once, got %d/%d", locker.obtained, locker.released)
	}
	history, _ := svc.ListHistory(context.Background(), res.Investigation.ID)
	if len(history) != 1 || history[0].Action != models.FieldHistoryActionCreate {
		t.Fatalf("expected one create history row, got %+v", history)
	}

	_, err = svc.CreateInvestigation(context.Background(), models.ApplicationSnapshot{ApplicationId: "APP-1", Declared: declaredValues()})
	if !errors.Is(err, ErrInvestigationExists) {
		t.Fatalf("expected existing investigation error, got %v", err)
	}
	_, err = svc.CreateInvestigation(context.Background(), models.ApplicationSnapshot{ApplicationId: "APP-2", TemplateKey: "nope", Declared: declaredValues()})
	if !errors.Is(err, models.ErrUnknownTemplate) {
		t.Fatalf("expected unknown template, got %v", err)
	}
}

func TestCreateInvestigation_StoreRejectsSecondOpen(t *testing.T) {
	cases := []struct {
		name     string
		cancel   bool
		wantErr  error
		wantRows int
	}{
		{"first still open", false, ErrInvestigationExists, 1},
		{"first cancelled", true, nil, 2},
	}
	for _, c := range cases {
		store := newMemoryStore()
		svc := newTestService(t, store, &fakeLocker{})
		first := createInvestigation(t, svc, "APP-9")
		if c.cancel {
			if _, err := svc.CancelInvestigation(context.Background(), first.ID, "duplicate request"); err != nil {
				t.Fatalf("%s: cancel: %v", c.name, err)
			}
		}

		store.missOpen = true
		_, err := svc.CreateInvestigation(context.Background(), models.ApplicationSnapshot{ApplicationId: "APP-9", Declared: declaredValues()})
		if c.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if c.wantErr != nil && (!errors.Is(err, c.wantErr) || !errors.Is(err, models.ErrOpenInvestigationExists)) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.wantErr, err)
		}
		if len(store.rows) != c.wantRows {
			t.Fatalf("%s: expected %d stored investigations, got %d", c.name, c.wantRows, len(store.rows))
		}
	}
}

func TestCaptureObservation_RejectLeavesStoreUntouched(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")
	ctx := context.Background()

	cases := []struct {
		name  string
		key   string
		input CaptureInput
		check func(error) bool
	}{
		{"mismatch without comment", "monthly_income", CaptureInput{Observed: json.RawMessage(`"Q6,000"`)}, func(err error) bool {
			return errors.Is(err, models.ErrCommentRequired)
		}},
		{"wrong type", "monthly_income", CaptureInput{Observed: json.RawMessage(`"some"`), Comment: "x"}, func(err error) bool {
			return models.IsValidationError(err) && errors.Is(err, models.ErrValueTypeMismatch)
		}},
		{"missing value", "full_name", CaptureInput{}, models.IsValidationError},
		{"unknown field", "shoe_size", CaptureInput{Observed: json.RawMessage(`"42"`)}, func(err error) bool {
			return errors.Is(err, models.ErrUnknownField)
		}},
	}
	for _, c := range cases {
		_, err := svc.CaptureObservation(ctx, inv.ID, c.key, c.input)
		if err == nil || !c.check(err) {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
	}
	if store.saves != 0 {
		t.Fatalf("rejected captures must not save, got %d saves", store.saves)
	}
	got, _ := svc.GetInvestigation(ctx, inv.ID)
	if got.Version != 1 || got.Summary.PendingFields != 12 {
		t.Fatalf("stored investigation changed: version %d %+v", got.Version, got.Summary)
	}
}

func TestCaptureObservation_Adjusts(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")
	ctx := utils.SetVerifierIdInContext(context.Background(), 7)

	f, err := svc.CaptureObservation(ctx, inv.ID, "monthly_income", CaptureInput{Observed: json.RawMessage(`"Q6,000"`), Comment: "lower sales"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Status != models.FieldStatusAdjusted || f.Severity != models.SeverityHigh || f.Delta.String() != "29.4118" {
		t.Fatalf("unexpected field %s %s %v", f.Status, f.Severity, f.Delta)
	}
	summary, _ := svc.GetSummary(ctx, inv.ID)
	if summary.AdjustedFields != 1 || summary.OverallRisk != models.RiskLevelMedium && summary.OverallRisk != models.RiskLevelHigh {
		t.Fatalf("unexpected summary %+v", summary)
	}
	history, _ := svc.ListHistory(ctx, inv.ID)
	last := history[len(history)-1]
	if last.Action != models.FieldHistoryActionAdjust || last.FieldKey != "monthly_income" || last.VerifierId != 7 || last.ToStatus != string(models.FieldStatusAdjusted) {
		t.Fatalf("unexpected history row %+v", last)
	}
}

func confirmAll(t *testing.T, svc *Service, id int) {
	t.Helper()
	for key, raw := range declaredValues() {
		if _, err := svc.CaptureObservation(context.Background(), id, key, CaptureInput{Observed: raw}); err != nil {
			t.Fatalf("confirm %s: %v", key, err)
		}
	}
}

func TestFinalize(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")
	ctx := context.Background()

	res, err := svc.Finalize(ctx, inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Completed() || len(res.Refusal.Reasons) != 12 || res.Refusal.Reasons[0].Code != models.BlockingReasonRequiredPending {
		t.Fatalf("expected refusal with 12 pending reasons, got %+v", res.Refusal)
	}
	if store.saves != 0 || len(store.events) != 0 {
		t.Fatalf("a refusal must not persist anything")
	}

	confirmAll(t, svc, inv.ID)
	res, err = svc.Finalize(ctx, inv.ID)
	if err != nil || !res.Completed() {
		t.Fatalf("expected completion, got %+v %v", res, err)
	}
	if res.Investigation.State != models.LifecycleStateCompleted || res.Investigation.Summary.RecommendedAction != models.RecommendedActionApprove {
		t.Fatalf("unexpected completed investigation %+v", res.Investigation.Summary)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected exactly one outbox event, got %d", len(store.events))
	}
	if _, ok := store.events["investigation.completed:1"]; !ok {
		t.Fatalf("unexpected event keys %v", store.events)
	}

	_, err = svc.Finalize(ctx, inv.ID)
	if !errors.Is(err, models.ErrInvestigationTerminal) || !models.IsStateError(err) {
		t.Fatalf("expected terminal state error, got %v", err)
	}
	_, err = svc.CaptureObservation(ctx, inv.ID, "full_name", CaptureInput{Observed: json.RawMessage(`"Ana"`)})
	if !errors.Is(err, models.ErrInvestigationTerminal) {
		t.Fatalf("expected terminal error on capture, got %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("terminal investigations must not enqueue more events")
	}
}

func TestCancelInvestigation(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")
	ctx := context.Background()

	if _, err := svc.CancelInvestigation(ctx, inv.ID, "  "); !errors.Is(err, models.ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	got, err := svc.CancelInvestigation(ctx, inv.ID, "applicant withdrew")
	if err != nil || got.State != models.LifecycleStateCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if _, ok := store.events["investigation.cancelled:1"]; !ok || len(store.events) != 1 {
		t.Fatalf("expected one cancelled event, got %v", store.events)
	}
	// a new investigation may be opened once the previous one is terminal
	createInvestigation(t, svc, "APP-1")
}

func TestBlockReopenUnblock(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")
	ctx := context.Background()

	f, err := svc.BlockField(ctx, inv.ID, "business_address", "premises closed", models.SeverityCritical)
	if err != nil || f.Status != models.FieldStatusBlocked {
		t.Fatalf("unexpected block result %+v %v", f, err)
	}
	if _, err := svc.ReopenField(ctx, inv.ID, "business_address"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("blocked fields reopen only through unblock, got %v", err)
	}
	summary, _ := svc.GetSummary(ctx, inv.ID)
	if summary.OverallRisk != models.RiskLevelCritical || summary.RecommendedAction != models.RecommendedActionReject {
		t.Fatalf("critical block must drive risk, got %+v", summary)
	}
	if _, err := svc.UnblockField(ctx, inv.ID, "business_address", ""); !errors.Is(err, models.ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	f, err = svc.UnblockField(ctx, inv.ID, "business_address", "visited again")
	if err != nil || f.Status != models.FieldStatusPending {
		t.Fatalf("unexpected unblock result %+v %v", f, err)
	}
	if _, err := svc.AttachEvidence(ctx, inv.ID, "business_address", "evidence/1.jpg"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("evidence needs a captured field, got %v", err)
	}
}

func TestMutate_ConcurrentModification(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	inv := createInvestigation(t, svc, "APP-1")

	store.staleNow = true
	_, err := svc.CaptureObservation(context.Background(), inv.ID, "full_name", CaptureInput{Observed: json.RawMessage(`"Ana López"`)})
	if !errors.Is(err, models.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	got, _ := svc.GetInvestigation(context.Background(), inv.ID)
	_, f, _ := got.Field("full_name")
	if f.Status != models.FieldStatusPending {
		t.Fatalf("losing writer must not persist, got %s", f.Status)
	}
}

func TestAcquire_LockModes(t *testing.T) {
	cases := []struct {
		name    string
		locker  Locker
		strict  bool
		wantErr bool
	}{
		{"obtained", &fakeLocker{}, true, false},
		{"busy best effort", &fakeLocker{err: ErrLockNotObtained}, false, false},
		{"busy strict", &fakeLocker{err: ErrLockNotObtained}, true, true},
		{"redis down strict", &fakeLocker{err: errors.New("dial tcp: refused")}, true, true},
		{"no locker best effort", nil, false, false},
		{"no locker strict", nil, true, true},
	}
	for _, c := range cases {
		store := newMemoryStore()
		svc := newTestService(t, store, nil)
		inv := createInvestigation(t, svc, "APP-1")
		svc.Locker = c.locker
		svc.StrictLock = c.strict
		_, err := svc.SetGeneralComment(context.Background(), inv.ID, "visited on tuesday")
		if c.wantErr {
			if !errors.Is(err, ErrLockNotObtained) {
				t.Fatalf("%s: expected lock error, got %v", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
	}
}

func TestGetSummaries(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, &fakeLocker{})
	a := createInvestigation(t, svc, "APP-1")
	b := createInvestigation(t, svc, "APP-2")
	if _, err := svc.CaptureObservation(context.Background(), b.ID, "full_name", CaptureInput{Observed: json.RawMessage(`"ana lópez"`)}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	got, err := svc.GetSummaries(context.Background(), []int{a.ID, b.ID, b.ID, 99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[a.ID].ConfirmedFields != 0 || got[b.ID].ConfirmedFields != 1 {
		t.Fatalf("unexpected summaries %+v", got)
	}
}
