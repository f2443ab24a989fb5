package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/errors"
	"event-coordinator/modules/coordination/entity"
	"event-coordinator/modules/coordination/repository"
	"event-coordinator/modules/coordination/tasks"
	eventEntity "event-coordinator/modules/event/entity"
	eventRepository "event-coordinator/modules/event/repository"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
)

type fakeDB struct{}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) error { return nil }
func (f *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (f *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (f *fakeDB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDB) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error { return fn(nil) }
func (f *fakeDB) SQLx() *sqlx.DB                                                { return nil }

type fakeSessionRepo struct {
	session   *entity.CoordinationSession
	leaseErr  error
	updateErr error
	updates   int
	due       []entity.CoordinationSession
}

func (f *fakeSessionRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error {
	f.session = s
	s.Version = 1
	return nil
}

func (f *fakeSessionRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) (*entity.CoordinationSession, error) {
	return f.session, nil
}

func (f *fakeSessionRepo) AcquireLease(ctx context.Context, eventID uuid.UUID, holder string, ttl time.Duration) (*entity.CoordinationSession, error) {
	if f.leaseErr != nil {
		return nil, f.leaseErr
	}
	if f.session == nil {
		return nil, sql.ErrNoRows
	}
	return f.session, nil
}

func (f *fakeSessionRepo) ReleaseLease(ctx context.Context, eventID uuid.UUID, holder string) error {
	return nil
}

func (f *fakeSessionRepo) UpdateVersionedTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	s.Version++
	f.session = s
	return nil
}

func (f *fakeSessionRepo) DueDeadlines(ctx context.Context, now time.Time, limit int) ([]entity.CoordinationSession, error) {
	return f.due, nil
}

type fakeEventRepo struct {
	event        *eventEntity.Event
	participants []eventEntity.Participant
	venue        *eventEntity.Venue
	entries      []eventEntity.CalendarEntry
	eventWrites  int
	cancelled    []uuid.UUID
}

func (f *fakeEventRepo) CreateEventTx(ctx context.Context, tx *sqlx.Tx, e *eventEntity.Event) error {
	f.event = e
	return nil
}

func (f *fakeEventRepo) GetEventByID(ctx context.Context, id uuid.UUID) (*eventEntity.Event, error) {
	return f.event, nil
}

func (f *fakeEventRepo) ListEvents(ctx context.Context, filter eventRepository.EventFilter) ([]eventEntity.Event, error) {
	if f.event == nil {
		return nil, nil
	}
	return []eventEntity.Event{*f.event}, nil
}

func (f *fakeEventRepo) UpdateEventTx(ctx context.Context, tx *sqlx.Tx, e *eventEntity.Event) error {
	f.event = e
	f.eventWrites++
	return nil
}

func (f *fakeEventRepo) AddParticipantTx(ctx context.Context, tx *sqlx.Tx, p *eventEntity.Participant) error {
	f.participants = append(f.participants, *p)
	return nil
}

func (f *fakeEventRepo) GetParticipantsByEventID(ctx context.Context, eventID uuid.UUID) ([]eventEntity.Participant, error) {
	return f.participants, nil
}

func (f *fakeEventRepo) UpdateParticipantTx(ctx context.Context, tx *sqlx.Tx, p *eventEntity.Participant) error {
	for i := range f.participants {
		if f.participants[i].ID == p.ID {
			f.participants[i] = *p
		}
	}
	return nil
}

func (f *fakeEventRepo) UpsertVenueTx(ctx context.Context, tx *sqlx.Tx, v *eventEntity.Venue) error {
	f.venue = v
	return nil
}

func (f *fakeEventRepo) GetVenueByEventID(ctx context.Context, eventID uuid.UUID) (*eventEntity.Venue, error) {
	return f.venue, nil
}

func (f *fakeEventRepo) InsertCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, e *eventEntity.CalendarEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeEventRepo) GetCalendarEntriesByEventID(ctx context.Context, eventID uuid.UUID) ([]eventEntity.CalendarEntry, error) {
	return f.entries, nil
}

func (f *fakeEventRepo) CancelCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, at time.Time) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeGate struct {
	open       *entity.IntermediateConfirmation
	resolved   *entity.IntermediateConfirmation
	duplicate  bool
	resolveErr *errors.AppError
	expired    *entity.IntermediateConfirmation
	drafts     []*ConfirmationDraft
	cancels    int
	reminders  []entity.IntermediateConfirmation
	reminded   []string
}

func (f *fakeGate) Open(ctx context.Context, session *entity.CoordinationSession, draft *ConfirmationDraft, now time.Time) (*entity.IntermediateConfirmation, error) {
	f.drafts = append(f.drafts, draft)
	options, err := eventEntity.MarshalJSONB(draft.Options)
	if err != nil {
		return nil, err
	}
	conf := &entity.IntermediateConfirmation{
		ID:          "conf-" + string(draft.Kind),
		EventID:     session.EventID,
		SessionID:   session.ID,
		Kind:        draft.Kind,
		Options:     options,
		Status:      entity.ConfirmationStatusPending,
		RequestedAt: now,
	}
	f.open = conf
	return conf, nil
}

func (f *fakeGate) Resolve(ctx context.Context, confirmationID string, approved bool, selectedOptionID, feedback string, now time.Time) (*entity.IntermediateConfirmation, bool, *errors.AppError) {
	if f.resolveErr != nil {
		return nil, false, f.resolveErr
	}
	f.open = nil
	return f.resolved, f.duplicate, nil
}

func (f *fakeGate) Expire(ctx context.Context, confirmationID string, now time.Time) (*entity.IntermediateConfirmation, *errors.AppError) {
	f.open = nil
	return f.expired, nil
}

func (f *fakeGate) GetOpen(ctx context.Context, eventID uuid.UUID) (*entity.IntermediateConfirmation, error) {
	return f.open, nil
}

func (f *fakeGate) CancelOpen(ctx context.Context, eventID uuid.UUID, now time.Time) error {
	f.cancels++
	f.open = nil
	return nil
}

func (f *fakeGate) DueReminders(ctx context.Context, now time.Time) ([]entity.IntermediateConfirmation, error) {
	return f.reminders, nil
}

func (f *fakeGate) MarkReminded(ctx context.Context, confirmationID string) error {
	f.reminded = append(f.reminded, confirmationID)
	return nil
}

type fakeEnqueuer struct {
	triggers []tasks.TriggerPayload
	delays   []time.Duration
	timers   []tasks.TimerPayload
}

func (f *fakeEnqueuer) EnqueueTrigger(ctx context.Context, p tasks.TriggerPayload, opts ...asynq.Option) error {
	f.triggers = append(f.triggers, p)
	f.delays = append(f.delays, 0)
	return nil
}

func (f *fakeEnqueuer) EnqueueTriggerAfter(ctx context.Context, p tasks.TriggerPayload, delay time.Duration) error {
	f.triggers = append(f.triggers, p)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeEnqueuer) EnqueueTimer(ctx context.Context, p tasks.TimerPayload) error {
	f.timers = append(f.timers, p)
	return nil
}

type stubWorker struct {
	phase  entity.Phase
	result *PhaseResult
	err    error
	calls  int
}

func (s *stubWorker) Phase() entity.Phase { return s.phase }

func (s *stubWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type orchestratorFixture struct {
	orch      *Orchestrator
	sessions  *fakeSessionRepo
	events    *fakeEventRepo
	gate      *fakeGate
	enqueuer  *fakeEnqueuer
	messenger *fakeMessenger
	calendar  *fakeCalendarClient
	now       time.Time
}

func newFixture(t *testing.T, phase entity.Phase, workers ...PhaseWorker) *orchestratorFixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	eventID := uuid.New()
	event := &eventEntity.Event{
		ID:              eventID,
		ChannelID:       "C123",
		OrganizerID:     "UORG",
		Kind:            eventEntity.EventKindDining,
		Purpose:         "kickoff",
		Status:          phase.EventStatus(),
		DurationMinutes: 90,
	}
	session := &entity.CoordinationSession{
		ID:              uuid.New(),
		EventID:         eventID,
		CurrentPhase:    phase,
		Version:         1,
		ConfirmSchedule: true,
		ConfirmVenue:    true,
	}
	if err := session.SetWorkflow(entity.WorkflowData{SchemaVersion: 1}); err != nil {
		t.Fatal(err)
	}

	f := &orchestratorFixture{
		sessions:  &fakeSessionRepo{session: session},
		events:    &fakeEventRepo{event: event},
		gate:      &fakeGate{},
		enqueuer:  &fakeEnqueuer{},
		messenger: &fakeMessenger{},
		calendar:  &fakeCalendarClient{},
		now:       now,
	}
	cfg := config.CoordinationConfig{
		Quorum:                2,
		MaxPhaseRetries:       3,
		LeaseTTL:              30 * time.Second,
		ParticipantDeadline:   24 * time.Hour,
		ConfirmationTimeout:   12 * time.Hour,
		SearchHorizonDays:     14,
		AllowCancelDuringOpen: true,
	}
	f.orch = NewOrchestrator(cfg, &fakeDB{}, clock.NewFixed(now),
		f.sessions, f.events, f.gate, f.enqueuer, f.messenger, f.calendar, workers)
	return f
}

func (f *orchestratorFixture) trigger(reason string) tasks.TriggerPayload {
	return tasks.TriggerPayload{EventID: f.events.event.ID, Reason: reason}
}

func TestProcessAdvancesPhase(t *testing.T) {
	worker := &stubWorker{
		phase:  entity.PhaseCreated,
		result: &PhaseResult{Outcome: OutcomeAdvance},
	}
	f := newFixture(t, entity.PhaseCreated, worker)

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonCreated)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker.calls != 1 {
		t.Fatalf("worker calls = %d, want 1", worker.calls)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseCollectingParticipants {
		t.Errorf("phase = %s, want collecting_participants", f.sessions.session.CurrentPhase)
	}
	if f.events.event.Status != eventEntity.EventStatusCollectingParticipants {
		t.Errorf("event status = %s, want collecting_participants", f.events.event.Status)
	}
	if f.sessions.session.Version != 2 {
		t.Errorf("version = %d, want 2", f.sessions.session.Version)
	}
	if len(f.enqueuer.triggers) != 1 || f.enqueuer.triggers[0].Reason != tasks.ReasonPhaseComplete {
		t.Fatalf("expected one phase_complete follow-up, got %v", f.enqueuer.triggers)
	}
	if f.enqueuer.triggers[0].ExpectedVersion != 2 {
		t.Errorf("follow-up expected version = %d, want 2", f.enqueuer.triggers[0].ExpectedVersion)
	}
}

func TestProcessStaleTriggerIsNoop(t *testing.T) {
	worker := &stubWorker{phase: entity.PhaseCreated, result: &PhaseResult{Outcome: OutcomeAdvance}}
	f := newFixture(t, entity.PhaseCreated, worker)

	payload := f.trigger(tasks.ReasonPhaseComplete)
	payload.ExpectedVersion = 7

	if err := f.orch.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker.calls != 0 {
		t.Errorf("worker ran on a stale trigger")
	}
	if f.sessions.updates != 0 {
		t.Errorf("session was written on a stale trigger")
	}
}

func TestProcessParksWhileConfirmationOpen(t *testing.T) {
	worker := &stubWorker{phase: entity.PhaseScheduling, result: &PhaseResult{Outcome: OutcomeAdvance}}
	f := newFixture(t, entity.PhaseScheduling, worker)
	f.gate.open = &entity.IntermediateConfirmation{
		ID:      "conf-1",
		EventID: f.events.event.ID,
		Kind:    entity.ConfirmationKindSchedule,
		Status:  entity.ConfirmationStatusPending,
	}

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonReply)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker.calls != 0 {
		t.Error("worker ran while a confirmation was open")
	}
}

func TestProcessLeaseHeldPropagates(t *testing.T) {
	f := newFixture(t, entity.PhaseCreated)
	f.sessions.leaseErr = repository.ErrLeaseHeld

	err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonCreated))
	if err != repository.ErrLeaseHeld {
		t.Errorf("err = %v, want ErrLeaseHeld so the queue retries", err)
	}
}

func TestProcessMissingSessionIsNoop(t *testing.T) {
	f := newFixture(t, entity.PhaseCreated)
	f.sessions.session = nil

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonCreated)); err != nil {
		t.Errorf("missing session should not error, got %v", err)
	}
}

func TestProcessRetrySchedulesDelayedFollowUp(t *testing.T) {
	worker := &stubWorker{
		phase:  entity.PhaseVenueSearch,
		result: &PhaseResult{Outcome: OutcomeRetry, Reason: "provider down"},
	}
	f := newFixture(t, entity.PhaseVenueSearch, worker)

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonPhaseComplete)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.enqueuer.triggers) != 1 || f.enqueuer.triggers[0].Reason != tasks.ReasonRetry {
		t.Fatalf("expected a retry follow-up, got %v", f.enqueuer.triggers)
	}
	if f.enqueuer.delays[0] == 0 {
		t.Error("retry follow-up should be delayed")
	}
	errs, _ := f.sessions.session.Errors()
	if len(errs) != 1 || errs[0].Kind != "retry" {
		t.Errorf("error log = %v, want one retry entry", errs)
	}
}

func TestProcessRetryBudgetEscalatesToManual(t *testing.T) {
	worker := &stubWorker{
		phase:  entity.PhaseVenueSearch,
		result: &PhaseResult{Outcome: OutcomeRetry, Reason: "provider down"},
	}
	f := newFixture(t, entity.PhaseVenueSearch, worker)

	// Two failures already recorded against this phase; the third exhausts
	// the budget.
	for i := 0; i < 2; i++ {
		if err := f.sessions.session.AppendError(entity.ErrorEntry{
			At: f.now, Phase: entity.PhaseVenueSearch, Kind: "retry", Message: "provider down",
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonRetry)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gate.drafts) != 1 || f.gate.drafts[0].Kind != entity.ConfirmationKindManual {
		t.Fatalf("expected a manual checkpoint, got %v", f.gate.drafts)
	}
	got := map[string]bool{}
	for _, opt := range f.gate.drafts[0].Options {
		got[opt.OptionID] = true
	}
	for _, want := range []string{ManualOptionRetry, ManualOptionProvide, ManualOptionCancel} {
		if !got[want] {
			t.Errorf("manual checkpoint is missing the %q option", want)
		}
	}
	if len(f.enqueuer.timers) != 1 {
		t.Errorf("expected an expiry timer for the manual checkpoint")
	}
	for _, tr := range f.enqueuer.triggers {
		if tr.Reason == tasks.ReasonRetry {
			t.Error("no retry follow-up once the budget is exhausted")
		}
	}
}

func TestProcessWorkerErrorCountsAsRetry(t *testing.T) {
	worker := &stubWorker{phase: entity.PhaseScheduling, err: sql.ErrConnDone}
	f := newFixture(t, entity.PhaseScheduling, worker)

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonPhaseComplete)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errs, _ := f.sessions.session.Errors()
	if len(errs) != 1 || errs[0].Kind != "retry" {
		t.Errorf("worker error should be logged as a retry, got %v", errs)
	}
}

func TestProcessVersionConflictIsSilent(t *testing.T) {
	worker := &stubWorker{phase: entity.PhaseCreated, result: &PhaseResult{Outcome: OutcomeAdvance}}
	f := newFixture(t, entity.PhaseCreated, worker)
	f.sessions.updateErr = repository.ErrVersionConflict

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonCreated)); err != nil {
		t.Errorf("version conflict should be swallowed, got %v", err)
	}
	if len(f.enqueuer.triggers) != 0 {
		t.Error("no follow-up after a conflicting write")
	}
}

func TestProcessAwaitConfirmationOpensCheckpoint(t *testing.T) {
	draft := &ConfirmationDraft{
		Kind: entity.ConfirmationKindSchedule,
		Options: []entity.ConfirmationOption{
			{OptionID: "slot-20260303-1800", Title: "Tue Mar 3 18:00", Recommended: true},
		},
	}
	worker := &stubWorker{
		phase:  entity.PhaseScheduling,
		result: &PhaseResult{Outcome: OutcomeAwaitConfirmation, Confirmation: draft},
	}
	f := newFixture(t, entity.PhaseScheduling, worker)

	if err := f.orch.Process(context.Background(), f.trigger(tasks.ReasonPhaseComplete)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gate.drafts) != 1 || f.gate.drafts[0].Kind != entity.ConfirmationKindSchedule {
		t.Fatal("expected the schedule checkpoint to open")
	}
	if f.sessions.session.CurrentPhase != entity.PhaseScheduling {
		t.Error("session must stay in its phase while awaiting confirmation")
	}
	if f.sessions.session.DeadlineAt == nil || !f.sessions.session.DeadlineAt.Equal(f.now.Add(12*time.Hour)) {
		t.Errorf("deadline = %v, want confirmation timeout", f.sessions.session.DeadlineAt)
	}
	if len(f.enqueuer.timers) != 1 {
		t.Error("expected an expiry timer")
	}
}

func scheduleConfirmation(t *testing.T, f *orchestratorFixture) *entity.IntermediateConfirmation {
	t.Helper()
	slot := entity.SlotOption{
		OptionID: "slot-20260303-1800",
		Start:    time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 3, 3, 19, 30, 0, 0, time.UTC),
	}
	payload, err := eventEntity.MarshalJSONB(slot)
	if err != nil {
		t.Fatal(err)
	}
	options, err := eventEntity.MarshalJSONB([]entity.ConfirmationOption{
		{OptionID: slot.OptionID, Title: "Tue Mar 3 18:00", Recommended: true, Data: payload},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &entity.IntermediateConfirmation{
		ID:        "conf-schedule",
		EventID:   f.events.event.ID,
		SessionID: f.sessions.session.ID,
		Kind:      entity.ConfirmationKindSchedule,
		Options:   options,
		Status:    entity.ConfirmationStatusApproved,
	}
}

func TestHandleDecisionScheduleApproved(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	conf := scheduleConfirmation(t, f)
	f.gate.resolved = conf

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, conf.ID, true, "slot-20260303-1800", "")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseVenueSearch {
		t.Errorf("phase = %s, want venue_search", f.sessions.session.CurrentPhase)
	}
	if f.events.event.ScheduledStart == nil {
		t.Fatal("scheduled start should be set")
	}
	wf, err := f.sessions.session.Workflow()
	if err != nil {
		t.Fatal(err)
	}
	if wf.SelectedSlot == nil || wf.SelectedSlot.OptionID != "slot-20260303-1800" {
		t.Errorf("selected slot = %v", wf.SelectedSlot)
	}
}

func TestHandleDecisionScheduleRejectedReruns(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	conf := scheduleConfirmation(t, f)
	conf.Status = entity.ConfirmationStatusRejected
	f.gate.resolved = conf

	wf, _ := f.sessions.session.Workflow()
	wf.CandidateSlots = []entity.SlotOption{{OptionID: "slot-20260303-1800"}}
	if err := f.sessions.session.SetWorkflow(wf); err != nil {
		t.Fatal(err)
	}

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, conf.ID, false, "", "too late in the day")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseScheduling {
		t.Errorf("phase = %s, want scheduling (re-run)", f.sessions.session.CurrentPhase)
	}

	updated, err := f.sessions.session.Workflow()
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.RejectedOptionIDs) == 0 {
		t.Error("rejected options should be recorded")
	}
	if len(updated.FeedbackNotes) != 1 {
		t.Error("organizer feedback should be kept")
	}
	if len(f.enqueuer.triggers) != 1 || f.enqueuer.triggers[0].Reason != tasks.ReasonDecision {
		t.Errorf("expected a decision follow-up trigger, got %v", f.enqueuer.triggers)
	}
}

func TestHandleDecisionRepeatIsNoop(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	conf := scheduleConfirmation(t, f)
	f.gate.resolved = conf
	f.gate.duplicate = true

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, conf.ID, true, "slot-20260303-1800", "")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseScheduling {
		t.Errorf("phase = %s, a repeated decision must not move the session", f.sessions.session.CurrentPhase)
	}
	if f.sessions.updates != 0 {
		t.Errorf("session writes = %d, want 0 on a repeat", f.sessions.updates)
	}
}

func manualConfirmation(t *testing.T, f *orchestratorFixture) *entity.IntermediateConfirmation {
	t.Helper()
	options, err := eventEntity.MarshalJSONB([]entity.ConfirmationOption{
		{OptionID: ManualOptionRetry, Title: "Retry this step", Recommended: true},
		{OptionID: ManualOptionProvide, Title: "Provide the result yourself"},
		{OptionID: ManualOptionCancel, Title: "Cancel the event"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &entity.IntermediateConfirmation{
		ID:        "conf-manual",
		EventID:   f.events.event.ID,
		SessionID: f.sessions.session.ID,
		Kind:      entity.ConfirmationKindManual,
		Options:   options,
		Status:    entity.ConfirmationStatusApproved,
	}
}

func TestHandleDecisionManualProvidesVenue(t *testing.T) {
	f := newFixture(t, entity.PhaseVenueSearch)
	wf, _ := f.sessions.session.Workflow()
	wf.Manual = &entity.ManualResolution{
		Phase:  entity.PhaseVenueSearch,
		Reason: "venue search failed repeatedly",
	}
	if err := f.sessions.session.SetWorkflow(wf); err != nil {
		t.Fatal(err)
	}
	f.gate.resolved = manualConfirmation(t, f)

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, "conf-manual", true, ManualOptionProvide, "Sushi Tora, 1-2-3 Ginza")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseCalendarBooking {
		t.Errorf("phase = %s, want calendar_booking", f.sessions.session.CurrentPhase)
	}
	if f.events.venue == nil || f.events.venue.Name != "Sushi Tora" {
		t.Fatalf("venue = %+v, want the organizer-supplied one", f.events.venue)
	}
	if f.events.venue.Address != "1-2-3 Ginza" {
		t.Errorf("venue address = %q, want 1-2-3 Ginza", f.events.venue.Address)
	}
	updated, err := f.sessions.session.Workflow()
	if err != nil {
		t.Fatal(err)
	}
	if updated.Manual != nil {
		t.Error("manual marker should be cleared once resolved")
	}
	if updated.SelectedVenue == nil || updated.SelectedVenue.Name != "Sushi Tora" {
		t.Errorf("selected venue = %+v", updated.SelectedVenue)
	}
}

func TestHandleDecisionManualProvidesSchedule(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	wf, _ := f.sessions.session.Workflow()
	wf.Manual = &entity.ManualResolution{
		Phase:  entity.PhaseScheduling,
		Reason: "no common slot found",
	}
	if err := f.sessions.session.SetWorkflow(wf); err != nil {
		t.Fatal(err)
	}
	f.gate.resolved = manualConfirmation(t, f)

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, "conf-manual", true, ManualOptionProvide, "2026-03-05 19:00")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseVenueSearch {
		t.Errorf("phase = %s, want venue_search", f.sessions.session.CurrentPhase)
	}
	want := time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC)
	if f.events.event.ScheduledStart == nil || !f.events.event.ScheduledStart.Equal(want) {
		t.Errorf("scheduled start = %v, want %v", f.events.event.ScheduledStart, want)
	}
}

func TestHandleDecisionManualProvideRejectsBadTime(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	wf, _ := f.sessions.session.Workflow()
	wf.Manual = &entity.ManualResolution{Phase: entity.PhaseScheduling}
	if err := f.sessions.session.SetWorkflow(wf); err != nil {
		t.Fatal(err)
	}
	f.gate.resolved = manualConfirmation(t, f)

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, "conf-manual", true, ManualOptionProvide, "next tuesday-ish")
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Errorf("error = %v, want invalid input for an unreadable time", appErr)
	}
}

func TestHandleDecisionWrongEvent(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	conf := scheduleConfirmation(t, f)
	conf.EventID = uuid.New()
	f.gate.resolved = conf

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, conf.ID, true, "slot-20260303-1800", "")
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Errorf("expected invalid input, got %v", appErr)
	}
}

func TestHandleDecisionLeaseHeld(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	f.sessions.leaseErr = repository.ErrLeaseHeld

	appErr := f.orch.HandleDecision(context.Background(),
		f.events.event.ID, "conf-schedule", true, "x", "")
	if appErr == nil || appErr.Code != errors.ErrConcurrencyConflict {
		t.Errorf("expected concurrency conflict, got %v", appErr)
	}
}

func TestHandleCancelByOrganizer(t *testing.T) {
	f := newFixture(t, entity.PhaseVenueSearch)
	entryID := uuid.New()
	f.events.entries = []eventEntity.CalendarEntry{{ID: entryID, EventID: f.events.event.ID}}

	appErr := f.orch.HandleCancel(context.Background(), f.events.event.ID, "UORG", "plans changed")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", f.sessions.session.CurrentPhase)
	}
	if f.events.event.Status != eventEntity.EventStatusCancelled {
		t.Errorf("event status = %s, want cancelled", f.events.event.Status)
	}
	if len(f.events.cancelled) != 1 || f.events.cancelled[0] != entryID {
		t.Errorf("calendar entries cancelled = %v, want [%s]", f.events.cancelled, entryID)
	}
	if len(f.messenger.threadNotes) == 0 {
		t.Error("cancellation should be posted to the thread")
	}
}

func TestHandleCancelRejectsNonOrganizer(t *testing.T) {
	f := newFixture(t, entity.PhaseVenueSearch)

	appErr := f.orch.HandleCancel(context.Background(), f.events.event.ID, "USOMEONE", "")
	if appErr == nil || appErr.Code != errors.ErrForbidden {
		t.Errorf("expected forbidden, got %v", appErr)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseVenueSearch {
		t.Error("session must not move on a rejected cancel")
	}
}

func TestHandleCancelRejectedAfterAnnounce(t *testing.T) {
	f := newFixture(t, entity.PhaseAnnounced)

	appErr := f.orch.HandleCancel(context.Background(), f.events.event.ID, "UORG", "")
	if appErr == nil || appErr.Code != errors.ErrInvalidInput {
		t.Errorf("expected invalid input after announcement, got %v", appErr)
	}
}

func TestHandleCancelResolvesOpenConfirmation(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	f.gate.open = scheduleConfirmation(t, f)
	f.gate.open.Status = entity.ConfirmationStatusPending

	appErr := f.orch.HandleCancel(context.Background(), f.events.event.ID, "UORG", "")
	if appErr != nil {
		t.Fatalf("unexpected error: %v", appErr)
	}
	if f.gate.cancels != 1 {
		t.Error("the open confirmation should be cancelled alongside the event")
	}
}

func TestHandleTimerExpiresFinalConfirmationWithRecommended(t *testing.T) {
	f := newFixture(t, entity.PhaseFinalConfirmation)

	slot := entity.SlotOption{
		OptionID: "slot-20260303-1800",
		Start:    time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 3, 3, 19, 30, 0, 0, time.UTC),
	}
	wf, _ := f.sessions.session.Workflow()
	wf.SelectedSlot = &slot
	if err := f.sessions.session.SetWorkflow(wf); err != nil {
		t.Fatal(err)
	}

	options, err := eventEntity.MarshalJSONB([]entity.ConfirmationOption{
		{OptionID: FinalOptionApprove, Title: "Approve and announce", Recommended: true},
		{OptionID: FinalOptionReschedule, Title: "Pick a different time"},
	})
	if err != nil {
		t.Fatal(err)
	}
	expiresAt := f.now.Add(-time.Minute)
	conf := &entity.IntermediateConfirmation{
		ID:        "conf-final",
		EventID:   f.events.event.ID,
		SessionID: f.sessions.session.ID,
		Kind:      entity.ConfirmationKindFinal,
		Options:   options,
		Status:    entity.ConfirmationStatusPending,
		ExpiresAt: &expiresAt,
	}
	f.gate.open = conf
	f.gate.expired = conf

	err = f.orch.HandleTimer(context.Background(), tasks.TimerPayload{
		EventID: f.events.event.ID, Reason: tasks.ReasonDeadline, DueAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseAnnounced {
		t.Errorf("phase = %s, want announced (auto-approved on timeout)", f.sessions.session.CurrentPhase)
	}
}

func TestHandleTimerExpiredManualCheckpointFails(t *testing.T) {
	f := newFixture(t, entity.PhaseVenueSearch)

	options, err := eventEntity.MarshalJSONB([]entity.ConfirmationOption{
		{OptionID: "retry", Title: "Retry this step", Recommended: true},
		{OptionID: "cancel", Title: "Cancel the event"},
	})
	if err != nil {
		t.Fatal(err)
	}
	expiresAt := f.now.Add(-time.Minute)
	conf := &entity.IntermediateConfirmation{
		ID:        "conf-manual",
		EventID:   f.events.event.ID,
		SessionID: f.sessions.session.ID,
		Kind:      entity.ConfirmationKindManual,
		Options:   options,
		Status:    entity.ConfirmationStatusPending,
		ExpiresAt: &expiresAt,
	}
	f.gate.open = conf
	f.gate.expired = conf

	err = f.orch.HandleTimer(context.Background(), tasks.TimerPayload{
		EventID: f.events.event.ID, Reason: tasks.ReasonDeadline, DueAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.sessions.session.CurrentPhase != entity.PhaseError {
		t.Errorf("phase = %s, want error (manual checkpoint expired)", f.sessions.session.CurrentPhase)
	}
}

func TestSweepWakesDueSessions(t *testing.T) {
	f := newFixture(t, entity.PhaseCollectingParticipants)
	due := f.now.Add(-time.Hour)
	f.sessions.due = []entity.CoordinationSession{
		{ID: uuid.New(), EventID: uuid.New(), DeadlineAt: &due},
		{ID: uuid.New(), EventID: uuid.New(), DeadlineAt: &due},
	}

	if err := f.orch.Sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.enqueuer.timers) != 2 {
		t.Errorf("timers enqueued = %d, want 2", len(f.enqueuer.timers))
	}
}

func TestSweepRemindsPendingConfirmations(t *testing.T) {
	f := newFixture(t, entity.PhaseScheduling)
	conf := scheduleConfirmation(t, f)
	conf.Status = entity.ConfirmationStatusPending
	f.gate.reminders = []entity.IntermediateConfirmation{*conf}

	if err := f.orch.Sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.messenger.organizerDMs) != 1 {
		t.Fatalf("organizer DMs = %d, want 1", len(f.messenger.organizerDMs))
	}
	if len(f.gate.reminded) != 1 || f.gate.reminded[0] != conf.ID {
		t.Errorf("reminded = %v, want [%s]", f.gate.reminded, conf.ID)
	}
}
