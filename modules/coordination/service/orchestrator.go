package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/database"
	"event-coordinator/core/errors"
	"event-coordinator/core/logger"
	"event-coordinator/core/utils"
	"event-coordinator/modules/coordination/entity"
	"event-coordinator/modules/coordination/repository"
	"event-coordinator/modules/coordination/tasks"
	eventEntity "event-coordinator/modules/event/entity"
	eventRepository "event-coordinator/modules/event/repository"
	integration "event-coordinator/modules/integration/service"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const retryDelay = 30 * time.Second

// Options offered on a manual checkpoint.
const (
	ManualOptionRetry   = "retry"
	ManualOptionProvide = "provide"
	ManualOptionCancel  = "cancel"
)

// Orchestrator advances coordination sessions through their phases. It is
// the only writer of session state: every trigger acquires the session
// lease, runs the phase worker for the current phase, and persists the
// outcome under a version check.
type Orchestrator struct {
	cfg         config.CoordinationConfig
	db          database.IDatabase
	clock       clock.Clock
	sessions    repository.SessionRepositoryInterface
	events      eventRepository.EventRepositoryInterface
	gate        ConfirmationGateInterface
	enqueuer    tasks.EnqueuerInterface
	messenger   integration.MessengerInterface
	calendar    integration.CalendarClientInterface
	workers     map[entity.Phase]PhaseWorker
	leaseHolder string
}

type OrchestratorInterface interface {
	Process(ctx context.Context, payload tasks.TriggerPayload) error
	HandleDecision(ctx context.Context, eventID uuid.UUID, confirmationID string, approved bool, selectedOptionID, feedback string) *errors.AppError
	HandleCancel(ctx context.Context, eventID uuid.UUID, requestedBy, reason string) *errors.AppError
	HandleTimer(ctx context.Context, payload tasks.TimerPayload) error
	Sweep(ctx context.Context) error
}

func NewOrchestrator(
	cfg config.CoordinationConfig,
	db database.IDatabase,
	clk clock.Clock,
	sessions repository.SessionRepositoryInterface,
	events eventRepository.EventRepositoryInterface,
	gate ConfirmationGateInterface,
	enqueuer tasks.EnqueuerInterface,
	messenger integration.MessengerInterface,
	calendar integration.CalendarClientInterface,
	workers []PhaseWorker,
) *Orchestrator {
	byPhase := make(map[entity.Phase]PhaseWorker, len(workers))
	for _, w := range workers {
		byPhase[w.Phase()] = w
	}
	hostname, _ := os.Hostname()
	return &Orchestrator{
		cfg:         cfg,
		db:          db,
		clock:       clk,
		sessions:    sessions,
		events:      events,
		gate:        gate,
		enqueuer:    enqueuer,
		messenger:   messenger,
		calendar:    calendar,
		workers:     byPhase,
		leaseHolder: hostname + "-" + utils.GenerateID(),
	}
}

// Process runs one phase execution for the event named in the trigger.
// Returning repository.ErrLeaseHeld makes the task queue retry with backoff.
func (o *Orchestrator) Process(ctx context.Context, payload tasks.TriggerPayload) error {
	session, err := o.sessions.AcquireLease(ctx, payload.EventID, o.leaseHolder, o.cfg.LeaseTTL)
	if err != nil {
		if err == sql.ErrNoRows {
			logger.Warn("Orchestrator:Process:NoSession", "event_id", payload.EventID)
			return nil
		}
		return err
	}
	defer func() {
		if rerr := o.sessions.ReleaseLease(context.WithoutCancel(ctx), payload.EventID, o.leaseHolder); rerr != nil {
			logger.Warn("Orchestrator:Process:ReleaseLease", "event_id", payload.EventID, "error", rerr)
		}
	}()

	// A trigger scheduled against an older session version is stale: the
	// state it reacted to has already been superseded.
	if payload.ExpectedVersion > 0 && session.Version != payload.ExpectedVersion {
		logger.Info("Orchestrator:Process:Stale",
			"event_id", payload.EventID,
			"expected_version", payload.ExpectedVersion,
			"version", session.Version)
		return nil
	}

	if session.CurrentPhase.IsTerminal() {
		return nil
	}

	// An open checkpoint parks the session; only a decision or expiry moves
	// it, and those resolve the confirmation before triggering.
	open, err := o.gate.GetOpen(ctx, payload.EventID)
	if err != nil {
		return err
	}
	if open != nil {
		logger.Info("Orchestrator:Process:AwaitingConfirmation",
			"event_id", payload.EventID, "confirmation_id", open.ID)
		return nil
	}

	snap, err := o.loadSnapshot(ctx, session)
	if err != nil {
		return err
	}

	worker, ok := o.workers[session.CurrentPhase]
	if !ok {
		return fmt.Errorf("no worker for phase %s", session.CurrentPhase)
	}

	logger.Info("Orchestrator:Process:Execute",
		"event_id", payload.EventID,
		"phase", session.CurrentPhase,
		"reason", payload.Reason,
		"version", session.Version)

	result, err := worker.Execute(ctx, snap)
	if err != nil {
		result = &PhaseResult{Outcome: OutcomeRetry, Reason: err.Error()}
	}

	return o.apply(ctx, snap, result)
}

func (o *Orchestrator) loadSnapshot(ctx context.Context, session *entity.CoordinationSession) (*Snapshot, error) {
	event, err := o.events.GetEventByID(ctx, session.EventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("event %s not found for session %s", session.EventID, session.ID)
	}
	participants, err := o.events.GetParticipantsByEventID(ctx, session.EventID)
	if err != nil {
		return nil, err
	}
	workflow, err := session.Workflow()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Event:        event,
		Participants: participants,
		Session:      session,
		Workflow:     &workflow,
		Now:          o.clock.Now(),
	}, nil
}

// apply persists a phase result: session, event, participants and any new
// records move in one transaction, then follow-up tasks and notifications go
// out.
func (o *Orchestrator) apply(ctx context.Context, snap *Snapshot, result *PhaseResult) error {
	session := snap.Session
	currentPhase := session.CurrentPhase

	var followUp *tasks.TriggerPayload
	var timerDue *time.Time
	var manualEscalation bool
	timerReason := tasks.ReasonDeadline

	switch result.Outcome {
	case OutcomeAdvance:
		next := result.NextPhase
		if next == "" {
			next = currentPhase.Next()
		}
		if !currentPhase.CanTransitionTo(next) {
			return fmt.Errorf("illegal phase transition %s -> %s", currentPhase, next)
		}
		prev := currentPhase
		session.PreviousPhase = &prev
		session.CurrentPhase = next
		session.DeadlineAt = nil
		snap.Event.Status = next.EventStatus()
		result.EventDirty = true
		if !next.IsTerminal() {
			followUp = &tasks.TriggerPayload{EventID: session.EventID, Reason: tasks.ReasonPhaseComplete}
		}

	case OutcomeRerun:
		session.DeadlineAt = nil
		followUp = &tasks.TriggerPayload{EventID: session.EventID, Reason: tasks.ReasonDecision}

	case OutcomeSuspend:
		session.DeadlineAt = result.Deadline
		timerDue = result.Deadline

	case OutcomeAwaitConfirmation:
		// confirmation is opened after the commit; expiry rides DeadlineAt
		due := snap.Now.Add(o.cfg.ConfirmationTimeout)
		session.DeadlineAt = &due
		timerDue = &due
		timerReason = tasks.ReasonExpiry

	case OutcomeRetry:
		if err := session.AppendError(entity.ErrorEntry{
			At: snap.Now, Phase: currentPhase, Kind: "retry", Message: result.Reason,
		}); err != nil {
			return err
		}
		if session.PhaseErrorCount(currentPhase) >= o.cfg.MaxPhaseRetries {
			logger.Warn("Orchestrator:RetryBudgetExhausted",
				"event_id", session.EventID, "phase", currentPhase, "reason", result.Reason)
			manualEscalation = true
			if snap.Workflow.Manual == nil {
				snap.Workflow.Manual = &entity.ManualResolution{
					Phase:        currentPhase,
					Reason:       result.Reason,
					Instructions: "Automatic handling failed repeatedly. Retry, provide the result yourself, or cancel.",
				}
			}
			due := snap.Now.Add(o.cfg.ConfirmationTimeout)
			session.DeadlineAt = &due
			timerDue = &due
			timerReason = tasks.ReasonExpiry
		} else {
			followUp = &tasks.TriggerPayload{EventID: session.EventID, Reason: tasks.ReasonRetry}
		}

	case OutcomeFallback:
		if err := session.AppendError(entity.ErrorEntry{
			At: snap.Now, Phase: currentPhase, Kind: "fallback", Message: result.Reason,
		}); err != nil {
			return err
		}
		manualEscalation = true
		due := snap.Now.Add(o.cfg.ConfirmationTimeout)
		session.DeadlineAt = &due
		timerDue = &due
		timerReason = tasks.ReasonExpiry

	case OutcomeFail:
		if err := session.AppendError(entity.ErrorEntry{
			At: snap.Now, Phase: currentPhase, Kind: "fail", Message: result.Reason,
		}); err != nil {
			return err
		}
		prev := currentPhase
		session.PreviousPhase = &prev
		session.CurrentPhase = entity.PhaseError
		session.DeadlineAt = nil
		snap.Event.Status = eventEntity.EventStatusError
		result.EventDirty = true

	default:
		return fmt.Errorf("unknown phase outcome %q", result.Outcome)
	}

	if err := session.SetWorkflow(*snap.Workflow); err != nil {
		return err
	}

	err := o.db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if result.EventDirty {
			if err := o.events.UpdateEventTx(ctx, tx, snap.Event); err != nil {
				return err
			}
		}
		if result.ParticipantsDirty {
			for i := range snap.Participants {
				if err := o.events.UpdateParticipantTx(ctx, tx, &snap.Participants[i]); err != nil {
					return err
				}
			}
		}
		if result.Venue != nil {
			if err := o.events.UpsertVenueTx(ctx, tx, result.Venue); err != nil {
				return err
			}
		}
		for i := range result.CalendarEntries {
			if err := o.events.InsertCalendarEntryTx(ctx, tx, &result.CalendarEntries[i]); err != nil {
				return err
			}
		}
		return o.sessions.UpdateVersionedTx(ctx, tx, session)
	})
	if err != nil {
		if err == repository.ErrVersionConflict {
			// another writer advanced the session; this execution is void
			logger.Warn("Orchestrator:Apply:VersionConflict", "event_id", session.EventID)
			return nil
		}
		return err
	}

	o.notifyThread(ctx, snap, result.ThreadNote)

	if result.Outcome == OutcomeAwaitConfirmation {
		if _, err := o.gate.Open(ctx, session, result.Confirmation, snap.Now); err != nil {
			return err
		}
	}
	if manualEscalation {
		if err := o.openManualCheckpoint(ctx, snap); err != nil {
			return err
		}
	}
	if result.Outcome == OutcomeFail {
		o.notifyOrganizer(ctx, snap, fmt.Sprintf(
			"Coordination for %q stopped: %s", snap.Event.GenerateTitle(), result.Reason))
	}

	if followUp != nil {
		followUp.ExpectedVersion = session.Version
		delay := time.Duration(0)
		if followUp.Reason == tasks.ReasonRetry {
			delay = retryDelay
		}
		if err := o.enqueuer.EnqueueTriggerAfter(ctx, *followUp, delay); err != nil {
			return err
		}
	}
	if timerDue != nil {
		if err := o.enqueuer.EnqueueTimer(ctx, tasks.TimerPayload{
			EventID: session.EventID,
			Reason:  timerReason,
			DueAt:   *timerDue,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) openManualCheckpoint(ctx context.Context, snap *Snapshot) error {
	reason := "manual intervention required"
	instructions := ""
	if m := snap.Workflow.Manual; m != nil {
		reason = m.Reason
		instructions = m.Instructions
	}
	draft := &ConfirmationDraft{
		Kind: entity.ConfirmationKindManual,
		Options: []entity.ConfirmationOption{
			{OptionID: ManualOptionRetry, Title: "Retry this step", Description: reason, Recommended: true},
			{OptionID: ManualOptionProvide, Title: "Provide the result yourself",
				Description: "Reply with the detail in the feedback field."},
			{OptionID: ManualOptionCancel, Title: "Cancel the event"},
		},
	}
	if _, err := o.gate.Open(ctx, snap.Session, draft, snap.Now); err != nil {
		return err
	}
	o.notifyOrganizer(ctx, snap, fmt.Sprintf(
		"Coordination for %q needs your input: %s %s", snap.Event.GenerateTitle(), reason, instructions))
	return nil
}

// HandleDecision resolves an open confirmation and moves the session
// accordingly. Safe to call twice; the first decision wins and a repeat is a
// no-op.
func (o *Orchestrator) HandleDecision(ctx context.Context, eventID uuid.UUID, confirmationID string, approved bool, selectedOptionID, feedback string) *errors.AppError {
	session, err := o.sessions.AcquireLease(ctx, eventID, o.leaseHolder, o.cfg.LeaseTTL)
	if err != nil {
		if err == repository.ErrLeaseHeld {
			return errors.NewAppError(errors.ErrConcurrencyConflict, "Event is being processed, try again", err)
		}
		if err == sql.ErrNoRows {
			return errors.NewAppError(errors.ErrNotFound, "Event not found", err)
		}
		return errors.NewAppError(errors.ErrInternalServer, "Failed to load session", err)
	}
	defer func() {
		if rerr := o.sessions.ReleaseLease(context.WithoutCancel(ctx), eventID, o.leaseHolder); rerr != nil {
			logger.Warn("Orchestrator:HandleDecision:ReleaseLease", "event_id", eventID, "error", rerr)
		}
	}()

	now := o.clock.Now()
	confirmation, duplicate, appErr := o.gate.Resolve(ctx, confirmationID, approved, selectedOptionID, feedback, now)
	if appErr != nil {
		return appErr
	}
	if confirmation.EventID != eventID {
		return errors.NewAppError(errors.ErrInvalidInput, "Confirmation does not belong to this event", nil)
	}
	if duplicate {
		// the first decision already moved the session
		logger.Info("Orchestrator:HandleDecision:Duplicate",
			"event_id", eventID, "confirmation_id", confirmationID)
		return nil
	}

	return o.advanceAfterResolution(ctx, session, confirmation, approved, selectedOptionID, feedback)
}

// advanceAfterResolution moves the session once a confirmation has been
// resolved (by decision or by timeout). The caller holds the lease.
func (o *Orchestrator) advanceAfterResolution(ctx context.Context, session *entity.CoordinationSession, confirmation *entity.IntermediateConfirmation, approved bool, selectedOptionID, feedback string) *errors.AppError {
	snap, err := o.loadSnapshot(ctx, session)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to load event state", err)
	}
	if feedback != "" {
		snap.Workflow.FeedbackNotes = append(snap.Workflow.FeedbackNotes, feedback)
	}

	result, appErr := o.applyDecision(ctx, snap, confirmation, approved, selectedOptionID, feedback)
	if appErr != nil {
		return appErr
	}

	if err := o.apply(ctx, snap, result); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to apply decision", err)
	}
	return nil
}

// applyDecision translates a resolved confirmation into a phase result.
func (o *Orchestrator) applyDecision(ctx context.Context, snap *Snapshot, confirmation *entity.IntermediateConfirmation, approved bool, selectedOptionID, feedback string) (*PhaseResult, *errors.AppError) {
	switch confirmation.Kind {
	case entity.ConfirmationKindSchedule:
		slot, appErr := o.slotFromOption(confirmation, selectedOptionID, approved)
		if appErr != nil {
			return nil, appErr
		}
		ApplyScheduleDecision(snap, approved, slot)
		if !approved || slot == nil {
			// re-run scheduling against the remaining options
			return &PhaseResult{Outcome: OutcomeRerun}, nil
		}
		return &PhaseResult{
			Outcome:    OutcomeAdvance,
			EventDirty: true,
			ThreadNote: fmt.Sprintf("Scheduled for %s.", slot.Start.Format("Mon Jan 2 15:04")),
		}, nil

	case entity.ConfirmationKindVenue:
		option, appErr := o.venueFromOption(confirmation, selectedOptionID, approved)
		if appErr != nil {
			return nil, appErr
		}
		venue := ApplyVenueDecision(snap, approved, option)
		if venue == nil {
			return &PhaseResult{Outcome: OutcomeRerun}, nil
		}
		return &PhaseResult{
			Outcome:    OutcomeAdvance,
			EventDirty: true,
			Venue:      venue,
			ThreadNote: fmt.Sprintf("Venue: %s, %s.", venue.Name, venue.Address),
		}, nil

	case entity.ConfirmationKindFinal:
		if approved && (selectedOptionID == "" || selectedOptionID == FinalOptionApprove) {
			return &PhaseResult{Outcome: OutcomeAdvance}, nil
		}
		switch selectedOptionID {
		case FinalOptionChangeVenue:
			o.rollbackCalendarEntries(ctx, snap)
			ApplyVenueDecision(snap, false, nil)
			return &PhaseResult{Outcome: OutcomeAdvance, NextPhase: entity.PhaseVenueSearch, EventDirty: true}, nil
		default:
			o.rollbackCalendarEntries(ctx, snap)
			ApplyScheduleDecision(snap, false, nil)
			ApplyVenueDecision(snap, false, nil)
			return &PhaseResult{Outcome: OutcomeAdvance, NextPhase: entity.PhaseScheduling, EventDirty: true}, nil
		}

	case entity.ConfirmationKindManual:
		if !approved || selectedOptionID == ManualOptionCancel {
			return &PhaseResult{Outcome: OutcomeFail, Reason: "cancelled at manual checkpoint"}, nil
		}
		if selectedOptionID == ManualOptionProvide {
			return o.applyManualSubstitute(snap, feedback)
		}
		snap.Workflow.Manual = nil
		snap.Session.DeadlineAt = nil
		return &PhaseResult{Outcome: OutcomeRerun}, nil
	}
	return nil, errors.NewAppError(errors.ErrInternalServer, "Unknown confirmation kind", nil)
}

// applyManualSubstitute turns organizer-supplied detail into the stuck
// phase's result so coordination moves on past the failing step. The detail
// travels in the decision's feedback field.
func (o *Orchestrator) applyManualSubstitute(snap *Snapshot, detail string) (*PhaseResult, *errors.AppError) {
	phase := snap.Session.CurrentPhase
	if snap.Workflow.Manual != nil {
		phase = snap.Workflow.Manual.Phase
	}
	detail = strings.TrimSpace(detail)

	switch phase {
	case entity.PhaseCollectingParticipants:
		// organizer chose to proceed with the confirmed group
		snap.Workflow.Manual = nil
		snap.Workflow.QuorumWaived = true
		snap.Session.DeadlineAt = nil
		return &PhaseResult{Outcome: OutcomeRerun}, nil

	case entity.PhaseScheduling:
		start, err := parseManualStart(detail, snap.Now.Location())
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInvalidInput,
				"Could not read the time, use YYYY-MM-DD HH:MM", err)
		}
		snap.Workflow.Manual = nil
		snap.Session.DeadlineAt = nil
		slot := entity.SlotOption{
			OptionID:       "slot-manual",
			Start:          start,
			End:            start.Add(time.Duration(snap.Event.DurationMinutes) * time.Minute),
			AvailableCount: len(snap.ConfirmedParticipants()),
			TotalCount:     len(snap.Participants),
		}
		ApplyScheduleDecision(snap, true, &slot)
		return &PhaseResult{
			Outcome:    OutcomeAdvance,
			EventDirty: true,
			ThreadNote: fmt.Sprintf("Scheduled for %s.", start.Format("Mon Jan 2 15:04")),
		}, nil

	case entity.PhaseVenueSearch:
		if detail == "" {
			return nil, errors.NewAppError(errors.ErrInvalidInput,
				"Provide the venue as \"name, address\" in the feedback field", nil)
		}
		name, address := splitVenueDetail(detail)
		option := entity.VenueOption{
			OptionID: "venue-manual",
			Name:     name,
			Address:  address,
			Type:     allowedVenueTypes[snap.Event.Kind][0],
			Capacity: len(snap.ConfirmedParticipants()),
		}
		snap.Workflow.Manual = nil
		snap.Session.DeadlineAt = nil
		venue := ApplyVenueDecision(snap, true, &option)
		note := fmt.Sprintf("Venue: %s.", venue.Name)
		if venue.Address != "" {
			note = fmt.Sprintf("Venue: %s, %s.", venue.Name, venue.Address)
		}
		return &PhaseResult{
			Outcome:    OutcomeAdvance,
			EventDirty: true,
			Venue:      venue,
			ThreadNote: note,
		}, nil

	default:
		// the organizer handled the step out of band
		snap.Workflow.Manual = nil
		snap.Session.DeadlineAt = nil
		return &PhaseResult{
			Outcome:    OutcomeAdvance,
			ThreadNote: "Step resolved manually by the organizer.",
		}, nil
	}
}

func parseManualStart(detail string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, detail, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", detail)
}

func splitVenueDetail(detail string) (name, address string) {
	if i := strings.Index(detail, ","); i >= 0 {
		return strings.TrimSpace(detail[:i]), strings.TrimSpace(detail[i+1:])
	}
	return detail, ""
}

func (o *Orchestrator) slotFromOption(confirmation *entity.IntermediateConfirmation, optionID string, approved bool) (*entity.SlotOption, *errors.AppError) {
	if !approved || optionID == "" {
		return nil, nil
	}
	option, err := confirmation.FindOption(optionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode options", err)
	}
	if option == nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "Unknown option", nil)
	}
	var slot entity.SlotOption
	if err := option.Data.Decode(&slot); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode slot option", err)
	}
	return &slot, nil
}

func (o *Orchestrator) venueFromOption(confirmation *entity.IntermediateConfirmation, optionID string, approved bool) (*entity.VenueOption, *errors.AppError) {
	if !approved || optionID == "" {
		return nil, nil
	}
	option, err := confirmation.FindOption(optionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode options", err)
	}
	if option == nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "Unknown option", nil)
	}
	var venue entity.VenueOption
	if err := option.Data.Decode(&venue); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode venue option", err)
	}
	return &venue, nil
}

// rollbackCalendarEntries best-effort deletes written entries before a
// re-entry. Failures are logged; the entries are also cleared from the
// workflow so the booking phase writes fresh ones.
func (o *Orchestrator) rollbackCalendarEntries(ctx context.Context, snap *Snapshot) {
	if len(snap.Workflow.EntriesWritten) == 0 {
		return
	}
	emailByRef := make(map[string]string, len(snap.Participants))
	for _, p := range snap.Participants {
		if p.CalendarEmail != nil {
			emailByRef[p.UserRef] = *p.CalendarEmail
		}
	}
	for userRef, providerEventID := range snap.Workflow.EntriesWritten {
		email, ok := emailByRef[userRef]
		if !ok {
			continue
		}
		if err := o.calendar.DeleteEntry(ctx, email, providerEventID); err != nil {
			logger.Warn("Orchestrator:RollbackEntry", "user_ref", userRef, "error", err)
		}
	}
	snap.Workflow.EntriesWritten = nil
	snap.Workflow.FailedEntries = nil
	snap.Workflow.RoomResourceID = ""
	snap.Workflow.RoomUnassigned = false
}

// HandleCancel cancels the event on the organizer's behalf.
func (o *Orchestrator) HandleCancel(ctx context.Context, eventID uuid.UUID, requestedBy, reason string) *errors.AppError {
	session, err := o.sessions.AcquireLease(ctx, eventID, o.leaseHolder, o.cfg.LeaseTTL)
	if err != nil {
		if err == repository.ErrLeaseHeld {
			return errors.NewAppError(errors.ErrConcurrencyConflict, "Event is being processed, try again", err)
		}
		if err == sql.ErrNoRows {
			return errors.NewAppError(errors.ErrNotFound, "Event not found", err)
		}
		return errors.NewAppError(errors.ErrInternalServer, "Failed to load session", err)
	}
	defer func() {
		if rerr := o.sessions.ReleaseLease(context.WithoutCancel(ctx), eventID, o.leaseHolder); rerr != nil {
			logger.Warn("Orchestrator:HandleCancel:ReleaseLease", "event_id", eventID, "error", rerr)
		}
	}()

	snap, err := o.loadSnapshot(ctx, session)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to load event state", err)
	}

	if snap.Event.OrganizerID != requestedBy {
		return errors.NewAppError(errors.ErrForbidden, "Only the organizer may cancel", nil)
	}
	if !session.CurrentPhase.CanTransitionTo(entity.PhaseCancelled) {
		return errors.NewAppError(errors.ErrInvalidInput,
			fmt.Sprintf("Event cannot be cancelled in phase %s", session.CurrentPhase), nil)
	}

	open, err := o.gate.GetOpen(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to check confirmations", err)
	}
	if open != nil {
		if !o.cfg.AllowCancelDuringOpen {
			return errors.NewAppError(errors.ErrInvalidInput, "Resolve the open confirmation first", nil)
		}
		if err := o.gate.CancelOpen(ctx, eventID, snap.Now); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "Failed to cancel confirmation", err)
		}
	}

	o.rollbackCalendarEntries(ctx, snap)

	prev := session.CurrentPhase
	session.PreviousPhase = &prev
	session.CurrentPhase = entity.PhaseCancelled
	session.DeadlineAt = nil
	snap.Event.Status = eventEntity.EventStatusCancelled
	if err := session.SetWorkflow(*snap.Workflow); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to encode workflow", err)
	}

	err = o.db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := o.events.UpdateEventTx(ctx, tx, snap.Event); err != nil {
			return err
		}
		entries, err := o.events.GetCalendarEntriesByEventID(ctx, eventID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.CancelledAt == nil {
				if err := o.events.CancelCalendarEntryTx(ctx, tx, e.ID, snap.Now); err != nil {
					return err
				}
			}
		}
		return o.sessions.UpdateVersionedTx(ctx, tx, session)
	})
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to cancel event", err)
	}

	note := fmt.Sprintf("%q was cancelled.", snap.Event.GenerateTitle())
	if reason != "" {
		note += " Reason: " + reason
	}
	o.notifyThread(ctx, snap, note)
	return nil
}

// HandleTimer reacts to a deadline wakeup: an overdue confirmation is
// expired and resolved with its timeout policy; otherwise the session is
// re-triggered so the suspended phase can re-evaluate.
func (o *Orchestrator) HandleTimer(ctx context.Context, payload tasks.TimerPayload) error {
	now := o.clock.Now()

	open, err := o.gate.GetOpen(ctx, payload.EventID)
	if err != nil {
		return err
	}
	if open != nil && open.ExpiresAt != nil && !now.Before(*open.ExpiresAt) {
		return o.expireConfirmation(ctx, open)
	}

	return o.Process(ctx, tasks.TriggerPayload{EventID: payload.EventID, Reason: tasks.ReasonDeadline})
}

// expireConfirmation applies the timeout policy: schedule, venue and final
// checkpoints proceed with the recommended option; a manual checkpoint that
// nobody answered fails the event.
func (o *Orchestrator) expireConfirmation(ctx context.Context, confirmation *entity.IntermediateConfirmation) error {
	session, err := o.sessions.AcquireLease(ctx, confirmation.EventID, o.leaseHolder, o.cfg.LeaseTTL)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	defer func() {
		if rerr := o.sessions.ReleaseLease(context.WithoutCancel(ctx), confirmation.EventID, o.leaseHolder); rerr != nil {
			logger.Warn("Orchestrator:expireConfirmation:ReleaseLease", "event_id", confirmation.EventID, "error", rerr)
		}
	}()

	expired, appErr := o.gate.Expire(ctx, confirmation.ID, o.clock.Now())
	if appErr != nil {
		return appErr
	}
	if expired == nil {
		// somebody decided in the meantime
		return nil
	}

	logger.Info("Orchestrator:ExpireConfirmation",
		"event_id", confirmation.EventID, "confirmation_id", confirmation.ID, "kind", confirmation.Kind)

	if confirmation.Kind == entity.ConfirmationKindManual {
		if appErr := o.advanceAfterResolution(ctx, session, confirmation, false, "cancel", "confirmation expired"); appErr != nil {
			return appErr
		}
		return nil
	}

	recommended := ""
	options, err := confirmation.OptionList()
	if err != nil {
		return err
	}
	for _, opt := range options {
		if opt.Recommended {
			recommended = opt.OptionID
			break
		}
	}
	if recommended == "" && len(options) > 0 {
		recommended = options[0].OptionID
	}

	if appErr := o.advanceAfterResolution(ctx, session, confirmation, true, recommended, "auto-selected on timeout"); appErr != nil {
		return appErr
	}
	return nil
}

// Sweep is the periodic safety net behind the timer tasks: it wakes every
// session whose deadline passed, covering timers lost to crashes or queue
// loss.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	now := o.clock.Now()

	sessions, err := o.sessions.DueDeadlines(ctx, now, 100)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := o.enqueuer.EnqueueTimer(ctx, tasks.TimerPayload{
			EventID: s.EventID, Reason: tasks.ReasonDeadline, DueAt: now,
		}); err != nil {
			logger.Error("Orchestrator:Sweep:EnqueueDeadline", err, "event_id", s.EventID)
		}
	}
	if len(sessions) > 0 {
		logger.Info("Orchestrator:Sweep", "woken", len(sessions))
	}

	confirmations, err := o.gate.DueReminders(ctx, now)
	if err != nil {
		return err
	}
	for i := range confirmations {
		c := &confirmations[i]
		event, err := o.events.GetEventByID(ctx, c.EventID)
		if err != nil || event == nil {
			continue
		}
		text := fmt.Sprintf("Still waiting on your decision for %q.", event.GenerateTitle())
		if err := o.messenger.NotifyOrganizer(ctx, event.OrganizerID, text); err != nil {
			logger.Warn("Orchestrator:Sweep:Remind", "confirmation_id", c.ID, "error", err)
			continue
		}
		if err := o.gate.MarkReminded(ctx, c.ID); err != nil {
			logger.Error("Orchestrator:Sweep:MarkReminded", err, "confirmation_id", c.ID)
		}
	}
	return nil
}

func (o *Orchestrator) notifyThread(ctx context.Context, snap *Snapshot, note string) {
	if note == "" {
		return
	}
	threadTS := ""
	if snap.Event.ThreadTS != nil {
		threadTS = *snap.Event.ThreadTS
	}
	if _, err := o.messenger.PostThreadUpdate(ctx, snap.Event.ChannelID, threadTS, note); err != nil {
		logger.Warn("Orchestrator:notifyThread", "event_id", snap.Event.ID, "error", err)
	}
}

func (o *Orchestrator) notifyOrganizer(ctx context.Context, snap *Snapshot, text string) {
	if err := o.messenger.NotifyOrganizer(ctx, snap.Event.OrganizerID, text); err != nil {
		logger.Warn("Orchestrator:notifyOrganizer", "event_id", snap.Event.ID, "error", err)
	}
}
