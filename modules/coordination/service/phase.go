package service

import (
	"context"
	"time"

	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
)

// Outcome is what a phase worker reports back to the orchestrator.
type Outcome string

const (
	// OutcomeAdvance moves the session to the next phase.
	OutcomeAdvance Outcome = "advance"
	// OutcomeAwaitConfirmation opens a human checkpoint and parks the
	// session in the current phase until the organizer decides.
	OutcomeAwaitConfirmation Outcome = "await_confirmation"
	// OutcomeSuspend parks the session waiting on participant replies,
	// with a deadline wakeup.
	OutcomeSuspend Outcome = "suspend"
	// OutcomeRetry requests another attempt of the same phase after a
	// transient failure. Attempts count against the phase retry budget.
	OutcomeRetry Outcome = "retry"
	// OutcomeRerun re-triggers the same phase immediately without touching
	// the retry budget (a rejected checkpoint re-enters its phase).
	OutcomeRerun Outcome = "rerun"
	// OutcomeFallback degrades to a manual resolution but keeps the
	// workflow alive.
	OutcomeFallback Outcome = "fallback"
	// OutcomeFail moves the session to the error phase.
	OutcomeFail Outcome = "fail"
)

// ConfirmationDraft is the checkpoint a worker asks the gate to open.
type ConfirmationDraft struct {
	Kind    entity.ConfirmationKind
	Options []entity.ConfirmationOption
}

// PhaseResult carries a worker's outcome plus everything the orchestrator
// needs to apply it: state mutations are already on the snapshot, side
// effects to persist ride along here.
type PhaseResult struct {
	Outcome Outcome

	// NextPhase overrides the default forward transition (re-entry after a
	// rejected confirmation). Empty means Phase.Next().
	NextPhase entity.Phase

	// Confirmation is set with OutcomeAwaitConfirmation.
	Confirmation *ConfirmationDraft

	// Deadline is set with OutcomeSuspend and bounds the wait.
	Deadline *time.Time

	// ThreadNote, when non-empty, is posted to the event thread.
	ThreadNote string

	// Reason describes a retry, fallback or failure for the error log.
	Reason string

	// ParticipantsDirty and EventDirty tell the orchestrator which
	// aggregates beside the session must be written back.
	ParticipantsDirty bool
	EventDirty        bool

	// Venue, when set, is upserted as the event's selected venue.
	Venue *eventEntity.Venue

	// CalendarEntries, when set, are inserted alongside the session write.
	CalendarEntries []eventEntity.CalendarEntry
}

// Snapshot is the working copy of one event's state handed to a worker.
// Workers mutate it freely; the orchestrator persists it transactionally.
type Snapshot struct {
	Event        *eventEntity.Event
	Participants []eventEntity.Participant
	Session      *entity.CoordinationSession
	Workflow     *entity.WorkflowData
	Now          time.Time
}

// ConfirmedParticipants returns the invitees who accepted.
func (s *Snapshot) ConfirmedParticipants() []eventEntity.Participant {
	confirmed := make([]eventEntity.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Status == eventEntity.ParticipantStatusConfirmed {
			confirmed = append(confirmed, p)
		}
	}
	return confirmed
}

// CountByStatus tallies participant reply states.
func (s *Snapshot) CountByStatus() (confirmed, declined, pending int) {
	for _, p := range s.Participants {
		switch p.Status {
		case eventEntity.ParticipantStatusConfirmed:
			confirmed++
		case eventEntity.ParticipantStatusDeclined, eventEntity.ParticipantStatusNoResponse:
			declined++
		default:
			pending++
		}
	}
	return
}

// PhaseWorker executes the work of exactly one phase. Workers must be
// idempotent: a crash after external side effects re-runs the worker, so
// progress markers live in the workflow data.
type PhaseWorker interface {
	Phase() entity.Phase
	Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error)
}
