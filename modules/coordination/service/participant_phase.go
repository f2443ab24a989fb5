package service

import (
	"context"
	"fmt"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
	integrationDto "event-coordinator/modules/integration/dto"
	integration "event-coordinator/modules/integration/service"
)

// KickoffWorker runs the created phase: it fixes the event title and moves
// straight into participant collection.
type KickoffWorker struct{}

func NewKickoffWorker() *KickoffWorker { return &KickoffWorker{} }

func (w *KickoffWorker) Phase() entity.Phase { return entity.PhaseCreated }

func (w *KickoffWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	if snap.Event.Title == nil || *snap.Event.Title == "" {
		title := snap.Event.GenerateTitle()
		snap.Event.Title = &title
	}
	return &PhaseResult{
		Outcome:    OutcomeAdvance,
		EventDirty: true,
		ThreadNote: fmt.Sprintf("Coordinating %q with %d invitees.", *snap.Event.Title, len(snap.Participants)),
	}, nil
}

// ParticipantWorker runs collecting_participants: it prompts pending
// invitees, reminds the slow ones, and decides when enough replies are in.
type ParticipantWorker struct {
	cfg       config.CoordinationConfig
	messenger integration.MessengerInterface
}

func NewParticipantWorker(cfg config.CoordinationConfig, messenger integration.MessengerInterface) *ParticipantWorker {
	return &ParticipantWorker{cfg: cfg, messenger: messenger}
}

func (w *ParticipantWorker) Phase() entity.Phase { return entity.PhaseCollectingParticipants }

func (w *ParticipantWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	deadline := snap.Session.DeadlineAt
	if deadline == nil {
		d := snap.Now.Add(w.cfg.ParticipantDeadline)
		deadline = &d
	}

	result := &PhaseResult{}

	// Prompt invitees not yet contacted. LastContactedAt is the idempotency
	// marker; a re-run after a crash only prompts the remainder.
	for i := range snap.Participants {
		p := &snap.Participants[i]
		if p.Status.Resolved() || p.LastContactedAt != nil {
			continue
		}
		prompt := w.buildPrompt(snap, p, *deadline)
		if err := w.messenger.SendParticipantPrompt(ctx, prompt); err != nil {
			logger.Error("ParticipantWorker:Prompt", err, "user_ref", p.UserRef)
			return &PhaseResult{Outcome: OutcomeRetry, Reason: "participant prompt failed: " + err.Error()}, nil
		}
		now := snap.Now
		p.LastContactedAt = &now
		result.ParticipantsDirty = true
	}

	// Remind pending invitees at the configured cadence.
	for i := range snap.Participants {
		p := &snap.Participants[i]
		if p.Status.Resolved() || p.LastContactedAt == nil {
			continue
		}
		if p.RemindersSent >= w.cfg.MaxReminders {
			continue
		}
		last := *p.LastContactedAt
		if p.LastRemindedAt != nil {
			last = *p.LastRemindedAt
		}
		if snap.Now.Sub(last) < w.cfg.ReminderInterval {
			continue
		}
		prompt := w.buildPrompt(snap, p, *deadline)
		prompt.ReplyHint = "Reminder: your reply is still needed."
		if err := w.messenger.SendParticipantPrompt(ctx, prompt); err != nil {
			// reminders are best effort
			logger.Warn("ParticipantWorker:Remind", "user_ref", p.UserRef, "error", err)
			continue
		}
		now := snap.Now
		p.LastRemindedAt = &now
		p.RemindersSent++
		result.ParticipantsDirty = true
	}

	deadlinePassed := !snap.Now.Before(*deadline)
	if deadlinePassed {
		for i := range snap.Participants {
			p := &snap.Participants[i]
			if !p.Status.Resolved() {
				p.Status = eventEntity.ParticipantStatusNoResponse
				result.ParticipantsDirty = true
			}
		}
	}

	confirmed, _, pending := snap.CountByStatus()

	if pending == 0 || deadlinePassed {
		if confirmed < w.cfg.Quorum && !snap.Workflow.QuorumWaived {
			snap.Workflow.Manual = &entity.ManualResolution{
				Phase:        entity.PhaseCollectingParticipants,
				Reason:       fmt.Sprintf("insufficient participants: %d confirmed, need %d", confirmed, w.cfg.Quorum),
				Instructions: "Wait for more replies and retry, proceed with the confirmed group, or cancel.",
			}
			result.Outcome = OutcomeFallback
			result.Reason = fmt.Sprintf("quorum not met: %d confirmed, need %d", confirmed, w.cfg.Quorum)
			return result, nil
		}
		snap.Session.DeadlineAt = nil
		result.Outcome = OutcomeAdvance
		result.ThreadNote = fmt.Sprintf("%d of %d invitees are in. Finding a time.", confirmed, len(snap.Participants))
		return result, nil
	}

	// Everyone confirmed early counts too; otherwise wait out the deadline.
	result.Outcome = OutcomeSuspend
	result.Deadline = deadline
	return result, nil
}

func (w *ParticipantWorker) buildPrompt(snap *Snapshot, p *eventEntity.Participant, deadline time.Time) integrationDto.ParticipantPrompt {
	title := ""
	if snap.Event.Title != nil {
		title = *snap.Event.Title
	}
	windowStart := snap.Now.AddDate(0, 0, 1)
	return integrationDto.ParticipantPrompt{
		UserRef:     p.UserRef,
		EventTitle:  title,
		Purpose:     snap.Event.Purpose,
		Kind:        string(snap.Event.Kind),
		WindowStart: windowStart,
		WindowEnd:   windowStart.AddDate(0, 0, w.cfg.SearchHorizonDays),
		Deadline:    deadline,
	}
}
