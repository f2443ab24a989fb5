package service

import (
	"context"
	"fmt"

	"event-coordinator/core/config"
	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
)

// SchedulingWorker picks the event time from the confirmed participants'
// availability.
type SchedulingWorker struct {
	cfg    config.CoordinationConfig
	finder *SlotFinder
}

func NewSchedulingWorker(cfg config.CoordinationConfig) *SchedulingWorker {
	return &SchedulingWorker{cfg: cfg, finder: NewSlotFinder(cfg.SearchHorizonDays)}
}

func (w *SchedulingWorker) Phase() entity.Phase { return entity.PhaseScheduling }

func (w *SchedulingWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	confirmed := snap.ConfirmedParticipants()
	if len(confirmed) < w.cfg.Quorum && !snap.Workflow.QuorumWaived {
		return &PhaseResult{
			Outcome: OutcomeFail,
			Reason:  fmt.Sprintf("scheduling with %d confirmed participants, need %d", len(confirmed), w.cfg.Quorum),
		}, nil
	}

	availability := make([]participantAvailability, 0, len(confirmed))
	for _, p := range confirmed {
		windows, err := p.AvailabilityWindows()
		if err != nil {
			logger.Error("SchedulingWorker:Availability", err, "user_ref", p.UserRef)
			return nil, err
		}
		availability = append(availability, participantAvailability{UserRef: p.UserRef, Windows: windows})
	}

	excluded := make(map[string]bool, len(snap.Workflow.RejectedOptionIDs))
	for _, id := range snap.Workflow.RejectedOptionIDs {
		excluded[id] = true
	}

	candidates := w.finder.FindSlots(snap.Now, snap.Event.Kind, snap.Event.DurationMinutes, availability, excluded)
	if len(candidates) == 0 {
		snap.Workflow.Manual = &entity.ManualResolution{
			Phase:        entity.PhaseScheduling,
			Reason:       "no common slot found",
			Instructions: "Pick a time manually and resubmit the schedule decision.",
		}
		return &PhaseResult{
			Outcome: OutcomeFallback,
			Reason:  "no slot satisfies all confirmed participants",
		}, nil
	}

	if snap.Session.ConfirmSchedule {
		snap.Workflow.CandidateSlots = candidates
		options := make([]entity.ConfirmationOption, 0, len(candidates))
		for i, slot := range candidates {
			payload, err := eventEntity.MarshalJSONB(slot)
			if err != nil {
				return nil, err
			}
			options = append(options, entity.ConfirmationOption{
				OptionID: slot.OptionID,
				Title:    slot.Start.Format("Mon Jan 2 15:04") + " - " + slot.End.Format("15:04"),
				Description: fmt.Sprintf("%d of %d participants available",
					slot.AvailableCount, slot.TotalCount),
				Recommended: i == 0,
				Data:        payload,
			})
		}
		return &PhaseResult{
			Outcome:      OutcomeAwaitConfirmation,
			Confirmation: &ConfirmationDraft{Kind: entity.ConfirmationKindSchedule, Options: options},
		}, nil
	}

	// Auto mode keeps only the winning slot; nobody gets to pick from a list.
	snap.Workflow.CandidateSlots = candidates[:1]
	w.selectSlot(snap, candidates[0])
	return &PhaseResult{
		Outcome:    OutcomeAdvance,
		EventDirty: true,
		ThreadNote: fmt.Sprintf("Scheduled for %s.", candidates[0].Start.Format("Mon Jan 2 15:04")),
	}, nil
}

// selectSlot commits a slot onto the workflow and the event.
func (w *SchedulingWorker) selectSlot(snap *Snapshot, slot entity.SlotOption) {
	selected := slot
	snap.Workflow.SelectedSlot = &selected
	start := slot.Start
	snap.Event.ScheduledStart = &start
}

// ApplyScheduleDecision resolves a schedule confirmation onto the snapshot.
// Used by the orchestrator when the organizer picks (or rejects) a slot.
func ApplyScheduleDecision(snap *Snapshot, approved bool, slot *entity.SlotOption) {
	if !approved || slot == nil {
		if snap.Workflow.SelectedSlot != nil {
			snap.Workflow.RejectedOptionIDs = append(snap.Workflow.RejectedOptionIDs, snap.Workflow.SelectedSlot.OptionID)
		}
		for _, c := range snap.Workflow.CandidateSlots {
			snap.Workflow.RejectedOptionIDs = append(snap.Workflow.RejectedOptionIDs, c.OptionID)
		}
		snap.Workflow.CandidateSlots = nil
		snap.Workflow.SelectedSlot = nil
		snap.Event.ScheduledStart = nil
		return
	}
	selected := *slot
	snap.Workflow.SelectedSlot = &selected
	start := slot.Start
	snap.Event.ScheduledStart = &start
}
