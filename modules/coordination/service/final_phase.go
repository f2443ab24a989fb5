package service

import (
	"context"
	"fmt"

	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
	integrationDto "event-coordinator/modules/integration/dto"
	integration "event-coordinator/modules/integration/service"
)

// Options offered on the final checkpoint. Rejection routes back into the
// phase the organizer wants redone.
const (
	FinalOptionApprove     = "approve"
	FinalOptionReschedule  = "reschedule"
	FinalOptionChangeVenue = "change_venue"
)

// FinalWorker opens the last human checkpoint before anything is announced.
// This checkpoint is unconditional; the per-phase confirm flags only control
// the intermediate ones.
type FinalWorker struct{}

func NewFinalWorker() *FinalWorker { return &FinalWorker{} }

func (w *FinalWorker) Phase() entity.Phase { return entity.PhaseFinalConfirmation }

func (w *FinalWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	slot := snap.Workflow.SelectedSlot
	if slot == nil {
		return &PhaseResult{Outcome: OutcomeFail, Reason: "final confirmation reached without a selected slot"}, nil
	}

	summary := fmt.Sprintf("%s on %s - %s",
		snap.Event.GenerateTitle(),
		slot.Start.Format("Mon Jan 2 15:04"),
		slot.End.Format("15:04"))
	if v := snap.Workflow.SelectedVenue; v != nil {
		summary += fmt.Sprintf(" at %s", v.Name)
	}

	options := []entity.ConfirmationOption{
		{OptionID: FinalOptionApprove, Title: "Approve and announce", Description: summary, Recommended: true},
		{OptionID: FinalOptionReschedule, Title: "Pick a different time"},
	}
	if snap.Event.Kind == eventEntity.EventKindDining {
		options = append(options, entity.ConfirmationOption{
			OptionID: FinalOptionChangeVenue, Title: "Pick a different venue",
		})
	}

	return &PhaseResult{
		Outcome:      OutcomeAwaitConfirmation,
		Confirmation: &ConfirmationDraft{Kind: entity.ConfirmationKindFinal, Options: options},
	}, nil
}

// AnnounceWorker posts the confirmed plan to the channel and closes the
// workflow. The announced marker in workflow data keeps a crashed re-run
// from double-posting.
type AnnounceWorker struct {
	messenger integration.MessengerInterface
}

func NewAnnounceWorker(messenger integration.MessengerInterface) *AnnounceWorker {
	return &AnnounceWorker{messenger: messenger}
}

func (w *AnnounceWorker) Phase() entity.Phase { return entity.PhaseAnnounced }

func (w *AnnounceWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	if snap.Workflow.Announced {
		return &PhaseResult{Outcome: OutcomeAdvance}, nil
	}

	slot := snap.Workflow.SelectedSlot
	if slot == nil {
		return &PhaseResult{Outcome: OutcomeFail, Reason: "announcement reached without a selected slot"}, nil
	}

	announcement := integrationDto.Announcement{
		ChannelID: snap.Event.ChannelID,
		Title:     snap.Event.GenerateTitle(),
		Start:     slot.Start,
		End:       slot.End,
	}
	if snap.Event.ThreadTS != nil {
		announcement.ThreadTS = *snap.Event.ThreadTS
	}
	if v := snap.Workflow.SelectedVenue; v != nil {
		announcement.VenueName = v.Name
		announcement.VenueAddress = v.Address
		announcement.MapURL = v.MapURL
	}
	for _, p := range snap.ConfirmedParticipants() {
		announcement.Attendees = append(announcement.Attendees, p.UserRef)
	}

	ts, err := w.messenger.Announce(ctx, announcement)
	if err != nil {
		logger.Error("AnnounceWorker:Announce", err, "event_id", snap.Event.ID)
		return &PhaseResult{Outcome: OutcomeRetry, Reason: "announcement failed: " + err.Error()}, nil
	}

	snap.Workflow.Announced = true
	if snap.Event.ThreadTS == nil && ts != "" {
		snap.Event.ThreadTS = &ts
	}
	return &PhaseResult{Outcome: OutcomeAdvance, EventDirty: true}, nil
}
