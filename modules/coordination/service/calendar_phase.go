package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
	integrationDto "event-coordinator/modules/integration/dto"
	integration "event-coordinator/modules/integration/service"

	"github.com/google/uuid"
)

// CalendarWorker writes the scheduled slot into every confirmed
// participant's calendar and, for study and meeting events, reserves a room.
// Each participant's entry succeeds or fails independently; progress markers
// in the workflow make re-runs write only what is missing.
type CalendarWorker struct {
	calendar integration.CalendarClientInterface
}

func NewCalendarWorker(calendar integration.CalendarClientInterface) *CalendarWorker {
	return &CalendarWorker{calendar: calendar}
}

func (w *CalendarWorker) Phase() entity.Phase { return entity.PhaseCalendarBooking }

func (w *CalendarWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	slot := snap.Workflow.SelectedSlot
	if slot == nil {
		return &PhaseResult{Outcome: OutcomeFail, Reason: "calendar booking reached without a selected slot"}, nil
	}

	result := &PhaseResult{}

	if snap.Event.Kind.RequiresMeetingRoom() &&
		snap.Workflow.RoomResourceID == "" && !snap.Workflow.RoomUnassigned {
		capacity := len(snap.ConfirmedParticipants())
		resourceID, err := w.calendar.ReserveRoom(ctx, slot.Start, slot.End, capacity)
		switch {
		case err == nil:
			snap.Workflow.RoomResourceID = resourceID
		case errors.Is(err, integration.ErrNoRoomAvailable):
			// proceed without a room rather than stalling the event
			snap.Workflow.RoomUnassigned = true
		case errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, gateway.ErrExhausted):
			return &PhaseResult{Outcome: OutcomeRetry, Reason: "room reservation unavailable: " + err.Error()}, nil
		default:
			return nil, err
		}
	}

	location := w.location(snap)
	title := snap.Event.GenerateTitle()

	if snap.Workflow.EntriesWritten == nil {
		snap.Workflow.EntriesWritten = make(map[string]string)
	}
	snap.Workflow.FailedEntries = nil

	wroteRoom := false
	var failed []string
	for i := range snap.Participants {
		p := &snap.Participants[i]
		if p.Status != eventEntity.ParticipantStatusConfirmed {
			continue
		}
		if p.CalendarEmail == nil || *p.CalendarEmail == "" {
			continue
		}
		if _, done := snap.Workflow.EntriesWritten[p.UserRef]; done {
			continue
		}

		req := integrationDto.CalendarEntryRequest{
			CalendarEmail: *p.CalendarEmail,
			Title:         title,
			Description:   snap.Event.Purpose,
			Location:      location,
			Start:         slot.Start,
			End:           slot.End,
		}
		// the room resource rides on exactly one entry
		if snap.Workflow.RoomResourceID != "" && !wroteRoom {
			req.ResourceID = snap.Workflow.RoomResourceID
		}

		providerEventID, err := w.calendar.CreateEntry(ctx, req)
		if err != nil {
			logger.Warn("CalendarWorker:EntryFailed", "user_ref", p.UserRef, "error", err)
			failed = append(failed, p.UserRef)
			continue
		}
		if req.ResourceID != "" {
			wroteRoom = true
		}

		snap.Workflow.EntriesWritten[p.UserRef] = providerEventID
		entry := eventEntity.CalendarEntry{
			ID:              uuid.New(),
			EventID:         snap.Event.ID,
			ParticipantID:   &p.ID,
			CalendarEmail:   *p.CalendarEmail,
			StartTime:       slot.Start,
			EndTime:         slot.End,
			ProviderEventID: &providerEventID,
			Status:          eventEntity.EntryStatusSuccess,
		}
		if location != "" {
			loc := location
			entry.Location = &loc
		}
		if req.ResourceID != "" {
			rid := req.ResourceID
			entry.ResourceID = &rid
		}
		result.CalendarEntries = append(result.CalendarEntries, entry)
	}

	snap.Workflow.FailedEntries = failed

	// Written entries persist through the workflow markers, so a retry only
	// re-attempts the failed ones. The phase retry budget bounds this.
	if len(failed) > 0 {
		result.Outcome = OutcomeRetry
		result.Reason = fmt.Sprintf("calendar writes failed for: %s", strings.Join(failed, ", "))
		return result, nil
	}

	result.Outcome = OutcomeAdvance
	if snap.Workflow.RoomUnassigned {
		if result.ThreadNote != "" {
			result.ThreadNote += " "
		}
		result.ThreadNote += "No meeting room was available; please arrange one."
	}
	return result, nil
}

func (w *CalendarWorker) location(snap *Snapshot) string {
	if v := snap.Workflow.SelectedVenue; v != nil {
		return v.Name + ", " + v.Address
	}
	if snap.Workflow.RoomResourceID != "" {
		return snap.Workflow.RoomResourceID
	}
	return ""
}
