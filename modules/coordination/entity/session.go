package entity

import (
	"time"

	eventEntity "event-coordinator/modules/event/entity"

	"github.com/google/uuid"
)

// Phase names one stage of the coordination workflow.
type Phase string

const (
	PhaseCreated                Phase = "created"
	PhaseCollectingParticipants Phase = "collecting_participants"
	PhaseScheduling             Phase = "scheduling"
	PhaseVenueSearch            Phase = "venue_search"
	PhaseCalendarBooking        Phase = "calendar_booking"
	PhaseFinalConfirmation      Phase = "final_confirmation"
	PhaseAnnounced              Phase = "announced"
	PhaseCompleted              Phase = "completed"
	PhaseCancelled              Phase = "cancelled"
	PhaseError                  Phase = "error"
)

// Next returns the forward transition target for a phase, or "" for
// terminal phases.
func (p Phase) Next() Phase {
	switch p {
	case PhaseCreated:
		return PhaseCollectingParticipants
	case PhaseCollectingParticipants:
		return PhaseScheduling
	case PhaseScheduling:
		return PhaseVenueSearch
	case PhaseVenueSearch:
		return PhaseCalendarBooking
	case PhaseCalendarBooking:
		return PhaseFinalConfirmation
	case PhaseFinalConfirmation:
		return PhaseAnnounced
	case PhaseAnnounced:
		return PhaseCompleted
	}
	return ""
}

// IsTerminal reports whether the workflow is finished in this phase.
// Announced still performs one bookkeeping move to completed.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseError
}

// CanTransitionTo validates a phase move. Forward moves follow Next;
// final_confirmation may re-enter scheduling or venue_search on organizer
// feedback; cancellation is allowed from created through final_confirmation;
// error is reachable from any non-terminal phase.
func (p Phase) CanTransitionTo(to Phase) bool {
	if p.IsTerminal() {
		return false
	}
	if to == PhaseError {
		return p != PhaseAnnounced
	}
	if to == PhaseCancelled {
		switch p {
		case PhaseCreated, PhaseCollectingParticipants, PhaseScheduling,
			PhaseVenueSearch, PhaseCalendarBooking, PhaseFinalConfirmation:
			return true
		}
		return false
	}
	if p == PhaseFinalConfirmation && (to == PhaseScheduling || to == PhaseVenueSearch) {
		return true
	}
	return p.Next() == to
}

// EventStatus maps the phase onto the event's visible status.
func (p Phase) EventStatus() eventEntity.EventStatus {
	return eventEntity.EventStatus(p)
}

// ErrorEntry is one recoverable failure recorded on the session.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Phase   Phase     `json:"phase"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// SlotOption is one candidate time slot carried in workflow data and in
// confirmation options.
type SlotOption struct {
	OptionID       string    `json:"option_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	AvailableCount int       `json:"available_count"`
	TotalCount     int       `json:"total_count"`
	InWindow       bool      `json:"in_window"`
}

// VenueOption is one candidate venue carried in workflow data and in
// confirmation options.
type VenueOption struct {
	OptionID      string                `json:"option_id"`
	Name          string                `json:"name"`
	Address       string                `json:"address"`
	Type          eventEntity.VenueType `json:"type"`
	Capacity      int                   `json:"capacity"`
	CostPerPerson int                   `json:"cost_per_person,omitempty"`
	Rating        float64               `json:"rating,omitempty"`
	Provider      string                `json:"provider"`
	ProviderRef   string                `json:"provider_ref,omitempty"`
	MapURL        string                `json:"map_url,omitempty"`
	Score         float64               `json:"score"`
}

// ManualResolution carries the organizer-facing payload of a fallback.
type ManualResolution struct {
	Phase        Phase  `json:"phase"`
	Reason       string `json:"reason"`
	Instructions string `json:"instructions"`
}

// WorkflowData is the versioned phase-specific working state persisted with
// the session. Everything needed to resume after a restart lives here.
type WorkflowData struct {
	SchemaVersion int `json:"schema_version"`

	// collecting_participants
	Availability map[string][]eventEntity.TimeWindow `json:"availability,omitempty"`
	QuorumWaived bool                                 `json:"quorum_waived,omitempty"`

	// scheduling
	CandidateSlots []SlotOption `json:"candidate_slots,omitempty"`
	SelectedSlot   *SlotOption  `json:"selected_slot,omitempty"`

	// venue_search
	CandidateVenues []VenueOption `json:"candidate_venues,omitempty"`
	SelectedVenue   *VenueOption  `json:"selected_venue,omitempty"`

	// calendar_booking: participant user_ref -> provider event id
	EntriesWritten map[string]string `json:"entries_written,omitempty"`
	FailedEntries  []string          `json:"failed_entries,omitempty"`
	RoomResourceID string            `json:"room_resource_id,omitempty"`
	RoomUnassigned bool              `json:"room_unassigned,omitempty"`

	// confirmation bookkeeping
	RejectedOptionIDs []string          `json:"rejected_option_ids,omitempty"`
	FeedbackNotes     []string          `json:"feedback_notes,omitempty"`
	Manual            *ManualResolution `json:"manual,omitempty"`
	Announced         bool              `json:"announced,omitempty"`
}

// CoordinationSession is the orchestration-state aggregate, one per event.
// Mutated exclusively by the orchestrator under a version-checked write.
type CoordinationSession struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	EventID         uuid.UUID          `db:"event_id" json:"event_id"`
	CurrentPhase    Phase              `db:"current_phase" json:"current_phase"`
	PreviousPhase   *Phase             `db:"previous_phase" json:"previous_phase,omitempty"`
	Version         int64              `db:"version" json:"version"`
	LeaseHolder     *string            `db:"lease_holder" json:"lease_holder,omitempty"`
	LeaseExpiresAt  *time.Time         `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	ConfirmSchedule bool               `db:"confirm_schedule" json:"confirm_schedule"`
	ConfirmVenue    bool               `db:"confirm_venue" json:"confirm_venue"`
	WorkflowData    eventEntity.JSONB  `db:"workflow_data" json:"workflow_data"`
	ErrorLog        eventEntity.JSONB  `db:"error_log" json:"error_log"`
	DeadlineAt      *time.Time         `db:"deadline_at" json:"deadline_at,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// Workflow decodes the workflow data payload.
func (s *CoordinationSession) Workflow() (WorkflowData, error) {
	wd := WorkflowData{SchemaVersion: 1}
	if err := s.WorkflowData.Decode(&wd); err != nil {
		return WorkflowData{}, err
	}
	return wd, nil
}

// SetWorkflow encodes wd back onto the session.
func (s *CoordinationSession) SetWorkflow(wd WorkflowData) error {
	if wd.SchemaVersion == 0 {
		wd.SchemaVersion = 1
	}
	payload, err := eventEntity.MarshalJSONB(wd)
	if err != nil {
		return err
	}
	s.WorkflowData = payload
	return nil
}

// Errors decodes the error log.
func (s *CoordinationSession) Errors() ([]ErrorEntry, error) {
	var entries []ErrorEntry
	if err := s.ErrorLog.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendError records a recoverable failure on the session.
func (s *CoordinationSession) AppendError(entry ErrorEntry) error {
	entries, err := s.Errors()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	payload, err := eventEntity.MarshalJSONB(entries)
	if err != nil {
		return err
	}
	s.ErrorLog = payload
	return nil
}

// PhaseErrorCount counts recorded failures for one phase.
func (s *CoordinationSession) PhaseErrorCount(phase Phase) int {
	entries, err := s.Errors()
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Phase == phase {
			n++
		}
	}
	return n
}
