package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies the gathering being organized.
type EventKind string

const (
	EventKindDining  EventKind = "dining"
	EventKindStudy   EventKind = "study"
	EventKindMeeting EventKind = "meeting"
)

// DefaultDurationMinutes returns the kind's default event length.
func (k EventKind) DefaultDurationMinutes() int {
	switch k {
	case EventKindDining:
		return 90
	case EventKindStudy:
		return 120
	default:
		return 60
	}
}

// RequiresMeetingRoom reports whether a room resource should be reserved
// alongside the calendar entries.
func (k EventKind) RequiresMeetingRoom() bool {
	return k == EventKindStudy || k == EventKindMeeting
}

// EventStatus mirrors the coordination phase the event is in.
type EventStatus string

const (
	EventStatusCreated                EventStatus = "created"
	EventStatusCollectingParticipants EventStatus = "collecting_participants"
	EventStatusScheduling             EventStatus = "scheduling"
	EventStatusVenueSearch            EventStatus = "venue_search"
	EventStatusCalendarBooking        EventStatus = "calendar_booking"
	EventStatusFinalConfirmation      EventStatus = "final_confirmation"
	EventStatusAnnounced              EventStatus = "announced"
	EventStatusCompleted              EventStatus = "completed"
	EventStatusCancelled              EventStatus = "cancelled"
	EventStatusError                  EventStatus = "error"
)

// statusTransitions is the closed set of allowed status moves. Re-entry into
// scheduling/venue_search from final_confirmation carries organizer feedback.
var statusTransitions = map[EventStatus][]EventStatus{
	EventStatusCreated:                {EventStatusCollectingParticipants, EventStatusCancelled, EventStatusError},
	EventStatusCollectingParticipants: {EventStatusScheduling, EventStatusCancelled, EventStatusError},
	EventStatusScheduling:             {EventStatusVenueSearch, EventStatusCancelled, EventStatusError},
	EventStatusVenueSearch:            {EventStatusCalendarBooking, EventStatusScheduling, EventStatusCancelled, EventStatusError},
	EventStatusCalendarBooking:        {EventStatusFinalConfirmation, EventStatusCancelled, EventStatusError},
	EventStatusFinalConfirmation:      {EventStatusAnnounced, EventStatusScheduling, EventStatusVenueSearch, EventStatusCancelled, EventStatusError},
	EventStatusAnnounced:              {EventStatusCompleted},
	EventStatusCompleted:              {},
	EventStatusCancelled:              {},
	EventStatusError:                  {},
}

// CanTransitionTo reports whether the status machine allows from -> to.
func (s EventStatus) CanTransitionTo(to EventStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s EventStatus) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

// Cancellable reports whether organizer cancellation is accepted in s.
func (s EventStatus) Cancellable() bool {
	return s.CanTransitionTo(EventStatusCancelled)
}

// CoordinationPreferences control which phases pause for organizer approval.
type CoordinationPreferences struct {
	ConfirmSchedule  bool   `json:"confirm_schedule"`
	ConfirmVenue     bool   `json:"confirm_venue"`
	AutoVenueBooking bool   `json:"auto_venue_booking"`
	MaxParticipants  int    `json:"max_participants,omitempty"`
	Timezone         string `json:"timezone"`
}

// Event is one planned gathering, coordinated end to end by the orchestrator.
type Event struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	ChannelID       string      `db:"channel_id" json:"channel_id"`
	OrganizerID     string      `db:"organizer_id" json:"organizer_id"`
	Kind            EventKind   `db:"kind" json:"kind"`
	Purpose         string      `db:"purpose" json:"purpose"`
	Title           *string     `db:"title" json:"title,omitempty"`
	Status          EventStatus `db:"status" json:"status"`
	ScheduledStart  *time.Time  `db:"scheduled_start" json:"scheduled_start,omitempty"`
	DurationMinutes int         `db:"duration_minutes" json:"duration_minutes"`
	VenueID         *uuid.UUID  `db:"venue_id" json:"venue_id,omitempty"`
	ThreadTS        *string     `db:"thread_ts" json:"thread_ts,omitempty"`
	Preferences     JSONB       `db:"preferences" json:"preferences"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// GenerateTitle builds a display title when the organizer gave none.
func (e *Event) GenerateTitle() string {
	if e.Title != nil && *e.Title != "" {
		return *e.Title
	}
	label := map[EventKind]string{
		EventKindDining:  "Team dinner",
		EventKindStudy:   "Study session",
		EventKindMeeting: "Meeting",
	}[e.Kind]
	if e.Purpose == "" {
		return label
	}
	return fmt.Sprintf("%s: %s", label, e.Purpose)
}
