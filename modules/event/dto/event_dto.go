package dto

import (
	"time"

	coordEntity "event-coordinator/modules/coordination/entity"
	"event-coordinator/modules/event/entity"
)

type CreateEventRequest struct {
	ChannelID       string   `json:"channel_id" validate:"required"`
	OrganizerID     string   `json:"organizer_id" validate:"required"`
	Kind            string   `json:"kind" validate:"required,oneof=dining study meeting"`
	Purpose         string   `json:"purpose" validate:"required"`
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Participants    []string `json:"participants" validate:"required,min=1"`
	ThreadTS        string   `json:"thread_ts"`

	ConfirmSchedule  *bool  `json:"confirm_schedule"`
	ConfirmVenue     *bool  `json:"confirm_venue"`
	AutoVenueBooking *bool  `json:"auto_venue_booking"`
	MaxParticipants  int    `json:"max_participants"`
	Timezone         string `json:"timezone"`
}

type CreateEventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Phase   string `json:"phase"`
}

// ParticipantReplyRequest carries one participant's answer to an
// availability prompt.
type ParticipantReplyRequest struct {
	UserRef       string          `json:"user_ref" validate:"required"`
	Attending     bool            `json:"attending"`
	Windows       []WindowPayload `json:"windows"`
	Dietary       string          `json:"dietary"`
	CalendarEmail string          `json:"calendar_email"`
}

type WindowPayload struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

// DecisionRequest resolves an open confirmation checkpoint.
type DecisionRequest struct {
	ConfirmationID   string `json:"confirmation_id" validate:"required"`
	DecidedBy        string `json:"decided_by" validate:"required"`
	Approved         bool   `json:"approved"`
	SelectedOptionID string `json:"selected_option_id"`
	Feedback         string `json:"feedback"`
}

type CancelEventRequest struct {
	RequestedBy string `json:"requested_by" validate:"required"`
	Reason      string `json:"reason"`
}

type EventResponse struct {
	ID              string     `json:"id"`
	ChannelID       string     `json:"channel_id"`
	OrganizerID     string     `json:"organizer_id"`
	Kind            string     `json:"kind"`
	Purpose         string     `json:"purpose"`
	Title           string     `json:"title,omitempty"`
	Status          string     `json:"status"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	ThreadTS        string     `json:"thread_ts,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ParticipantResponse struct {
	UserRef       string `json:"user_ref"`
	DisplayName   string `json:"display_name,omitempty"`
	Status        string `json:"status"`
	RemindersSent int    `json:"reminders_sent"`
}

type VenueResponse struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Type             string   `json:"type"`
	Capacity         int      `json:"capacity"`
	BookingStatus    string   `json:"booking_status"`
	BookingReference string   `json:"booking_reference,omitempty"`
	CostPerPerson    *int     `json:"cost_per_person,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	MapURL           string   `json:"map_url,omitempty"`
}

// EventSummaryResponse is the organizer-facing status view: the event, who
// replied, the venue if selected, and the coordination phase.
type EventSummaryResponse struct {
	Event        EventResponse         `json:"event"`
	Phase        string                `json:"phase"`
	Participants []ParticipantResponse `json:"participants"`
	Venue        *VenueResponse        `json:"venue,omitempty"`
	Confirmed    int                   `json:"confirmed"`
	Declined     int                   `json:"declined"`
	Pending      int                   `json:"pending"`
}

// SessionResponse exposes the coordination state behind an event for
// debugging and organizer status views.
type SessionResponse struct {
	Phase           string                   `json:"phase"`
	PreviousPhase   string                   `json:"previous_phase,omitempty"`
	Version         int64                    `json:"version"`
	ConfirmSchedule bool                     `json:"confirm_schedule"`
	ConfirmVenue    bool                     `json:"confirm_venue"`
	DeadlineAt      *time.Time               `json:"deadline_at,omitempty"`
	Errors          []coordEntity.ErrorEntry `json:"errors,omitempty"`
}

type ConfirmationResponse struct {
	ID               string                           `json:"id"`
	Kind             string                           `json:"kind"`
	Status           string                           `json:"status"`
	Options          []coordEntity.ConfirmationOption `json:"options"`
	SelectedOptionID string                           `json:"selected_option_id,omitempty"`
	Feedback         string                           `json:"feedback,omitempty"`
	RequestedAt      time.Time                        `json:"requested_at"`
	ExpiresAt        *time.Time                       `json:"expires_at,omitempty"`
}

func ToSessionResponse(s *coordEntity.CoordinationSession) (*SessionResponse, error) {
	errs, err := s.Errors()
	if err != nil {
		return nil, err
	}
	resp := &SessionResponse{
		Phase:           string(s.CurrentPhase),
		Version:         s.Version,
		ConfirmSchedule: s.ConfirmSchedule,
		ConfirmVenue:    s.ConfirmVenue,
		DeadlineAt:      s.DeadlineAt,
		Errors:          errs,
	}
	if s.PreviousPhase != nil {
		resp.PreviousPhase = string(*s.PreviousPhase)
	}
	return resp, nil
}

func ToConfirmationResponse(c *coordEntity.IntermediateConfirmation) (*ConfirmationResponse, error) {
	options, err := c.OptionList()
	if err != nil {
		return nil, err
	}
	resp := &ConfirmationResponse{
		ID:          c.ID,
		Kind:        string(c.Kind),
		Status:      string(c.Status),
		Options:     options,
		RequestedAt: c.RequestedAt,
		ExpiresAt:   c.ExpiresAt,
	}
	if c.SelectedOptionID != nil {
		resp.SelectedOptionID = *c.SelectedOptionID
	}
	if c.Feedback != nil {
		resp.Feedback = *c.Feedback
	}
	return resp, nil
}

func ToEventResponse(e *entity.Event) EventResponse {
	resp := EventResponse{
		ID:              e.ID.String(),
		ChannelID:       e.ChannelID,
		OrganizerID:     e.OrganizerID,
		Kind:            string(e.Kind),
		Purpose:         e.Purpose,
		Status:          string(e.Status),
		ScheduledStart:  e.ScheduledStart,
		DurationMinutes: e.DurationMinutes,
		CreatedAt:       e.CreatedAt,
	}
	if e.Title != nil {
		resp.Title = *e.Title
	}
	if e.ThreadTS != nil {
		resp.ThreadTS = *e.ThreadTS
	}
	return resp
}

func ToVenueResponse(v *entity.Venue) *VenueResponse {
	if v == nil {
		return nil
	}
	resp := &VenueResponse{
		Name:          v.Name,
		Address:       v.Address,
		Type:          string(v.Type),
		Capacity:      v.Capacity,
		BookingStatus: string(v.BookingStatus),
		CostPerPerson: v.CostPerPerson,
		Rating:        v.Rating,
	}
	if v.BookingReference != nil {
		resp.BookingReference = *v.BookingReference
	}
	if v.MapURL != nil {
		resp.MapURL = *v.MapURL
	}
	return resp
}
