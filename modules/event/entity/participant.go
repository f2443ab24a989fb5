package entity

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus tracks one invitee's reply state.
type ParticipantStatus string

const (
	ParticipantStatusPending    ParticipantStatus = "pending"
	ParticipantStatusConfirmed  ParticipantStatus = "confirmed"
	ParticipantStatusDeclined   ParticipantStatus = "declined"
	ParticipantStatusNoResponse ParticipantStatus = "no_response"
)

// Resolved reports whether the participant no longer needs prompting.
func (s ParticipantStatus) Resolved() bool {
	return s != ParticipantStatusPending
}

// TimeWindow is one availability interval offered by a participant.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether w fully covers [start, end).
func (w TimeWindow) Contains(start, end time.Time) bool {
	return !w.Start.After(start) && !w.End.Before(end)
}

// Participant is one invitee of an Event. Created when participants are
// enumerated; mutated only by the participant phase worker.
type Participant struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	EventID         uuid.UUID         `db:"event_id" json:"event_id"`
	UserRef         string            `db:"user_ref" json:"user_ref"`
	DisplayName     *string           `db:"display_name" json:"display_name,omitempty"`
	Status          ParticipantStatus `db:"status" json:"status"`
	Availability    JSONB             `db:"availability" json:"availability"`
	Dietary         *string           `db:"dietary" json:"dietary,omitempty"`
	CalendarEmail   *string           `db:"calendar_email" json:"calendar_email,omitempty"`
	LastContactedAt *time.Time        `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	LastRemindedAt  *time.Time        `db:"last_reminded_at" json:"last_reminded_at,omitempty"`
	RemindersSent   int               `db:"reminders_sent" json:"reminders_sent"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// AvailabilityWindows decodes the stored availability payload.
func (p *Participant) AvailabilityWindows() ([]TimeWindow, error) {
	var windows []TimeWindow
	if err := p.Availability.Decode(&windows); err != nil {
		return nil, err
	}
	return windows, nil
}
