package entity

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus tracks one calendar write.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusFailed  EntryStatus = "failed"
)

// CalendarEntry is one calendar write: one per participant calendar, plus
// optionally a meeting-room resource. Immutable once status is success;
// corrections require a new entry and explicit cancellation of the old one.
type CalendarEntry struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	EventID         uuid.UUID   `db:"event_id" json:"event_id"`
	ParticipantID   *uuid.UUID  `db:"participant_id" json:"participant_id,omitempty"`
	CalendarEmail   string      `db:"calendar_email" json:"calendar_email"`
	StartTime       time.Time   `db:"start_time" json:"start_time"`
	EndTime         time.Time   `db:"end_time" json:"end_time"`
	Location        *string     `db:"location" json:"location,omitempty"`
	ProviderEventID *string     `db:"provider_event_id" json:"provider_event_id,omitempty"`
	ResourceID      *string     `db:"resource_id" json:"resource_id,omitempty"`
	Status          EntryStatus `db:"status" json:"status"`
	CancelledAt     *time.Time  `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}
