package entity

import (
	"time"

	eventEntity "event-coordinator/modules/event/entity"

	"github.com/google/uuid"
)

// ConfirmationKind identifies what the organizer is being asked to approve.
type ConfirmationKind string

const (
	ConfirmationKindSchedule ConfirmationKind = "schedule"
	ConfirmationKindVenue    ConfirmationKind = "venue"
	ConfirmationKindFinal    ConfirmationKind = "final"
	// ConfirmationKindManual asks the organizer to supply a substitute
	// result after a phase fell back to manual resolution.
	ConfirmationKindManual ConfirmationKind = "manual"
)

// ConfirmationStatus is the lifecycle of a human-approval checkpoint.
type ConfirmationStatus string

const (
	ConfirmationStatusPending   ConfirmationStatus = "pending"
	ConfirmationStatusApproved  ConfirmationStatus = "approved"
	ConfirmationStatusRejected  ConfirmationStatus = "rejected"
	ConfirmationStatusExpired   ConfirmationStatus = "expired"
	ConfirmationStatusCancelled ConfirmationStatus = "cancelled"
)

// Resolved reports whether the confirmation can no longer change.
func (s ConfirmationStatus) Resolved() bool {
	return s != ConfirmationStatusPending
}

// ConfirmationOption is one proposed choice shown to the organizer.
type ConfirmationOption struct {
	OptionID    string            `json:"option_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Recommended bool              `json:"recommended,omitempty"`
	Data        eventEntity.JSONB `json:"data,omitempty"`
}

// IntermediateConfirmation is a human-approval checkpoint. At most one is
// open per event at a time; it is resolved exclusively by the gate.
type IntermediateConfirmation struct {
	ID               string             `db:"id" json:"id"`
	EventID          uuid.UUID          `db:"event_id" json:"event_id"`
	SessionID        uuid.UUID          `db:"session_id" json:"session_id"`
	Kind             ConfirmationKind   `db:"kind" json:"kind"`
	Options          eventEntity.JSONB  `db:"options" json:"options"`
	SelectedOptionID *string            `db:"selected_option_id" json:"selected_option_id,omitempty"`
	Status           ConfirmationStatus `db:"status" json:"status"`
	Feedback         *string            `db:"feedback" json:"feedback,omitempty"`
	RemindersSent    int                `db:"reminders_sent" json:"reminders_sent"`
	RequestedAt      time.Time          `db:"requested_at" json:"requested_at"`
	RespondedAt      *time.Time         `db:"responded_at" json:"responded_at,omitempty"`
	ExpiresAt        *time.Time         `db:"expires_at" json:"expires_at,omitempty"`
}

// OptionList decodes the proposed options payload.
func (c *IntermediateConfirmation) OptionList() ([]ConfirmationOption, error) {
	var options []ConfirmationOption
	if err := c.Options.Decode(&options); err != nil {
		return nil, err
	}
	return options, nil
}

// FindOption returns the option with the given id, if present.
func (c *IntermediateConfirmation) FindOption(optionID string) (*ConfirmationOption, error) {
	options, err := c.OptionList()
	if err != nil {
		return nil, err
	}
	for i := range options {
		if options[i].OptionID == optionID {
			return &options[i], nil
		}
	}
	return nil, nil
}
