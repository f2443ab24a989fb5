package entity

import (
	"time"

	"github.com/google/uuid"
)

// VenueType classifies a candidate or booked location.
type VenueType string

const (
	VenueTypeRestaurant  VenueType = "restaurant"
	VenueTypeMeetingRoom VenueType = "meeting_room"
	VenueTypeExternal    VenueType = "external"
)

// BookingStatus tracks the reservation state of the selected venue.
type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusFailed         BookingStatus = "failed"
	BookingStatusManualRequired BookingStatus = "manual_required"
)

// Venue is the selected location for an Event. Rejected candidates are not
// persisted; they only live inside the confirmation's option payload.
type Venue struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	EventID           uuid.UUID     `db:"event_id" json:"event_id"`
	Type              VenueType     `db:"type" json:"type"`
	Name              string        `db:"name" json:"name"`
	Address           string        `db:"address" json:"address"`
	Capacity          int           `db:"capacity" json:"capacity"`
	BookingStatus     BookingStatus `db:"booking_status" json:"booking_status"`
	BookingReference  *string       `db:"booking_reference" json:"booking_reference,omitempty"`
	CostPerPerson     *int          `db:"cost_per_person" json:"cost_per_person,omitempty"`
	Rating            *float64      `db:"rating" json:"rating,omitempty"`
	Provider          string        `db:"provider" json:"provider"`
	ProviderRef       *string       `db:"provider_ref" json:"provider_ref,omitempty"`
	MapURL            *string       `db:"map_url" json:"map_url,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
