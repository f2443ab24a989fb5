package dto

import "time"

// ParticipantPrompt is the availability question sent to one participant.
type ParticipantPrompt struct {
	UserRef      string
	EventTitle   string
	Purpose      string
	Kind         string
	WindowStart  time.Time
	WindowEnd    time.Time
	Deadline     time.Time
	ReplyHint    string
}

// Announcement is the final channel post once an event is fully booked.
type Announcement struct {
	ChannelID    string
	ThreadTS     string
	Title        string
	Start        time.Time
	End          time.Time
	VenueName    string
	VenueAddress string
	MapURL       string
	Attendees    []string
}

// VenueCandidate is one venue as returned by a provider, before filtering
// and scoring.
type VenueCandidate struct {
	Name          string
	Address       string
	Type          string
	Capacity      int
	CostPerPerson *int
	Rating        *float64
	Provider      string
	ProviderRef   string
	MapURL        string
}

// VenueQuery describes the search the providers run.
type VenueQuery struct {
	Keyword   string
	Kind      string
	Area      string
	PartySize int
	Budget    int
}

// CalendarEntryRequest describes one calendar write.
type CalendarEntryRequest struct {
	CalendarEmail string
	Title         string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	ResourceID    string
}
