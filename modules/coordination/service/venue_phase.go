package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"event-coordinator/core/config"
	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"
	eventEntity "event-coordinator/modules/event/entity"
	integrationDto "event-coordinator/modules/integration/dto"
	integration "event-coordinator/modules/integration/service"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// VenueWorker finds and ranks a location for the event: restaurants for
// dining, meeting rooms or external spaces for study and meeting kinds.
// Room reservation itself happens during calendar booking.
type VenueWorker struct {
	cfg    config.VenuesConfig
	venues integration.VenueSearcherInterface
}

func NewVenueWorker(cfg config.VenuesConfig, venues integration.VenueSearcherInterface) *VenueWorker {
	return &VenueWorker{cfg: cfg, venues: venues}
}

func (w *VenueWorker) Phase() entity.Phase { return entity.PhaseVenueSearch }

func (w *VenueWorker) Execute(ctx context.Context, snap *Snapshot) (*PhaseResult, error) {
	confirmed := snap.ConfirmedParticipants()
	partySize := len(confirmed)

	query := integrationDto.VenueQuery{
		Keyword:   snap.Event.Purpose,
		Kind:      string(snap.Event.Kind),
		PartySize: partySize,
		Budget:    w.cfg.BudgetPerPerson,
	}

	candidates, err := w.search(ctx, snap.Event.Kind, query)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, gateway.ErrExhausted) {
			return &PhaseResult{Outcome: OutcomeRetry, Reason: "venue providers unavailable: " + err.Error()}, nil
		}
		return nil, err
	}

	options := w.rank(candidates, snap.Event.Kind, partySize, snap.Workflow.RejectedOptionIDs)
	if len(options) == 0 {
		snap.Workflow.Manual = &entity.ManualResolution{
			Phase:        entity.PhaseVenueSearch,
			Reason:       "no suitable venue found",
			Instructions: "Book a venue manually and resubmit the venue decision.",
		}
		return &PhaseResult{
			Outcome: OutcomeFallback,
			Reason:  fmt.Sprintf("no venue fits %d people", partySize),
		}, nil
	}

	if snap.Session.ConfirmVenue {
		snap.Workflow.CandidateVenues = options
		confirmOptions := make([]entity.ConfirmationOption, 0, len(options))
		for i, v := range options {
			payload, err := eventEntity.MarshalJSONB(v)
			if err != nil {
				return nil, err
			}
			desc := v.Address
			if v.CostPerPerson > 0 {
				desc += fmt.Sprintf(" (~%d yen/person)", v.CostPerPerson)
			}
			confirmOptions = append(confirmOptions, entity.ConfirmationOption{
				OptionID:    v.OptionID,
				Title:       v.Name,
				Description: desc,
				Recommended: i == 0,
				Data:        payload,
			})
		}
		return &PhaseResult{
			Outcome:      OutcomeAwaitConfirmation,
			Confirmation: &ConfirmationDraft{Kind: entity.ConfirmationKindVenue, Options: confirmOptions},
		}, nil
	}

	// Auto mode keeps only the winning venue.
	snap.Workflow.CandidateVenues = options[:1]
	result := &PhaseResult{
		Outcome:    OutcomeAdvance,
		EventDirty: true,
		ThreadNote: fmt.Sprintf("Venue: %s, %s.", options[0].Name, options[0].Address),
	}
	result.Venue = SelectVenue(snap, options[0])
	return result, nil
}

// search queries the primary provider and, for dining, falls back to the
// secondary restaurant directory when the primary cannot serve.
func (w *VenueWorker) search(ctx context.Context, kind eventEntity.EventKind, q integrationDto.VenueQuery) ([]integrationDto.VenueCandidate, error) {
	primary, primaryErr := w.venues.SearchPrimary(ctx, q)
	if primaryErr == nil && len(primary) > 0 {
		return primary, nil
	}
	if primaryErr != nil {
		logger.Warn("VenueWorker:PrimaryFailed", "error", primaryErr)
	}
	if kind != eventEntity.EventKindDining {
		return primary, primaryErr
	}

	secondary, secondaryErr := w.venues.SearchSecondary(ctx, q)
	if secondaryErr != nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, secondaryErr
	}
	return append(primary, secondary...), nil
}

// allowedVenueTypes maps event kinds to the venue types each can use. An
// unlabeled candidate is coerced to the kind's first type.
var allowedVenueTypes = map[eventEntity.EventKind][]eventEntity.VenueType{
	eventEntity.EventKindDining:  {eventEntity.VenueTypeRestaurant},
	eventEntity.EventKindStudy:   {eventEntity.VenueTypeMeetingRoom, eventEntity.VenueTypeExternal},
	eventEntity.EventKindMeeting: {eventEntity.VenueTypeMeetingRoom, eventEntity.VenueTypeExternal},
}

// rank dedupes, filters and scores candidates. Scoring follows the venue
// suitability model: capacity fit weighs 40% (ideal 70-80% utilization),
// budget fit 30%, rating 30%.
func (w *VenueWorker) rank(candidates []integrationDto.VenueCandidate, kind eventEntity.EventKind, partySize int, rejectedIDs []string) []entity.VenueOption {
	rejected := make(map[string]bool, len(rejectedIDs))
	for _, id := range rejectedIDs {
		rejected[id] = true
	}

	allowed := allowedVenueTypes[kind]

	seen := make(map[string]bool, len(candidates))
	options := make([]entity.VenueOption, 0, len(candidates))

	for _, c := range candidates {
		key := slug.Make(c.Name + " " + c.Address)
		if seen[key] {
			continue
		}
		seen[key] = true

		optionID := "venue-" + key
		if rejected[optionID] {
			continue
		}
		if c.Capacity < partySize {
			continue
		}

		venueType := eventEntity.VenueType(c.Type)
		if venueType == "" {
			venueType = allowed[0]
		} else if !venueTypeAllowed(allowed, venueType) {
			continue
		}

		option := entity.VenueOption{
			OptionID:    optionID,
			Name:        c.Name,
			Address:     c.Address,
			Type:        venueType,
			Capacity:    c.Capacity,
			Provider:    c.Provider,
			ProviderRef: c.ProviderRef,
			MapURL:      c.MapURL,
		}
		if c.CostPerPerson != nil {
			option.CostPerPerson = *c.CostPerPerson
		}
		if c.Rating != nil {
			option.Rating = *c.Rating
		}
		option.Score = w.score(option, partySize)
		options = append(options, option)
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].Score != options[j].Score {
			return options[i].Score > options[j].Score
		}
		return options[i].OptionID < options[j].OptionID
	})

	if len(options) > maxVenueOptions {
		options = options[:maxVenueOptions]
	}
	return options
}

const maxVenueOptions = 5

func venueTypeAllowed(allowed []eventEntity.VenueType, t eventEntity.VenueType) bool {
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func (w *VenueWorker) score(v entity.VenueOption, partySize int) float64 {
	// Capacity: ideal utilization is 70-80% of the room.
	utilization := float64(partySize) / float64(v.Capacity)
	var capacityScore float64
	switch {
	case utilization >= 0.7 && utilization <= 0.8:
		capacityScore = 1.0
	case utilization > 0.8:
		capacityScore = 1.0 - (utilization-0.8)*2
	default:
		capacityScore = utilization / 0.7
	}
	if capacityScore < 0 {
		capacityScore = 0
	}

	// Budget: full marks at or under budget, linear falloff above it.
	budget := float64(w.cfg.BudgetPerPerson)
	budgetScore := 1.0
	if v.CostPerPerson > 0 && float64(v.CostPerPerson) > budget {
		budgetScore = budget / float64(v.CostPerPerson)
	}

	ratingScore := v.Rating / 5.0
	if ratingScore > 1 {
		ratingScore = 1
	}

	return capacityScore*0.4 + budgetScore*0.3 + ratingScore*0.3
}

// SelectVenue commits an option as the event's venue. Restaurant bookings
// are not automated; the record is created as manual_required and the
// organizer gets reservation instructions at announcement time.
func SelectVenue(snap *Snapshot, option entity.VenueOption) *eventEntity.Venue {
	selected := option
	snap.Workflow.SelectedVenue = &selected

	venue := &eventEntity.Venue{
		ID:            uuid.New(),
		EventID:       snap.Event.ID,
		Type:          option.Type,
		Name:          option.Name,
		Address:       option.Address,
		Capacity:      option.Capacity,
		BookingStatus: eventEntity.BookingStatusManualRequired,
		Provider:      option.Provider,
	}
	if option.CostPerPerson > 0 {
		cost := option.CostPerPerson
		venue.CostPerPerson = &cost
	}
	if option.Rating > 0 {
		rating := option.Rating
		venue.Rating = &rating
	}
	if option.ProviderRef != "" {
		ref := option.ProviderRef
		venue.ProviderRef = &ref
	}
	if option.MapURL != "" {
		u := option.MapURL
		venue.MapURL = &u
	}

	snap.Event.VenueID = &venue.ID
	return venue
}

// ApplyVenueDecision resolves a venue confirmation onto the snapshot and
// returns the venue to persist, or nil on rejection.
func ApplyVenueDecision(snap *Snapshot, approved bool, option *entity.VenueOption) *eventEntity.Venue {
	if !approved || option == nil {
		for _, c := range snap.Workflow.CandidateVenues {
			snap.Workflow.RejectedOptionIDs = append(snap.Workflow.RejectedOptionIDs, c.OptionID)
		}
		snap.Workflow.CandidateVenues = nil
		snap.Workflow.SelectedVenue = nil
		snap.Event.VenueID = nil
		return nil
	}
	return SelectVenue(snap, *option)
}
