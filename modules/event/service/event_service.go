package service

import (
	"context"
	"strings"

	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/database"
	"event-coordinator/core/errors"
	"event-coordinator/core/logger"
	coordEntity "event-coordinator/modules/coordination/entity"
	coordRepository "event-coordinator/modules/coordination/repository"
	coordService "event-coordinator/modules/coordination/service"
	"event-coordinator/modules/coordination/tasks"
	"event-coordinator/modules/event/dto"
	"event-coordinator/modules/event/entity"
	"event-coordinator/modules/event/repository"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventService handles the organizer-facing event lifecycle. Anything that
// mutates coordination state is delegated to the orchestrator or expressed
// as a trigger task.
type EventService struct {
	cfg           *config.Config
	db            database.IDatabase
	clock         clock.Clock
	events        repository.EventRepositoryInterface
	sessions      coordRepository.SessionRepositoryInterface
	confirmations coordRepository.ConfirmationRepositoryInterface
	orchestrator  coordService.OrchestratorInterface
	enqueuer      tasks.EnqueuerInterface
}

type EventServiceInterface interface {
	CreateEvent(ctx context.Context, req *dto.CreateEventRequest) (*dto.CreateEventResponse, *errors.AppError)
	GetEventSummary(ctx context.Context, eventID uuid.UUID) (*dto.EventSummaryResponse, *errors.AppError)
	ListEvents(ctx context.Context, filter repository.EventFilter) ([]dto.EventResponse, *errors.AppError)
	HandleReply(ctx context.Context, eventID uuid.UUID, req *dto.ParticipantReplyRequest) *errors.AppError
	Decide(ctx context.Context, eventID uuid.UUID, req *dto.DecisionRequest) *errors.AppError
	Cancel(ctx context.Context, eventID uuid.UUID, req *dto.CancelEventRequest) *errors.AppError
	GetSession(ctx context.Context, eventID uuid.UUID) (*dto.SessionResponse, *errors.AppError)
	GetOpenConfirmation(ctx context.Context, eventID uuid.UUID) (*dto.ConfirmationResponse, *errors.AppError)
}

func NewEventService(
	cfg *config.Config,
	db database.IDatabase,
	clk clock.Clock,
	events repository.EventRepositoryInterface,
	sessions coordRepository.SessionRepositoryInterface,
	confirmations coordRepository.ConfirmationRepositoryInterface,
	orchestrator coordService.OrchestratorInterface,
	enqueuer tasks.EnqueuerInterface,
) EventServiceInterface {
	return &EventService{
		cfg:           cfg,
		db:            db,
		clock:         clk,
		events:        events,
		sessions:      sessions,
		confirmations: confirmations,
		orchestrator:  orchestrator,
		enqueuer:      enqueuer,
	}
}

// CreateEvent persists the event, its participants and the coordination
// session in one transaction, then enqueues the kickoff trigger. The event
// is returned immediately; coordination runs asynchronously.
func (s *EventService) CreateEvent(ctx context.Context, req *dto.CreateEventRequest) (*dto.CreateEventResponse, *errors.AppError) {
	kind := entity.EventKind(req.Kind)
	switch kind {
	case entity.EventKindDining, entity.EventKindStudy, entity.EventKindMeeting:
	default:
		return nil, errors.NewAppError(errors.ErrValidation, "Unknown event kind", nil)
	}

	userRefs := dedupeRefs(req.Participants)
	if len(userRefs) == 0 {
		return nil, errors.NewAppError(errors.ErrValidation, "At least one participant is required", nil)
	}
	// The organizer attends their own event and counts toward the quorum.
	organizerInvited := false
	for _, ref := range userRefs {
		if ref == req.OrganizerID {
			organizerInvited = true
			break
		}
	}
	if !organizerInvited {
		userRefs = append([]string{req.OrganizerID}, userRefs...)
	}
	if req.MaxParticipants > 0 && len(userRefs) > req.MaxParticipants {
		return nil, errors.NewAppError(errors.ErrCapacity, "Participant list exceeds the event capacity", nil)
	}

	now := s.clock.Now()
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = kind.DefaultDurationMinutes()
	}

	prefs := entity.CoordinationPreferences{
		ConfirmSchedule:  boolOrDefault(req.ConfirmSchedule, true),
		ConfirmVenue:     boolOrDefault(req.ConfirmVenue, true),
		AutoVenueBooking: boolOrDefault(req.AutoVenueBooking, false),
		MaxParticipants:  req.MaxParticipants,
		Timezone:         req.Timezone,
	}
	if prefs.Timezone == "" {
		prefs.Timezone = "Asia/Tokyo"
	}
	prefsJSON, err := entity.MarshalJSONB(prefs)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to encode preferences", err)
	}

	event := &entity.Event{
		ID:              uuid.New(),
		ChannelID:       req.ChannelID,
		OrganizerID:     req.OrganizerID,
		Kind:            kind,
		Purpose:         req.Purpose,
		Status:          entity.EventStatusCreated,
		DurationMinutes: duration,
		Preferences:     prefsJSON,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Title != "" {
		event.Title = &req.Title
	}
	if req.ThreadTS != "" {
		event.ThreadTS = &req.ThreadTS
	}

	session := &coordEntity.CoordinationSession{
		ID:              uuid.New(),
		EventID:         event.ID,
		CurrentPhase:    coordEntity.PhaseCreated,
		ConfirmSchedule: prefs.ConfirmSchedule,
		ConfirmVenue:    prefs.ConfirmVenue,
	}
	if err := session.SetWorkflow(coordEntity.WorkflowData{SchemaVersion: 1}); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to encode workflow state", err)
	}
	emptyLog, err := entity.MarshalJSONB([]coordEntity.ErrorEntry{})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to encode error log", err)
	}
	session.ErrorLog = emptyLog

	txErr := s.db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.events.CreateEventTx(ctx, tx, event); err != nil {
			return err
		}
		for _, ref := range userRefs {
			status := entity.ParticipantStatusPending
			if ref == req.OrganizerID {
				status = entity.ParticipantStatusConfirmed
			}
			participant := &entity.Participant{
				ID:        uuid.New(),
				EventID:   event.ID,
				UserRef:   ref,
				Status:    status,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.events.AddParticipantTx(ctx, tx, participant); err != nil {
				return err
			}
		}
		return s.sessions.CreateTx(ctx, tx, session)
	})
	if txErr != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to create event", txErr)
	}

	payload := tasks.TriggerPayload{EventID: event.ID, Reason: tasks.ReasonCreated}
	if err := s.enqueuer.EnqueueTrigger(ctx, payload, tasks.TriggerTaskID(event.ID, tasks.ReasonCreated, session.Version)); err != nil {
		// The sweep picks up sessions whose kickoff trigger was lost.
		logger.Error("EventService:CreateEvent:EnqueueTrigger", err, "event_id", event.ID)
	}

	logger.Info("EventService:CreateEvent:Created",
		"event_id", event.ID,
		"kind", event.Kind,
		"participants", len(userRefs),
	)
	return &dto.CreateEventResponse{
		EventID: event.ID.String(),
		Status:  string(event.Status),
		Phase:   string(session.CurrentPhase),
	}, nil
}

// GetEventSummary returns the organizer-facing status view.
func (s *EventService) GetEventSummary(ctx context.Context, eventID uuid.UUID) (*dto.EventSummaryResponse, *errors.AppError) {
	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get event", err)
	}
	if event == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "Event not found", nil)
	}

	participants, err := s.events.GetParticipantsByEventID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get participants", err)
	}
	venue, err := s.events.GetVenueByEventID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get venue", err)
	}
	session, err := s.sessions.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get coordination session", err)
	}

	summary := &dto.EventSummaryResponse{
		Event: dto.ToEventResponse(event),
		Venue: dto.ToVenueResponse(venue),
	}
	if session != nil {
		summary.Phase = string(session.CurrentPhase)
	}
	for i := range participants {
		p := &participants[i]
		resp := dto.ParticipantResponse{
			UserRef:       p.UserRef,
			Status:        string(p.Status),
			RemindersSent: p.RemindersSent,
		}
		if p.DisplayName != nil {
			resp.DisplayName = *p.DisplayName
		}
		summary.Participants = append(summary.Participants, resp)
		switch p.Status {
		case entity.ParticipantStatusConfirmed:
			summary.Confirmed++
		case entity.ParticipantStatusDeclined, entity.ParticipantStatusNoResponse:
			summary.Declined++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

func (s *EventService) ListEvents(ctx context.Context, filter repository.EventFilter) ([]dto.EventResponse, *errors.AppError) {
	events, err := s.events.ListEvents(ctx, filter)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to list events", err)
	}
	responses := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, dto.ToEventResponse(&events[i]))
	}
	return responses, nil
}

// HandleReply records a participant's availability answer and wakes the
// orchestrator. Replies are only accepted while the collection window is
// open; later answers no longer influence the schedule.
func (s *EventService) HandleReply(ctx context.Context, eventID uuid.UUID, req *dto.ParticipantReplyRequest) *errors.AppError {
	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to get event", err)
	}
	if event == nil {
		return errors.NewAppError(errors.ErrNotFound, "Event not found", nil)
	}
	switch event.Status {
	case entity.EventStatusCreated, entity.EventStatusCollectingParticipants:
	default:
		return errors.NewAppError(errors.ErrValidation, "Availability collection for this event is closed", nil)
	}

	participants, err := s.events.GetParticipantsByEventID(ctx, eventID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to get participants", err)
	}
	var participant *entity.Participant
	for i := range participants {
		if participants[i].UserRef == req.UserRef {
			participant = &participants[i]
			break
		}
	}
	if participant == nil {
		return errors.NewAppError(errors.ErrNotFound, "User is not invited to this event", nil)
	}

	now := s.clock.Now()
	if req.Attending {
		participant.Status = entity.ParticipantStatusConfirmed
	} else {
		participant.Status = entity.ParticipantStatusDeclined
	}
	windows := make([]entity.TimeWindow, 0, len(req.Windows))
	for _, w := range req.Windows {
		if !w.End.After(w.Start) {
			return errors.NewAppError(errors.ErrValidation, "Availability window must end after it starts", nil)
		}
		windows = append(windows, entity.TimeWindow{Start: w.Start, End: w.End})
	}
	availability, err := entity.MarshalJSONB(windows)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to encode availability", err)
	}
	participant.Availability = availability
	if req.Dietary != "" {
		participant.Dietary = &req.Dietary
	}
	if req.CalendarEmail != "" {
		participant.CalendarEmail = &req.CalendarEmail
	}
	participant.UpdatedAt = now

	txErr := s.db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		return s.events.UpdateParticipantTx(ctx, tx, participant)
	})
	if txErr != nil {
		return errors.NewAppError(errors.ErrInternalServer, "Failed to record reply", txErr)
	}

	payload := tasks.TriggerPayload{EventID: eventID, Reason: tasks.ReasonReply}
	if err := s.enqueuer.EnqueueTrigger(ctx, payload); err != nil {
		logger.Error("EventService:HandleReply:EnqueueTrigger", err, "event_id", eventID)
	}
	logger.Info("EventService:HandleReply:Recorded",
		"event_id", eventID,
		"user_ref", req.UserRef,
		"status", participant.Status,
	)
	return nil
}

// Decide resolves an open confirmation checkpoint. Only the organizer may
// decide.
func (s *EventService) Decide(ctx context.Context, eventID uuid.UUID, req *dto.DecisionRequest) *errors.AppError {
	event, appErr := s.requireOrganizer(ctx, eventID, req.DecidedBy, "Only the organizer can resolve a confirmation")
	if appErr != nil {
		return appErr
	}
	return s.orchestrator.HandleDecision(ctx, event.ID, req.ConfirmationID, req.Approved, req.SelectedOptionID, req.Feedback)
}

// Cancel aborts coordination. Organizer identity is re-checked inside the
// orchestrator under the session lease.
func (s *EventService) Cancel(ctx context.Context, eventID uuid.UUID, req *dto.CancelEventRequest) *errors.AppError {
	if _, appErr := s.requireOrganizer(ctx, eventID, req.RequestedBy, "Only the organizer can cancel the event"); appErr != nil {
		return appErr
	}
	return s.orchestrator.HandleCancel(ctx, eventID, req.RequestedBy, req.Reason)
}

func (s *EventService) GetSession(ctx context.Context, eventID uuid.UUID) (*dto.SessionResponse, *errors.AppError) {
	session, err := s.sessions.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get coordination session", err)
	}
	if session == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "Coordination session not found", nil)
	}
	resp, err := dto.ToSessionResponse(session)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode coordination session", err)
	}
	return resp, nil
}

func (s *EventService) GetOpenConfirmation(ctx context.Context, eventID uuid.UUID) (*dto.ConfirmationResponse, *errors.AppError) {
	confirmation, err := s.confirmations.GetOpenByEventID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get confirmation", err)
	}
	if confirmation == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "No open confirmation for this event", nil)
	}
	resp, err := dto.ToConfirmationResponse(confirmation)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to decode confirmation", err)
	}
	return resp, nil
}

func (s *EventService) requireOrganizer(ctx context.Context, eventID uuid.UUID, userRef, message string) (*entity.Event, *errors.AppError) {
	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to get event", err)
	}
	if event == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "Event not found", nil)
	}
	if event.OrganizerID != userRef {
		return nil, errors.NewAppError(errors.ErrForbidden, message, nil)
	}
	return event, nil
}

func dedupeRefs(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
