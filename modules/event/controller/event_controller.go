package controller

import (
	"event-coordinator/core/controller"
	"event-coordinator/core/errors"
	"event-coordinator/modules/event/dto"
	"event-coordinator/modules/event/entity"
	"event-coordinator/modules/event/repository"
	"event-coordinator/modules/event/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// EventController handles event HTTP requests. The API is the inbound
// adapter for the chat gateway, so user identity arrives in the payload
// rather than in the service token.
type EventController struct {
	controller.BaseController
	EventService service.EventServiceInterface
}

func NewEventController(svc service.EventServiceInterface) *EventController {
	return &EventController{
		BaseController: controller.NewBaseController(),
		EventService:   svc,
	}
}

func (c *EventController) eventIDFromPath(ctx echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, c.BadRequest(errors.ErrInvalidInput, "Invalid event id")
	}
	return id, nil
}

// CreateEvent handles POST /events
func (c *EventController) CreateEvent(ctx echo.Context) error {
	var req dto.CreateEventRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid request body")
	}
	if req.ChannelID == "" || req.OrganizerID == "" || req.Purpose == "" {
		return c.BadRequest(errors.ErrValidation, "channel_id, organizer_id and purpose are required")
	}

	result, appErr := c.EventService.CreateEvent(ctx.Request().Context(), &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.AcceptedResponse(ctx, result, "Event created, coordination started")
}

// GetEvent handles GET /events/:id
func (c *EventController) GetEvent(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	result, appErr := c.EventService.GetEventSummary(ctx.Request().Context(), id)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.SuccessResponse(ctx, result, "Event retrieved successfully")
}

// ListEvents handles GET /events
func (c *EventController) ListEvents(ctx echo.Context) error {
	filter := repository.EventFilter{
		OrganizerID: ctx.QueryParam("organizer_id"),
		ChannelID:   ctx.QueryParam("channel_id"),
		Status:      entity.EventStatus(ctx.QueryParam("status")),
	}

	result, appErr := c.EventService.ListEvents(ctx.Request().Context(), filter)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.SuccessResponse(ctx, result, "Events retrieved successfully")
}

// Reply handles POST /events/:id/replies
func (c *EventController) Reply(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	var req dto.ParticipantReplyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid request body")
	}
	if req.UserRef == "" {
		return c.BadRequest(errors.ErrValidation, "user_ref is required")
	}

	if appErr := c.EventService.HandleReply(ctx.Request().Context(), id, &req); appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.AcceptedResponse(ctx, nil, "Reply recorded")
}

// Decide handles POST /events/:id/decisions
func (c *EventController) Decide(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	var req dto.DecisionRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid request body")
	}
	if req.ConfirmationID == "" || req.DecidedBy == "" {
		return c.BadRequest(errors.ErrValidation, "confirmation_id and decided_by are required")
	}

	if appErr := c.EventService.Decide(ctx.Request().Context(), id, &req); appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.AcceptedResponse(ctx, nil, "Decision applied")
}

// Cancel handles POST /events/:id/cancel
func (c *EventController) Cancel(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	var req dto.CancelEventRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidInput, "Invalid request body")
	}
	if req.RequestedBy == "" {
		return c.BadRequest(errors.ErrValidation, "requested_by is required")
	}

	if appErr := c.EventService.Cancel(ctx.Request().Context(), id, &req); appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.AcceptedResponse(ctx, nil, "Event cancelled")
}

// GetSession handles GET /events/:id/session
func (c *EventController) GetSession(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	result, appErr := c.EventService.GetSession(ctx.Request().Context(), id)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.SuccessResponse(ctx, result, "Session retrieved successfully")
}

// GetConfirmation handles GET /events/:id/confirmation
func (c *EventController) GetConfirmation(ctx echo.Context) error {
	id, err := c.eventIDFromPath(ctx)
	if err != nil {
		return err
	}

	result, appErr := c.EventService.GetOpenConfirmation(ctx.Request().Context(), id)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}
	return c.SuccessResponse(ctx, result, "Confirmation retrieved successfully")
}
