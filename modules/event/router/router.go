package router

import (
	"event-coordinator/core/middleware"
	"event-coordinator/modules/event/controller"

	"github.com/labstack/echo/v4"
)

// EventRouter handles event routes
type EventRouter struct {
	EventController *controller.EventController
}

func NewEventRouter(eventController *controller.EventController) *EventRouter {
	return &EventRouter{
		EventController: eventController,
	}
}

// Setup registers event routes. All routes are private; callers are trusted
// services (the chat gateway) authenticating with a service token.
func (r *EventRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	eventRoutes := privateRoutes.Group("/events", mw.AuthMiddleware())

	eventRoutes.POST("", r.EventController.CreateEvent)
	eventRoutes.GET("", r.EventController.ListEvents)
	eventRoutes.GET("/:id", r.EventController.GetEvent)

	// Coordination triggers
	eventRoutes.POST("/:id/replies", r.EventController.Reply)
	eventRoutes.POST("/:id/decisions", r.EventController.Decide)
	eventRoutes.POST("/:id/cancel", r.EventController.Cancel)

	// Coordination state views
	eventRoutes.GET("/:id/session", r.EventController.GetSession)
	eventRoutes.GET("/:id/confirmation", r.EventController.GetConfirmation)
}
