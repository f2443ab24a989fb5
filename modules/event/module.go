package event

import (
	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/database"
	"event-coordinator/core/middleware"
	"event-coordinator/modules/coordination"
	"event-coordinator/modules/event/controller"
	"event-coordinator/modules/event/repository"
	"event-coordinator/modules/event/router"
	"event-coordinator/modules/event/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the event module and registers routes. The coordination
// module must be initialized first; the event service delegates decisions,
// cancellation and triggers to its orchestrator.
func Init(e *echo.Echo, cfg *config.Config, db database.IDatabase, clk clock.Clock, mw *middleware.Middleware, coord *coordination.Module) {
	repo := repository.NewEventRepository(db)
	svc := service.NewEventService(cfg, db, clk, repo, coord.Sessions, coord.Confirmations, coord.Orchestrator, coord.Enqueuer)
	ctrl := controller.NewEventController(svc)
	rtr := router.NewEventRouter(ctrl)

	rtr.Setup(e, mw)
}
