package coordination

import (
	"context"
	"encoding/json"

	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/database"
	"event-coordinator/modules/coordination/repository"
	"event-coordinator/modules/coordination/service"
	"event-coordinator/modules/coordination/tasks"
	eventRepository "event-coordinator/modules/event/repository"
	"event-coordinator/modules/integration"

	"github.com/hibiken/asynq"
)

// Module exposes the coordination surface other modules depend on: the
// orchestrator plus the repositories the event module reads through.
type Module struct {
	Orchestrator  service.OrchestratorInterface
	Sessions      repository.SessionRepositoryInterface
	Confirmations repository.ConfirmationRepositoryInterface
	Enqueuer      tasks.EnqueuerInterface
}

// Init wires the coordination module: repositories, the confirmation gate,
// the phase workers and the orchestrator that drives them.
func Init(cfg *config.Config, db database.IDatabase, clk clock.Clock, clients *integration.Clients, asynqClient *asynq.Client) *Module {
	sessions := repository.NewSessionRepository(db)
	confirmations := repository.NewConfirmationRepository(db)
	events := eventRepository.NewEventRepository(db)
	gate := service.NewConfirmationGate(cfg.Coordination, confirmations)
	enqueuer := tasks.NewEnqueuer(asynqClient)

	workers := []service.PhaseWorker{
		service.NewKickoffWorker(),
		service.NewParticipantWorker(cfg.Coordination, clients.Messenger),
		service.NewSchedulingWorker(cfg.Coordination),
		service.NewVenueWorker(cfg.Venues, clients.Venues),
		service.NewCalendarWorker(clients.Calendar),
		service.NewFinalWorker(),
		service.NewAnnounceWorker(clients.Messenger),
	}

	orchestrator := service.NewOrchestrator(
		cfg.Coordination,
		db,
		clk,
		sessions,
		events,
		gate,
		enqueuer,
		clients.Messenger,
		clients.Calendar,
		workers,
	)

	return &Module{
		Orchestrator:  orchestrator,
		Sessions:      sessions,
		Confirmations: confirmations,
		Enqueuer:      enqueuer,
	}
}

// RegisterHandlers binds the coordination task types onto the asynq mux.
// Handler errors make asynq retry with backoff, which is how lease
// contention resolves.
func (m *Module) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeTrigger, func(ctx context.Context, t *asynq.Task) error {
		var payload tasks.TriggerPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		return m.Orchestrator.Process(ctx, payload)
	})

	mux.HandleFunc(tasks.TypeTimer, func(ctx context.Context, t *asynq.Task) error {
		var payload tasks.TimerPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		return m.Orchestrator.HandleTimer(ctx, payload)
	})

	mux.HandleFunc(tasks.TypeSweep, func(ctx context.Context, t *asynq.Task) error {
		return m.Orchestrator.Sweep(ctx)
	})
}
