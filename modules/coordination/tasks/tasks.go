package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"event-coordinator/core/constants"
	"event-coordinator/core/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names. Trigger tasks drive one phase execution; timer tasks fire
// when a deadline or confirmation expiry comes due; the sweep is the periodic
// safety net that catches timers lost to crashes.
const (
	TypeTrigger = "coordination:trigger"
	TypeTimer   = "coordination:timer"
	TypeSweep   = "coordination:sweep"
)

// Trigger reasons, recorded so handlers can tell a human decision from a
// timer expiry when both race.
const (
	ReasonCreated       = "created"
	ReasonReply         = "participant_reply"
	ReasonDecision      = "decision"
	ReasonCancel        = "cancel"
	ReasonDeadline      = "deadline"
	ReasonExpiry        = "confirmation_expired"
	ReasonRetry         = "retry"
	ReasonPhaseComplete = "phase_complete"
)

type TriggerPayload struct {
	EventID uuid.UUID `json:"event_id"`
	Reason  string    `json:"reason"`
	// ExpectedVersion lets a trigger detect that the session moved on since
	// the trigger was scheduled. Zero means no staleness check.
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type TimerPayload struct {
	EventID uuid.UUID `json:"event_id"`
	Reason  string    `json:"reason"`
	DueAt   time.Time `json:"due_at"`
}

// Enqueuer wraps the asynq client with the queue and dedup conventions used
// across the coordination module.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

type EnqueuerInterface interface {
	EnqueueTrigger(ctx context.Context, p TriggerPayload, opts ...asynq.Option) error
	EnqueueTriggerAfter(ctx context.Context, p TriggerPayload, delay time.Duration) error
	EnqueueTimer(ctx context.Context, p TimerPayload) error
}

// EnqueueTrigger schedules an immediate phase execution. A task ID option
// may be passed for webhook dedup; a duplicate is treated as success.
func (e *Enqueuer) EnqueueTrigger(ctx context.Context, p TriggerPayload, opts ...asynq.Option) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	opts = append(opts, asynq.Queue(constants.QueueCoordination), asynq.MaxRetry(5))
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TypeTrigger, payload), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logger.Info("Enqueuer:EnqueueTrigger:Duplicate", "event_id", p.EventID, "reason", p.Reason)
			return nil
		}
		logger.Error("Enqueuer:EnqueueTrigger", err)
		return err
	}
	return nil
}

func (e *Enqueuer) EnqueueTriggerAfter(ctx context.Context, p TriggerPayload, delay time.Duration) error {
	return e.EnqueueTrigger(ctx, p, asynq.ProcessIn(delay))
}

// EnqueueTimer schedules a deadline wakeup. Timer tasks are advisory; the
// handler re-checks the session before acting, so a timer firing after the
// deadline was already handled is a no-op.
func (e *Enqueuer) EnqueueTimer(ctx context.Context, p TimerPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TypeTimer, payload),
		asynq.Queue(constants.QueueCoordination),
		asynq.ProcessAt(p.DueAt),
		asynq.MaxRetry(3))
	if err != nil {
		logger.Error("Enqueuer:EnqueueTimer", err)
		return err
	}
	return nil
}

// TriggerTaskID builds a deterministic task ID so repeated webhook
// deliveries collapse to one trigger per (event, reason, version).
func TriggerTaskID(eventID uuid.UUID, reason string, version int64) asynq.Option {
	return asynq.TaskID(TypeTrigger + ":" + eventID.String() + ":" + reason + ":" + strconv.FormatInt(version, 10))
}
