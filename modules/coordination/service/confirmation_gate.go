package service

import (
	"context"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/errors"
	"event-coordinator/core/logger"
	"event-coordinator/core/utils"
	"event-coordinator/modules/coordination/entity"
	"event-coordinator/modules/coordination/repository"
	eventEntity "event-coordinator/modules/event/entity"

	"github.com/google/uuid"
)

// ConfirmationGate owns the human-approval checkpoints. All creation and
// resolution of confirmations flows through here so the one-open-per-event
// invariant and idempotent resolution live in one place.
type ConfirmationGate struct {
	cfg  config.CoordinationConfig
	repo repository.ConfirmationRepositoryInterface
}

type ConfirmationGateInterface interface {
	Open(ctx context.Context, session *entity.CoordinationSession, draft *ConfirmationDraft, now time.Time) (*entity.IntermediateConfirmation, error)
	Resolve(ctx context.Context, confirmationID string, approved bool, selectedOptionID, feedback string, now time.Time) (*entity.IntermediateConfirmation, bool, *errors.AppError)
	Expire(ctx context.Context, confirmationID string, now time.Time) (*entity.IntermediateConfirmation, *errors.AppError)
	GetOpen(ctx context.Context, eventID uuid.UUID) (*entity.IntermediateConfirmation, error)
	CancelOpen(ctx context.Context, eventID uuid.UUID, now time.Time) error
	DueReminders(ctx context.Context, now time.Time) ([]entity.IntermediateConfirmation, error)
	MarkReminded(ctx context.Context, confirmationID string) error
}

func NewConfirmationGate(cfg config.CoordinationConfig, repo repository.ConfirmationRepositoryInterface) *ConfirmationGate {
	return &ConfirmationGate{cfg: cfg, repo: repo}
}

// Open creates a pending checkpoint for the session. If one is already open
// for the event it is returned as-is, making a re-run of an awaiting phase a
// no-op.
func (g *ConfirmationGate) Open(ctx context.Context, session *entity.CoordinationSession, draft *ConfirmationDraft, now time.Time) (*entity.IntermediateConfirmation, error) {
	options, err := eventEntity.MarshalJSONB(draft.Options)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(g.cfg.ConfirmationTimeout)
	confirmation := &entity.IntermediateConfirmation{
		ID:          utils.GenerateID(),
		EventID:     session.EventID,
		SessionID:   session.ID,
		Kind:        draft.Kind,
		Options:     options,
		Status:      entity.ConfirmationStatusPending,
		RequestedAt: now,
		ExpiresAt:   &expiresAt,
	}

	err = g.repo.Create(ctx, confirmation)
	if err == repository.ErrConfirmationOpen {
		existing, gerr := g.repo.GetOpenByEventID(ctx, session.EventID)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil {
			return existing, nil
		}
		// the open one resolved between the insert and the read; retry once
		if rerr := g.repo.Create(ctx, confirmation); rerr != nil {
			return nil, rerr
		}
		return confirmation, nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info("ConfirmationGate:Open", "event_id", session.EventID, "kind", draft.Kind, "confirmation_id", confirmation.ID)
	return confirmation, nil
}

// Resolve records the organizer's decision. The first decision wins: a
// repeat, whether it matches or conflicts, is a no-op that returns the stored
// result with duplicate reporting true.
func (g *ConfirmationGate) Resolve(ctx context.Context, confirmationID string, approved bool, selectedOptionID, feedback string, now time.Time) (*entity.IntermediateConfirmation, bool, *errors.AppError) {
	status := entity.ConfirmationStatusApproved
	if !approved {
		status = entity.ConfirmationStatusRejected
	}

	var optionPtr, feedbackPtr *string
	if selectedOptionID != "" {
		optionPtr = &selectedOptionID
	}
	if feedback != "" {
		feedbackPtr = &feedback
	}

	resolved, err := g.repo.Resolve(ctx, confirmationID, status, optionPtr, feedbackPtr, now)
	if err == repository.ErrConfirmationResolved {
		logger.Info("ConfirmationGate:Resolve:Duplicate",
			"confirmation_id", confirmationID, "stored_status", resolved.Status)
		return resolved, true, nil
	}
	if err != nil {
		return nil, false, errors.NewAppError(errors.ErrNotFound, "Confirmation not found", err)
	}

	logger.Info("ConfirmationGate:Resolve", "confirmation_id", confirmationID, "status", status)
	return resolved, false, nil
}

// Expire flips a pending confirmation to expired. Returns nil (no error)
// when the confirmation was already resolved, so a racing decision wins.
func (g *ConfirmationGate) Expire(ctx context.Context, confirmationID string, now time.Time) (*entity.IntermediateConfirmation, *errors.AppError) {
	expired, err := g.repo.Resolve(ctx, confirmationID, entity.ConfirmationStatusExpired, nil, nil, now)
	if err == repository.ErrConfirmationResolved {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "Confirmation not found", err)
	}
	logger.Info("ConfirmationGate:Expire", "confirmation_id", confirmationID)
	return expired, nil
}

func (g *ConfirmationGate) GetOpen(ctx context.Context, eventID uuid.UUID) (*entity.IntermediateConfirmation, error) {
	return g.repo.GetOpenByEventID(ctx, eventID)
}

func (g *ConfirmationGate) CancelOpen(ctx context.Context, eventID uuid.UUID, now time.Time) error {
	return g.repo.CancelOpen(ctx, eventID, now)
}

// DueReminders lists open confirmations whose organizer should be nudged.
func (g *ConfirmationGate) DueReminders(ctx context.Context, now time.Time) ([]entity.IntermediateConfirmation, error) {
	if g.cfg.ReminderInterval <= 0 || g.cfg.MaxReminders <= 0 {
		return nil, nil
	}
	return g.repo.DueReminders(ctx, now, g.cfg.ReminderInterval, g.cfg.MaxReminders, 100)
}

// MarkReminded bumps the reminder counter after a nudge went out.
func (g *ConfirmationGate) MarkReminded(ctx context.Context, confirmationID string) error {
	return g.repo.MarkReminded(ctx, confirmationID)
}
