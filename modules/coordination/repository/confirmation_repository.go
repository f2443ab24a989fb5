package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"event-coordinator/core/database"
	"event-coordinator/core/logger"
	"event-coordinator/modules/coordination/entity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrConfirmationOpen is returned when an event already has a pending
// confirmation. The partial unique index on (event_id) WHERE status='pending'
// enforces at most one open checkpoint per event.
var ErrConfirmationOpen = errors.New("event already has an open confirmation")

// ErrConfirmationResolved is returned when resolving a confirmation that is
// no longer pending.
var ErrConfirmationResolved = errors.New("confirmation already resolved")

type ConfirmationRepository struct {
	DB database.IDatabase
}

func NewConfirmationRepository(db database.IDatabase) *ConfirmationRepository {
	return &ConfirmationRepository{DB: db}
}

type ConfirmationRepositoryInterface interface {
	Create(ctx context.Context, c *entity.IntermediateConfirmation) error
	GetByID(ctx context.Context, id string) (*entity.IntermediateConfirmation, error)
	GetOpenByEventID(ctx context.Context, eventID uuid.UUID) (*entity.IntermediateConfirmation, error)
	Resolve(ctx context.Context, id string, status entity.ConfirmationStatus, selectedOptionID, feedback *string, at time.Time) (*entity.IntermediateConfirmation, error)
	CancelOpen(ctx context.Context, eventID uuid.UUID, at time.Time) error
	DueReminders(ctx context.Context, now time.Time, interval time.Duration, maxReminders, limit int) ([]entity.IntermediateConfirmation, error)
	MarkReminded(ctx context.Context, id string) error
}

const confirmationColumns = `
	id, event_id, session_id, kind, options, selected_option_id, status,
	feedback, reminders_sent, requested_at, responded_at, expires_at`

func (r *ConfirmationRepository) Create(ctx context.Context, c *entity.IntermediateConfirmation) error {
	query := `
		INSERT INTO confirmations (id, event_id, session_id, kind, options, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	err := r.DB.ExecContext(ctx, query,
		c.ID, c.EventID, c.SessionID, c.Kind, c.Options, c.Status, c.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConfirmationOpen
		}
		logger.Error("ConfirmationRepository:Create", err)
		return err
	}
	return nil
}

func (r *ConfirmationRepository) GetByID(ctx context.Context, id string) (*entity.IntermediateConfirmation, error) {
	query := `SELECT` + confirmationColumns + `
		FROM confirmations WHERE id = $1`

	var c entity.IntermediateConfirmation
	err := r.DB.GetContext(ctx, &c, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ConfirmationRepository:GetByID", err)
		return nil, err
	}
	return &c, nil
}

func (r *ConfirmationRepository) GetOpenByEventID(ctx context.Context, eventID uuid.UUID) (*entity.IntermediateConfirmation, error) {
	query := `SELECT` + confirmationColumns + `
		FROM confirmations WHERE event_id = $1 AND status = 'pending'`

	var c entity.IntermediateConfirmation
	err := r.DB.GetContext(ctx, &c, query, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("ConfirmationRepository:GetOpenByEventID", err)
		return nil, err
	}
	return &c, nil
}

// Resolve records a decision on a pending confirmation. The status guard in
// the WHERE clause makes a second decision a no-op at the row level; callers
// get ErrConfirmationResolved and decide whether the repeat is idempotent.
func (r *ConfirmationRepository) Resolve(ctx context.Context, id string, status entity.ConfirmationStatus, selectedOptionID, feedback *string, at time.Time) (*entity.IntermediateConfirmation, error) {
	query := `
		UPDATE confirmations
		SET status = $2, selected_option_id = $3, feedback = $4, responded_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING` + confirmationColumns

	var c entity.IntermediateConfirmation
	err := r.DB.GetContext(ctx, &c, query, id, status, selectedOptionID, feedback, at)
	if err != nil {
		if err == sql.ErrNoRows {
			existing, gerr := r.GetByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			if existing == nil {
				return nil, sql.ErrNoRows
			}
			return existing, ErrConfirmationResolved
		}
		logger.Error("ConfirmationRepository:Resolve", err)
		return nil, err
	}
	return &c, nil
}

func (r *ConfirmationRepository) CancelOpen(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	query := `
		UPDATE confirmations
		SET status = 'cancelled', responded_at = $2
		WHERE event_id = $1 AND status = 'pending'
	`
	if err := r.DB.ExecContext(ctx, query, eventID, at); err != nil {
		logger.Error("ConfirmationRepository:CancelOpen", err)
		return err
	}
	return nil
}

// DueReminders lists pending confirmations whose reminder window elapsed
// and that still have reminder budget left. Each sent reminder pushes the
// next one out by another interval.
func (r *ConfirmationRepository) DueReminders(ctx context.Context, now time.Time, interval time.Duration, maxReminders, limit int) ([]entity.IntermediateConfirmation, error) {
	query := `
		SELECT` + confirmationColumns + `
		FROM confirmations
		WHERE status = 'pending'
		  AND reminders_sent < $2
		  AND requested_at + make_interval(secs => $3) * (reminders_sent + 1) <= $1
		ORDER BY requested_at
		LIMIT $4`

	var list []entity.IntermediateConfirmation
	if err := r.DB.SelectContext(ctx, &list, query, now, maxReminders, interval.Seconds(), limit); err != nil {
		logger.Error("ConfirmationRepository:DueReminders", err)
		return nil, err
	}
	return list, nil
}

func (r *ConfirmationRepository) MarkReminded(ctx context.Context, id string) error {
	query := `UPDATE confirmations SET reminders_sent = reminders_sent + 1 WHERE id = $1`
	if err := r.DB.ExecContext(ctx, query, id); err != nil {
		logger.Error("ConfirmationRepository:MarkReminded", err)
		return err
	}
	return nil
}
