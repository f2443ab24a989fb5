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
	"github.com/jmoiron/sqlx"
)

// ErrLeaseHeld is returned when another worker holds a live lease.
var ErrLeaseHeld = errors.New("session lease held by another worker")

// ErrVersionConflict is returned when a versioned update observes a stale
// version. The caller must re-read and decide whether to retry.
var ErrVersionConflict = errors.New("session version conflict")

type SessionRepository struct {
	DB database.IDatabase
}

func NewSessionRepository(db database.IDatabase) *SessionRepository {
	return &SessionRepository{DB: db}
}

type SessionRepositoryInterface interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*entity.CoordinationSession, error)
	AcquireLease(ctx context.Context, eventID uuid.UUID, holder string, ttl time.Duration) (*entity.CoordinationSession, error)
	ReleaseLease(ctx context.Context, eventID uuid.UUID, holder string) error
	UpdateVersionedTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error
	DueDeadlines(ctx context.Context, now time.Time, limit int) ([]entity.CoordinationSession, error)
}

const sessionColumns = `
	id, event_id, current_phase, previous_phase, version, lease_holder,
	lease_expires_at, confirm_schedule, confirm_venue, workflow_data, error_log,
	deadline_at, created_at, updated_at`

func (r *SessionRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error {
	query := `
		INSERT INTO coordination_sessions (id, event_id, current_phase, version,
		                                   confirm_schedule, confirm_venue,
		                                   workflow_data, error_log)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		s.ID, s.EventID, s.CurrentPhase, s.ConfirmSchedule, s.ConfirmVenue,
		s.WorkflowData, s.ErrorLog)
	if err != nil {
		logger.Error("SessionRepository:CreateTx", err)
		return err
	}
	s.Version = 1
	return nil
}

func (r *SessionRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*entity.CoordinationSession, error) {
	query := `SELECT` + sessionColumns + `
		FROM coordination_sessions WHERE event_id = $1`

	var s entity.CoordinationSession
	err := r.DB.GetContext(ctx, &s, query, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("SessionRepository:GetByEventID", err)
		return nil, err
	}
	return &s, nil
}

// AcquireLease claims the session for one worker. The claim succeeds only
// when no lease is held or the held lease has expired; a re-claim by the
// same holder refreshes the expiry. Returns ErrLeaseHeld when another live
// lease exists so the task queue can retry with backoff.
func (r *SessionRepository) AcquireLease(ctx context.Context, eventID uuid.UUID, holder string, ttl time.Duration) (*entity.CoordinationSession, error) {
	query := `
		UPDATE coordination_sessions
		SET lease_holder = $2, lease_expires_at = NOW() + $3 * INTERVAL '1 second',
		    updated_at = NOW()
		WHERE event_id = $1
		  AND (lease_holder IS NULL OR lease_expires_at < NOW() OR lease_holder = $2)
		RETURNING` + sessionColumns

	var s entity.CoordinationSession
	err := r.DB.GetContext(ctx, &s, query, eventID, holder, int(ttl.Seconds()))
	if err != nil {
		if err == sql.ErrNoRows {
			existing, gerr := r.GetByEventID(ctx, eventID)
			if gerr != nil {
				return nil, gerr
			}
			if existing == nil {
				return nil, sql.ErrNoRows
			}
			return nil, ErrLeaseHeld
		}
		logger.Error("SessionRepository:AcquireLease", err)
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) ReleaseLease(ctx context.Context, eventID uuid.UUID, holder string) error {
	query := `
		UPDATE coordination_sessions
		SET lease_holder = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE event_id = $1 AND lease_holder = $2
	`
	if err := r.DB.ExecContext(ctx, query, eventID, holder); err != nil {
		logger.Error("SessionRepository:ReleaseLease", err)
		return err
	}
	return nil
}

// UpdateVersionedTx persists the session guarded by its version counter.
// s.Version carries the version the caller read; on success the row and the
// struct advance to version+1. Zero rows affected means a concurrent writer
// won and the caller gets ErrVersionConflict.
func (r *SessionRepository) UpdateVersionedTx(ctx context.Context, tx *sqlx.Tx, s *entity.CoordinationSession) error {
	query := `
		UPDATE coordination_sessions
		SET current_phase = $3, previous_phase = $4, version = version + 1,
		    workflow_data = $5, error_log = $6, deadline_at = $7, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	res, err := tx.ExecContext(ctx, query,
		s.ID, s.Version, s.CurrentPhase, s.PreviousPhase,
		s.WorkflowData, s.ErrorLog, s.DeadlineAt)
	if err != nil {
		logger.Error("SessionRepository:UpdateVersionedTx", err)
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		logger.Error("SessionRepository:UpdateVersionedTx:RowsAffected", err)
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

// DueDeadlines lists sessions whose deadline has passed, for the periodic
// sweep. Terminal phases never carry a deadline so no phase filter is needed.
func (r *SessionRepository) DueDeadlines(ctx context.Context, now time.Time, limit int) ([]entity.CoordinationSession, error) {
	query := `
		SELECT` + sessionColumns + `
		FROM coordination_sessions
		WHERE deadline_at IS NOT NULL AND deadline_at <= $1
		ORDER BY deadline_at ASC
		LIMIT $2
	`
	var sessions []entity.CoordinationSession
	if err := r.DB.SelectContext(ctx, &sessions, query, now, limit); err != nil {
		logger.Error("SessionRepository:DueDeadlines", err)
		return nil, err
	}
	return sessions, nil
}
