package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"event-coordinator/core/database"
	"event-coordinator/core/logger"
	"event-coordinator/modules/event/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventRepository handles event aggregate persistence: events, participants,
// venues and calendar entries. Mutations that accompany a phase transition
// take the orchestrator's transaction so the aggregate and the session
// version advance together.
type EventRepository struct {
	DB database.IDatabase
}

func NewEventRepository(db database.IDatabase) *EventRepository {
	return &EventRepository{DB: db}
}

type EventRepositoryInterface interface {
	CreateEventTx(ctx context.Context, tx *sqlx.Tx, event *entity.Event) error
	GetEventByID(ctx context.Context, id uuid.UUID) (*entity.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]entity.Event, error)
	UpdateEventTx(ctx context.Context, tx *sqlx.Tx, event *entity.Event) error

	AddParticipantTx(ctx context.Context, tx *sqlx.Tx, p *entity.Participant) error
	GetParticipantsByEventID(ctx context.Context, eventID uuid.UUID) ([]entity.Participant, error)
	UpdateParticipantTx(ctx context.Context, tx *sqlx.Tx, p *entity.Participant) error

	UpsertVenueTx(ctx context.Context, tx *sqlx.Tx, v *entity.Venue) error
	GetVenueByEventID(ctx context.Context, eventID uuid.UUID) (*entity.Venue, error)

	InsertCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, e *entity.CalendarEntry) error
	GetCalendarEntriesByEventID(ctx context.Context, eventID uuid.UUID) ([]entity.CalendarEntry, error)
	CancelCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, at time.Time) error
}

// EventFilter narrows ListEvents; zero values are ignored.
type EventFilter struct {
	OrganizerID string
	ChannelID   string
	Status      entity.EventStatus
	Limit       int
}

const eventColumns = `
	id, channel_id, organizer_id, kind, purpose, title, status,
	scheduled_start, duration_minutes, venue_id, thread_ts, preferences,
	created_at, updated_at`

func (r *EventRepository) CreateEventTx(ctx context.Context, tx *sqlx.Tx, event *entity.Event) error {
	query := `
		INSERT INTO events (id, channel_id, organizer_id, kind, purpose, title, status,
		                    duration_minutes, thread_ts, preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID, event.ChannelID, event.OrganizerID, event.Kind, event.Purpose,
		event.Title, event.Status, event.DurationMinutes, event.ThreadTS, event.Preferences)
	if err != nil {
		logger.Error("EventRepository:CreateEventTx", err)
		return err
	}
	return nil
}

func (r *EventRepository) GetEventByID(ctx context.Context, id uuid.UUID) (*entity.Event, error) {
	query := `SELECT` + eventColumns + `
		FROM events WHERE id = $1`

	var event entity.Event
	err := r.DB.GetContext(ctx, &event, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetEventByID", err)
		return nil, err
	}
	return &event, nil
}

func (r *EventRepository) ListEvents(ctx context.Context, filter EventFilter) ([]entity.Event, error) {
	query := `SELECT` + eventColumns + `
		FROM events WHERE 1=1`
	args := []any{}
	n := 1

	if filter.OrganizerID != "" {
		query += ` AND organizer_id = $` + strconv.Itoa(n)
		args = append(args, filter.OrganizerID)
		n++
	}
	if filter.ChannelID != "" {
		query += ` AND channel_id = $` + strconv.Itoa(n)
		args = append(args, filter.ChannelID)
		n++
	}
	if filter.Status != "" {
		query += ` AND status = $` + strconv.Itoa(n)
		args = append(args, filter.Status)
		n++
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(n)
		args = append(args, filter.Limit)
	}

	var events []entity.Event
	if err := r.DB.SelectContext(ctx, &events, query, args...); err != nil {
		logger.Error("EventRepository:ListEvents", err)
		return nil, err
	}
	return events, nil
}

func (r *EventRepository) UpdateEventTx(ctx context.Context, tx *sqlx.Tx, event *entity.Event) error {
	query := `
		UPDATE events
		SET title = $2, status = $3, scheduled_start = $4, duration_minutes = $5,
		    venue_id = $6, thread_ts = $7, preferences = $8, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID, event.Title, event.Status, event.ScheduledStart,
		event.DurationMinutes, event.VenueID, event.ThreadTS, event.Preferences)
	if err != nil {
		logger.Error("EventRepository:UpdateEventTx", err)
		return err
	}
	return nil
}

// ===================== Participants =====================

func (r *EventRepository) AddParticipantTx(ctx context.Context, tx *sqlx.Tx, p *entity.Participant) error {
	query := `
		INSERT INTO participants (id, event_id, user_ref, display_name, status, availability, calendar_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, user_ref) DO NOTHING
	`
	_, err := tx.ExecContext(ctx, query,
		p.ID, p.EventID, p.UserRef, p.DisplayName, p.Status, p.Availability, p.CalendarEmail)
	if err != nil {
		logger.Error("EventRepository:AddParticipantTx", err)
		return err
	}
	return nil
}

func (r *EventRepository) GetParticipantsByEventID(ctx context.Context, eventID uuid.UUID) ([]entity.Participant, error) {
	query := `
		SELECT id, event_id, user_ref, display_name, status, availability, dietary,
		       calendar_email, last_contacted_at, last_reminded_at, reminders_sent,
		       created_at, updated_at
		FROM participants
		WHERE event_id = $1
		ORDER BY created_at ASC
	`
	var participants []entity.Participant
	if err := r.DB.SelectContext(ctx, &participants, query, eventID); err != nil {
		logger.Error("EventRepository:GetParticipantsByEventID", err)
		return nil, err
	}
	return participants, nil
}

func (r *EventRepository) UpdateParticipantTx(ctx context.Context, tx *sqlx.Tx, p *entity.Participant) error {
	query := `
		UPDATE participants
		SET status = $2, availability = $3, dietary = $4, calendar_email = $5,
		    last_contacted_at = $6, last_reminded_at = $7, reminders_sent = $8,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		p.ID, p.Status, p.Availability, p.Dietary, p.CalendarEmail,
		p.LastContactedAt, p.LastRemindedAt, p.RemindersSent)
	if err != nil {
		logger.Error("EventRepository:UpdateParticipantTx", err)
		return err
	}
	return nil
}

// ===================== Venue =====================

func (r *EventRepository) UpsertVenueTx(ctx context.Context, tx *sqlx.Tx, v *entity.Venue) error {
	query := `
		INSERT INTO venues (id, event_id, type, name, address, capacity, booking_status,
		                    booking_reference, cost_per_person, rating, provider, provider_ref, map_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO UPDATE
		SET type = EXCLUDED.type, name = EXCLUDED.name, address = EXCLUDED.address,
		    capacity = EXCLUDED.capacity, booking_status = EXCLUDED.booking_status,
		    booking_reference = EXCLUDED.booking_reference,
		    cost_per_person = EXCLUDED.cost_per_person, rating = EXCLUDED.rating,
		    provider = EXCLUDED.provider, provider_ref = EXCLUDED.provider_ref,
		    map_url = EXCLUDED.map_url, updated_at = NOW()
	`
	_, err := tx.ExecContext(ctx, query,
		v.ID, v.EventID, v.Type, v.Name, v.Address, v.Capacity, v.BookingStatus,
		v.BookingReference, v.CostPerPerson, v.Rating, v.Provider, v.ProviderRef, v.MapURL)
	if err != nil {
		logger.Error("EventRepository:UpsertVenueTx", err)
		return err
	}
	return nil
}

func (r *EventRepository) GetVenueByEventID(ctx context.Context, eventID uuid.UUID) (*entity.Venue, error) {
	query := `
		SELECT id, event_id, type, name, address, capacity, booking_status,
		       booking_reference, cost_per_person, rating, provider, provider_ref,
		       map_url, created_at, updated_at
		FROM venues WHERE event_id = $1
	`
	var venue entity.Venue
	err := r.DB.GetContext(ctx, &venue, query, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("EventRepository:GetVenueByEventID", err)
		return nil, err
	}
	return &venue, nil
}

// ===================== Calendar entries =====================

func (r *EventRepository) InsertCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, e *entity.CalendarEntry) error {
	query := `
		INSERT INTO calendar_entries (id, event_id, participant_id, calendar_email,
		                              start_time, end_time, location, provider_event_id,
		                              resource_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.EventID, e.ParticipantID, e.CalendarEmail, e.StartTime, e.EndTime,
		e.Location, e.ProviderEventID, e.ResourceID, e.Status)
	if err != nil {
		logger.Error("EventRepository:InsertCalendarEntryTx", err)
		return err
	}
	return nil
}

func (r *EventRepository) GetCalendarEntriesByEventID(ctx context.Context, eventID uuid.UUID) ([]entity.CalendarEntry, error) {
	query := `
		SELECT id, event_id, participant_id, calendar_email, start_time, end_time,
		       location, provider_event_id, resource_id, status, cancelled_at, created_at
		FROM calendar_entries
		WHERE event_id = $1
		ORDER BY created_at ASC
	`
	var entries []entity.CalendarEntry
	if err := r.DB.SelectContext(ctx, &entries, query, eventID); err != nil {
		logger.Error("EventRepository:GetCalendarEntriesByEventID", err)
		return nil, err
	}
	return entries, nil
}

func (r *EventRepository) CancelCalendarEntryTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE calendar_entries SET cancelled_at = $2 WHERE id = $1 AND cancelled_at IS NULL`
	if _, err := tx.ExecContext(ctx, query, id, at); err != nil {
		logger.Error("EventRepository:CancelCalendarEntryTx", err)
		return err
	}
	return nil
}

