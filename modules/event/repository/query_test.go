package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"event-coordinator/modules/event/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// recordingDB captures every query string handed to the driver so tests can
// check the SQL assembled from the shared column constants.
type recordingDB struct {
	queries []string
}

func (d *recordingDB) ExecContext(ctx context.Context, query string, args ...any) error {
	d.queries = append(d.queries, query)
	return nil
}

func (d *recordingDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	d.queries = append(d.queries, query)
	return sql.ErrNoRows
}

func (d *recordingDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	d.queries = append(d.queries, query)
	return nil
}

func (d *recordingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	d.queries = append(d.queries, query)
	return nil
}

func (d *recordingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.queries = append(d.queries, query)
	return nil, sql.ErrNoRows
}

func (d *recordingDB) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	d.queries = append(d.queries, query)
	return nil, nil
}

func (d *recordingDB) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (d *recordingDB) SQLx() *sqlx.DB { return nil }

var gluedKeyword = regexp.MustCompile(`\w(?:FROM|WHERE|RETURNING|ORDER|LIMIT)\b|SELECT\w|RETURNING\w`)

func TestEventQueriesKeepKeywordsSeparated(t *testing.T) {
	ctx := context.Background()
	db := &recordingDB{}
	repo := NewEventRepository(db)
	eventID := uuid.New()

	_, _ = repo.GetEventByID(ctx, eventID)
	_, _ = repo.ListEvents(ctx, EventFilter{
		OrganizerID: "UORG",
		ChannelID:   "C123",
		Status:      entity.EventStatusScheduling,
		Limit:       10,
	})
	_, _ = repo.GetParticipantsByEventID(ctx, eventID)
	_, _ = repo.GetVenueByEventID(ctx, eventID)
	_, _ = repo.GetCalendarEntriesByEventID(ctx, eventID)

	if len(db.queries) == 0 {
		t.Fatal("expected queries to be issued")
	}
	for _, q := range db.queries {
		if m := gluedKeyword.FindString(q); m != "" {
			t.Errorf("keyword glued to identifier (%q) in query:\n%s", m, q)
		}
	}
}
