package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
)

const eventColumns = `id,ts,type,entity_kind,entity_id,actor_id,payload_json`

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int, types ...string) ([]domain.Event, error) {
	b := sq.Select(eventColumns).From("events").Where(sq.Gt{"id": cursor}).OrderBy("id ASC")
	if len(types) > 0 {
		b = b.Where(sq.Eq{"type": types})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var res []domain.Event
	if err := sqlx.SelectContext(ctx, r.DB, &res, query, args...); err != nil {
		return nil, fmt.Errorf("events after %d: %w", cursor, err)
	}
	return res, nil
}

// TailEvents returns the most recent events, newest first.
func (r Repo) TailEvents(ctx context.Context, limit int, entityID string) ([]domain.Event, error) {
	b := sq.Select(eventColumns).From("events").OrderBy("id DESC")
	if entityID != "" {
		b = b.Where(sq.Eq{"entity_id": entityID})
	}
	if limit <= 0 {
		limit = 50
	}
	query, args, err := b.Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}
	var res []domain.Event
	if err := sqlx.SelectContext(ctx, r.DB, &res, query, args...); err != nil {
		return nil, fmt.Errorf("tail events: %w", err)
	}
	return res, nil
}

// Cursor returns the consumer's last processed event id, or ErrNotFound.
func (r Repo) Cursor(ctx context.Context, consumer string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, r.DB, &id, `SELECT last_event_id FROM consumer_cursors WHERE consumer=?`, consumer)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor %s: %w", consumer, err)
	}
	return id, nil
}

// SetCursor moves the consumer's cursor forward; it never moves it back.
func (r Repo) SetCursor(ctx context.Context, consumer string, eventID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO consumer_cursors(consumer,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(consumer) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at
WHERE excluded.last_event_id > consumer_cursors.last_event_id`, consumer, eventID, now)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", consumer, err)
	}
	return nil
}

// EventFailure tracks failed deliveries of one event to one consumer. ParkedAt is
// set once the consumer gave up on the event.
type EventFailure struct {
	Consumer  string  `json:"consumer" db:"consumer"`
	EventID   int64   `json:"event_id" db:"event_id"`
	Attempts  int     `json:"attempts" db:"attempts"`
	LastError string  `json:"last_error" db:"last_error"`
	ParkedAt  *string `json:"parked_at,omitempty" db:"parked_at"`
	UpdatedAt string  `json:"updated_at" db:"updated_at"`
}

// RecordFailure counts a failed delivery and returns the attempts made so far.
func (r Repo) RecordFailure(ctx context.Context, consumer string, eventID int64, reason string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO event_failures(consumer,event_id,attempts,last_error,updated_at) VALUES (?,?,1,?,?)
ON CONFLICT(consumer,event_id) DO UPDATE SET attempts=event_failures.attempts+1, last_error=excluded.last_error, updated_at=excluded.updated_at`,
		consumer, eventID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("record failure %s/%d: %w", consumer, eventID, err)
	}
	var attempts int
	if err := sqlx.GetContext(ctx, r.DB, &attempts, `SELECT attempts FROM event_failures WHERE consumer=? AND event_id=?`, consumer, eventID); err != nil {
		return 0, fmt.Errorf("read failure %s/%d: %w", consumer, eventID, err)
	}
	return attempts, nil
}

func (r Repo) ParkEvent(ctx context.Context, consumer string, eventID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.DB.ExecContext(ctx, `UPDATE event_failures SET parked_at=?, updated_at=? WHERE consumer=? AND event_id=?`,
		now, now, consumer, eventID); err != nil {
		return fmt.Errorf("park %s/%d: %w", consumer, eventID, err)
	}
	return nil
}

// ClearFailure forgets earlier failed attempts once an event was delivered.
func (r Repo) ClearFailure(ctx context.Context, consumer string, eventID int64) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM event_failures WHERE consumer=? AND event_id=? AND parked_at IS NULL`,
		consumer, eventID); err != nil {
		return fmt.Errorf("clear failure %s/%d: %w", consumer, eventID, err)
	}
	return nil
}

// ParkedEvents lists events consumers gave up on, newest first.
func (r Repo) ParkedEvents(ctx context.Context, limit int) ([]EventFailure, error) {
	b := sq.Select("consumer", "event_id", "attempts", "last_error", "parked_at", "updated_at").
		From("event_failures").Where(sq.NotEq{"parked_at": nil}).OrderBy("parked_at DESC", "event_id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var res []EventFailure
	if err := sqlx.SelectContext(ctx, r.DB, &res, query, args...); err != nil {
		return nil, fmt.Errorf("parked events: %w", err)
	}
	return res, nil
}
