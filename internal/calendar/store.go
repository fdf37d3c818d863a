// Package calendar stores per-user calendar events. Meals are ordinary
// events whose description carries the diet tag; the store knows
// nothing about them.
package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/carepilot/internal/database"
)

// ErrInvalidRange is returned when an event ends before it starts.
var ErrInvalidRange = errors.New("event ends before it starts")

// Change actions passed to observers.
const (
	ActionAdded   = "added"
	ActionUpdated = "updated"
	ActionRemoved = "removed"
)

// Event is a single calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Owner       string    `json:"-"`
	Description string    `json:"description"`
	From        time.Time `json:"from_timestamp"`
	To          time.Time `json:"to_timestamp"`
}

// ChangeFunc observes successful mutations. It runs synchronously after
// the write and must not block.
type ChangeFunc func(ctx context.Context, action string, e Event)

// Store is the SQLite-backed calendar. Writes rely on per-statement
// atomicity; there is no cross-call locking.
type Store struct {
	db  *sql.DB
	loc *time.Location

	mu        sync.RWMutex
	observers []ChangeFunc
}

// NewStore creates the schema if needed. Returned times are expressed
// in loc (UTC when nil).
func NewStore(db *sql.DB, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{db: db, loc: loc}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate calendar: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calendar_events (
			id          TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			description TEXT NOT NULL,
			from_ts     TEXT NOT NULL,
			to_ts       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_calendar_owner_from ON calendar_events(owner, from_ts);
	`)
	return err
}

// Location is the zone events are reported in.
func (s *Store) Location() *time.Location { return s.loc }

// Observe registers fn to be told about every mutation.
func (s *Store) Observe(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(ctx context.Context, action string, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.observers {
		fn(ctx, action, e)
	}
}

// Add creates an event and returns it.
func (s *Store) Add(ctx context.Context, owner, description string, from, to time.Time) (*Event, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e := Event{ID: id.String(), Owner: owner, Description: description, From: from.In(s.loc), To: to.In(s.loc)}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, owner, description, from_ts, to_ts)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, owner, description, database.FormatTime(from), database.FormatTime(to)); err != nil {
		return nil, fmt.Errorf("add event: %w", err)
	}
	s.notify(ctx, ActionAdded, e)
	return &e, nil
}

// Edit overwrites an event. It reports false when owner has no event
// with that id.
func (s *Store) Edit(ctx context.Context, owner, id, description string, from, to time.Time) (bool, error) {
	if to.Before(from) {
		return false, ErrInvalidRange
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE calendar_events SET description = ?, from_ts = ?, to_ts = ?
		WHERE id = ? AND owner = ?
	`, description, database.FormatTime(from), database.FormatTime(to), id, owner)
	if err != nil {
		return false, fmt.Errorf("edit event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("edit event: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.notify(ctx, ActionUpdated, Event{ID: id, Owner: owner, Description: description, From: from.In(s.loc), To: to.In(s.loc)})
	return true, nil
}

// Remove deletes an event. It reports false when owner has no event
// with that id.
func (s *Store) Remove(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return false, fmt.Errorf("remove event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove event: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.notify(ctx, ActionRemoved, Event{ID: id, Owner: owner})
	return true, nil
}

// List returns all of owner's events in start order.
func (s *Store) List(ctx context.Context, owner string) ([]Event, error) {
	return s.query(ctx, `
		SELECT id, owner, description, from_ts, to_ts FROM calendar_events
		WHERE owner = ? ORDER BY from_ts ASC, id ASC
	`, owner)
}

// Between returns owner's events starting in [from, to).
func (s *Store) Between(ctx context.Context, owner string, from, to time.Time) ([]Event, error) {
	return s.query(ctx, `
		SELECT id, owner, description, from_ts, to_ts FROM calendar_events
		WHERE owner = ? AND from_ts >= ? AND from_ts < ?
		ORDER BY from_ts ASC, id ASC
	`, owner, database.FormatTime(from), database.FormatTime(to))
}

// Next returns the first event starting after t, or nil.
func (s *Store) Next(ctx context.Context, owner string, t time.Time) (*Event, error) {
	events, err := s.query(ctx, `
		SELECT id, owner, description, from_ts, to_ts FROM calendar_events
		WHERE owner = ? AND from_ts > ?
		ORDER BY from_ts ASC, id ASC LIMIT 1
	`, owner, database.FormatTime(t))
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var from, to string
		if err := rows.Scan(&e.ID, &e.Owner, &e.Description, &from, &to); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.From, err = database.ParseTime(from); err != nil {
			return nil, err
		}
		if e.To, err = database.ParseTime(to); err != nil {
			return nil, err
		}
		e.From, e.To = e.From.In(s.loc), e.To.In(s.loc)
		events = append(events, e)
	}
	return events, rows.Err()
}
