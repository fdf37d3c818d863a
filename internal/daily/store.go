package daily

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/carepilot/internal/database"
)

// Artifact kinds cached per (user, date).
const (
	KindQuestions = "daily_questions"
	KindWidgets   = "dashboard_widgets"
)

// Day is one date's submitted answer set.
type Day struct {
	Date    string   `json:"date"` // YYYY-MM-DD
	Answers []Answer `json:"answers"`
}

// Store persists daily answers and the per-day artifact cache.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate daily: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_answers (
			owner        TEXT NOT NULL,
			date         TEXT NOT NULL,
			answers_json TEXT NOT NULL,
			submitted_at TEXT NOT NULL,
			PRIMARY KEY (owner, date)
		);

		CREATE TABLE IF NOT EXISTS daily_artifacts (
			owner        TEXT NOT NULL,
			date         TEXT NOT NULL,
			kind         TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (owner, date, kind)
		);
	`)
	return err
}

// SaveAnswers stores the answer set for date, replacing any earlier
// submission that day.
func (s *Store) SaveAnswers(ctx context.Context, owner string, date time.Time, answers []Answer) error {
	if answers == nil {
		answers = []Answer{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_answers (owner, date, answers_json, submitted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner, date) DO UPDATE SET
			answers_json = excluded.answers_json,
			submitted_at = excluded.submitted_at
	`, owner, date.Format(database.DateFormat), string(b), database.FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	return nil
}

// Days returns owner's answer sets on or after since, oldest first.
func (s *Store) Days(ctx context.Context, owner string, since time.Time) ([]Day, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, answers_json FROM daily_answers
		WHERE owner = ? AND date >= ?
		ORDER BY date ASC
	`, owner, since.Format(database.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	days := []Day{}
	for rows.Next() {
		var d Day
		var raw string
		if err := rows.Scan(&d.Date, &raw); err != nil {
			return nil, fmt.Errorf("scan answers: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &d.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for %s: %w", d.Date, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// Dates returns every date owner submitted answers on, parsed in loc.
func (s *Store) Dates(ctx context.Context, owner string, loc *time.Location) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date FROM daily_answers WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("query answer dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan answer date: %w", err)
		}
		d, err := time.ParseInLocation(database.DateFormat, raw, loc)
		if err != nil {
			return nil, fmt.Errorf("parse answer date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// PutArtifact caches v as JSON under (owner, date, kind).
func (s *Store) PutArtifact(ctx context.Context, kind, owner string, date time.Time, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_artifacts (owner, date, kind, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, date, kind) DO UPDATE SET
			payload_json = excluded.payload_json,
			created_at = excluded.created_at
	`, owner, date.Format(database.DateFormat), kind, string(b), database.FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache %s: %w", kind, err)
	}
	return nil
}

// Artifact decodes the cached artifact into out. It reports false when
// nothing is cached for that day.
func (s *Store) Artifact(ctx context.Context, kind, owner string, date time.Time, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload_json FROM daily_artifacts WHERE owner = ? AND date = ? AND kind = ?
	`, owner, date.Format(database.DateFormat), kind).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", kind, err)
	}
	return true, nil
}
