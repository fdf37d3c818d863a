package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nugget/carepilot/internal/database"
)

// Store handles execution persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate scheduler: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scheduler_executions (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		day TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL,
		result TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scheduler_executions_job_day ON scheduler_executions(job, day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// CreateExecution records the start of a run.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_executions (id, job, day, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.Job, e.Day, database.FormatTime(e.StartedAt), string(e.Status))
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// UpdateExecution records the outcome of a run.
func (s *Store) UpdateExecution(ctx context.Context, e *Execution) error {
	var completed sql.NullString
	if e.CompletedAt != nil {
		completed = sql.NullString{String: database.FormatTime(*e.CompletedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_executions SET completed_at = ?, status = ?, result = ?
		WHERE id = ?
	`, completed, string(e.Status), e.Result, e.ID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// LastCompletedDay returns the most recent day job completed
// successfully, or "" when it never has.
func (s *Store) LastCompletedDay(ctx context.Context, job string) (string, error) {
	var day string
	err := s.db.QueryRowContext(ctx, `
		SELECT day FROM scheduler_executions
		WHERE job = ? AND status = ?
		ORDER BY day DESC LIMIT 1
	`, job, string(StatusCompleted)).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last completed day: %w", err)
	}
	return day, nil
}

// ListExecutions returns job's runs, newest first.
func (s *Store) ListExecutions(ctx context.Context, job string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, day, started_at, completed_at, status, result
		FROM scheduler_executions
		WHERE job = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var (
			e                 Execution
			started, status   string
			completed, result sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Job, &e.Day, &started, &completed, &status, &result); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if e.StartedAt, err = database.ParseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := database.ParseTime(completed.String)
			if err != nil {
				return nil, err
			}
			e.CompletedAt = &t
		}
		e.Status = ExecutionStatus(status)
		e.Result = result.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
