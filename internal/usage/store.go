// Package usage keeps a per-user ledger of model tokens spent by agent
// runs. Records are append-only; reads aggregate over a time window.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/carepilot/internal/database"
)

// Kind names the agent variant that spent the tokens.
type Kind string

// Record kinds.
const (
	KindChat Kind = "chat"
	KindDiet Kind = "diet"
)

// Record is one agent run's token usage.
type Record struct {
	ID             string
	Timestamp      time.Time
	Username       string
	ConversationID string // empty for diet plans
	Kind           Kind
	Model          string
	InputTokens    int
	OutputTokens   int
}

// Summary holds aggregated token totals.
type Summary struct {
	Runs         int   `json:"runs"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store is the ledger on the shared database.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		username TEXT NOT NULL,
		conversation_id TEXT,
		kind TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_timestamp ON usage_records(username, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists rec. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, timestamp, username, conversation_id, kind, model, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, database.FormatTime(rec.Timestamp), rec.Username, rec.ConversationID,
		string(rec.Kind), rec.Model, rec.InputTokens, rec.OutputTokens)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary totals username's records within [start, end).
func (s *Store) Summary(ctx context.Context, username string, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage_records
		WHERE username = ? AND timestamp >= ? AND timestamp < ?
	`, username, database.FormatTime(start), database.FormatTime(end))

	var sum Summary
	if err := row.Scan(&sum.Runs, &sum.InputTokens, &sum.OutputTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel is Summary split per model.
func (s *Store) SummaryByModel(ctx context.Context, username string, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", username, start, end)
}

// SummaryByKind is Summary split per agent variant.
func (s *Store) SummaryByKind(ctx context.Context, username string, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "kind", username, start, end)
}

// column is always one of our own constants, never request input.
func (s *Store) summaryGroupedBy(ctx context.Context, column, username string, start, end time.Time) (map[string]*Summary, error) {
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage_records
		WHERE username = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY %s
	`, column, column)

	rows, err := s.db.QueryContext(ctx, query, username, database.FormatTime(start), database.FormatTime(end))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Runs, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
