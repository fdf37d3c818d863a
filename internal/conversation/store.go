// Package conversation persists per-user chat transcripts. A
// conversation is only ever rewritten whole: Replace swaps the complete
// message list and side state in one transaction, so the caller owns
// the transcript shape and the store captures it verbatim.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nugget/carepilot/internal/database"
	"github.com/nugget/carepilot/internal/llm"
)

// Sentinel errors.
var (
	ErrExists   = errors.New("conversation already exists")
	ErrNotFound = errors.New("conversation not found")
)

// titleMaxRunes bounds derived titles.
const titleMaxRunes = 50

// Conversation is one user's transcript plus arbitrary side state.
type Conversation struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner"`
	Title     string         `json:"title,omitempty"`
	Messages  []llm.Message  `json:"messages"`
	State     map[string]any `json:"state,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Summary is the listing view of a conversation. Date is the timestamp
// of the last message, or the creation time of an empty conversation.
type Summary struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
}

// Store is the SQLite-backed conversation store. Safe for concurrent
// use; concurrent replaces of the same conversation are last-write-wins.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			title      TEXT,
			state_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			attachment_json TEXT,
			tool_calls_json TEXT,
			tool_call_id    TEXT,
			timestamp       TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_messages_ts ON conversation_messages(timestamp);
	`)
	return err
}

// NewID returns a fresh conversation id (UUIDv7, falling back to v4).
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Create inserts an empty conversation. A second Create with the same
// id returns ErrExists, whoever the owner.
func (s *Store) Create(ctx context.Context, owner, id string) error {
	now := database.FormatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, owner, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrExists
	}
	return nil
}

// Get returns the conversation with its messages in stored order, or
// nil, nil when it does not exist or belongs to another user.
func (s *Store) Get(ctx context.Context, owner, id string) (*Conversation, error) {
	var (
		c                    Conversation
		title, state         sql.NullString
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, title, state_json, created_at, updated_at
		FROM conversations WHERE id = ? AND owner = ?
	`, id, owner).Scan(&c.ID, &c.Owner, &title, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	c.Title = title.String
	if state.Valid && state.String != "" {
		if c.State, err = decodeState(state.String); err != nil {
			return nil, fmt.Errorf("decode conversation state: %w", err)
		}
	}
	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, attachment_json, tool_calls_json, tool_call_id, timestamp
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	c.Messages = []llm.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return &c, nil
}

// decodeState reads stored state back with whole numbers as int and
// other numbers as float64, so integer state set by callers survives a
// round trip unchanged.
func decodeState(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var state map[string]any
	if err := dec.Decode(&state); err != nil {
		return nil, err
	}
	for k, v := range state {
		state[k] = fromJSONNumber(v)
	}
	return state, nil
}

func fromJSONNumber(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = fromJSONNumber(e)
		}
	case []any:
		for i, e := range v {
			v[i] = fromJSONNumber(e)
		}
	}
	return v
}

// Replace overwrites the message list and state of a conversation in
// one transaction. Messages are stored in exactly the order given. A
// non-nil title replaces the stored one. Returns ErrNotFound when the
// conversation does not exist for owner.
func (s *Store) Replace(ctx context.Context, owner, id string, messages []llm.Message, state map[string]any, title *string) error {
	var stateJSON sql.NullString
	if state != nil {
		b, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode conversation state: %w", err)
		}
		stateJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var titleArg any
	if title != nil {
		titleArg = *title
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET state_json = ?, title = COALESCE(?, title), updated_at = ?
		WHERE id = ? AND owner = ?
	`, stateJSON, titleArg, database.FormatTime(time.Now()), id, owner)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_messages
			(conversation_id, seq, role, content, attachment_json, tool_calls_json, tool_call_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		var attachment, toolCalls sql.NullString
		if m.Attachment != nil {
			b, err := json.Marshal(m.Attachment)
			if err != nil {
				return fmt.Errorf("encode attachment of message %d: %w", i, err)
			}
			attachment = sql.NullString{String: string(b), Valid: true}
		}
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls of message %d: %w", i, err)
			}
			toolCalls = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			id, i, string(m.Role), m.Content, attachment, toolCalls, m.ToolCallID, database.FormatTime(m.Timestamp),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// List returns the owner's conversations, most recently active first.
// Ties are broken by id so the listing is stable.
func (s *Store) List(ctx context.Context, owner string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, COALESCE(c.title, ''),
			COALESCE(
				(SELECT m.timestamp FROM conversation_messages m
				 WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1),
				c.created_at) AS last_at
		FROM conversations c
		WHERE c.owner = ?
		ORDER BY last_at DESC, c.id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var last string
		if err := rows.Scan(&sum.ID, &sum.Title, &last); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if sum.Date, err = database.ParseTime(last); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecentMessages returns up to limit user and assistant messages from
// all of owner's conversations stamped at or after since, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) RecentMessages(ctx context.Context, owner string, since time.Time, limit int) ([]llm.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.role, m.content, m.attachment_json, m.tool_calls_json, m.tool_call_id, m.timestamp
		FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.owner = ? AND m.role IN ('user', 'assistant') AND m.content != '' AND m.timestamp >= ?
		ORDER BY m.timestamp DESC, m.seq DESC
		LIMIT ?
	`, owner, database.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessage(rows *sql.Rows) (llm.Message, error) {
	var (
		m                     llm.Message
		role, ts              string
		attachment, toolCalls sql.NullString
		toolCallID            sql.NullString
	)
	if err := rows.Scan(&role, &m.Content, &attachment, &toolCalls, &toolCallID, &ts); err != nil {
		return m, fmt.Errorf("scan message: %w", err)
	}
	m.Role = llm.Role(role)
	m.ToolCallID = toolCallID.String
	if attachment.Valid {
		m.Attachment = &llm.Attachment{}
		if err := json.Unmarshal([]byte(attachment.String), m.Attachment); err != nil {
			return m, fmt.Errorf("decode attachment: %w", err)
		}
	}
	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
			return m, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	var err error
	if m.Timestamp, err = database.ParseTime(ts); err != nil {
		return m, err
	}
	return m, nil
}

// DeriveTitle labels a conversation by its first user message: the
// first line, cut to a readable length.
func DeriveTitle(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role != llm.RoleUser {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > titleMaxRunes {
			r := []rune(line)
			line = strings.TrimSpace(string(r[:titleMaxRunes-3])) + "..."
		}
		return line
	}
	return ""
}
