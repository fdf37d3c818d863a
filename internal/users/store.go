// Package users stores accounts and health profiles.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/carepilot/internal/database"
)

// Sentinel errors.
var (
	ErrExists             = errors.New("user already exists")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidProfile     = errors.New("invalid profile")
)

// Account status values.
const (
	StatusSetup    = "setup"
	StatusFinished = "finished"
)

// User is an account plus its health profile.
type User struct {
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	Status         string    `json:"status"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Age            int       `json:"age,omitempty"`
	Height         int       `json:"height,omitempty"`
	Gender         string    `json:"gender,omitempty"`
	Allergies      string    `json:"allergies,omitempty"`
	Issues         string    `json:"issues,omitempty"`
	Goal           string    `json:"goal,omitempty"`
	PatientSummary string    `json:"patient_summary,omitempty"`
	RecentSummary  string    `json:"recent_summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Profile is the setup questionnaire payload.
type Profile struct {
	FirstName string
	LastName  string
	Age       int
	Height    int
	Gender    string
	Allergies string
	Issues    string
	Goal      string
}

// Validate checks the fields the questionnaire constrains.
func (p Profile) Validate() error {
	switch p.Gender {
	case "male", "female", "other":
	default:
		return fmt.Errorf("%w: gender must be male, female or other", ErrInvalidProfile)
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("%w: age %d out of range", ErrInvalidProfile, p.Age)
	}
	if p.Height < 0 || p.Height > 300 {
		return fmt.Errorf("%w: height %d out of range", ErrInvalidProfile, p.Height)
	}
	return nil
}

// Store is the SQLite-backed user store.
type Store struct {
	db   *sql.DB
	cost int
}

// NewStore creates the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, cost: bcrypt.DefaultCost}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			username        TEXT PRIMARY KEY,
			password_hash   TEXT NOT NULL,
			status          TEXT NOT NULL,
			first_name      TEXT NOT NULL DEFAULT '',
			last_name       TEXT NOT NULL DEFAULT '',
			age             INTEGER NOT NULL DEFAULT 0,
			height          INTEGER NOT NULL DEFAULT 0,
			gender          TEXT NOT NULL DEFAULT '',
			allergies       TEXT NOT NULL DEFAULT '',
			issues          TEXT NOT NULL DEFAULT '',
			goal            TEXT NOT NULL DEFAULT '',
			patient_summary TEXT NOT NULL DEFAULT '',
			recent_summary  TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
	`)
	return err
}

// Register creates an account in setup status.
func (s *Store) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := database.FormatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`, username, string(hash), StatusSetup, now, now)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrExists
	}
	return nil
}

// Authenticate returns the user when the password matches. Unknown
// users and wrong passwords both yield ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns the user or nil, nil when absent.
func (s *Store) Get(ctx context.Context, username string) (*User, error) {
	var (
		u                    User
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, status, first_name, last_name, age, height, gender,
		       allergies, issues, goal, patient_summary, recent_summary, created_at, updated_at
		FROM users WHERE username = ?
	`, username).Scan(&u.Username, &u.PasswordHash, &u.Status, &u.FirstName, &u.LastName, &u.Age, &u.Height,
		&u.Gender, &u.Allergies, &u.Issues, &u.Goal, &u.PatientSummary, &u.RecentSummary, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CompleteSetup stores the profile and marks setup finished. A non-nil
// patientSummary replaces the stored one.
func (s *Store) CompleteSetup(ctx context.Context, username string, p Profile, patientSummary *string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var summary any
	if patientSummary != nil {
		summary = *patientSummary
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			first_name = ?, last_name = ?, age = ?, height = ?, gender = ?,
			allergies = ?, issues = ?, goal = ?, status = ?,
			patient_summary = COALESCE(?, patient_summary),
			updated_at = ?
		WHERE username = ?
	`, p.FirstName, p.LastName, p.Age, p.Height, p.Gender, p.Allergies, p.Issues, p.Goal, StatusFinished,
		summary, database.FormatTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRow(res)
}

// SetRecentSummary stores the rolling summary of recent messages.
func (s *Store) SetRecentSummary(ctx context.Context, username, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET recent_summary = ?, updated_at = ? WHERE username = ?
	`, summary, database.FormatTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("set recent summary: %w", err)
	}
	return requireRow(res)
}

// Usernames lists every account with a finished setup, sorted.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users WHERE status = ? ORDER BY username`, StatusFinished)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
