// Package database opens the shared SQLite handle and holds the
// timestamp encoding every store uses.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TimeFormat is fixed-width UTC so that stored timestamps sort
// lexically in the same order as chronologically.
// Nanoseconds are kept so a stored time equals the one written.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// DateFormat keys per-day artifacts.
const DateFormat = "2006-01-02"

// Open opens (creating if needed) the SQLite database at path with WAL
// journaling and a busy timeout. The parent directory is created.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime decodes a stored timestamp. RFC 3339 values written by
// hand are accepted too.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
