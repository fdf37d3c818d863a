package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"04:00", TimeOfDay{4, 0}, false},
		{"23:59", TimeOfDay{23, 59}, false},
		{"4am", TimeOfDay{}, true},
		{"", TimeOfDay{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := TimeOfDay{Hour: 4}
	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"before today's run", time.Date(2025, 11, 7, 3, 0, 0, 0, loc), time.Date(2025, 11, 7, 4, 0, 0, 0, loc)},
		{"exactly at run", time.Date(2025, 11, 7, 4, 0, 0, 0, loc), time.Date(2025, 11, 8, 4, 0, 0, 0, loc)},
		{"after today's run", time.Date(2025, 11, 7, 18, 0, 0, 0, loc), time.Date(2025, 11, 8, 4, 0, 0, 0, loc)},
		{"month end", time.Date(2025, 11, 30, 5, 0, 0, 0, loc), time.Date(2025, 12, 1, 4, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := at.NextRun(tt.after); !got.Equal(tt.want) {
				t.Errorf("NextRun = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrigger_RecordsExecution(t *testing.T) {
	store := newTestStore(t)
	s := New(nil, store, nil, time.UTC, TimeOfDay{Hour: 4})
	s.Register("ok", func(context.Context, time.Time) error { return nil })
	s.Register("broken", func(context.Context, time.Time) error { return errors.New("model offline") })
	ctx := context.Background()

	exec, err := s.Trigger(ctx, "ok")
	if err != nil || exec.Status != StatusCompleted {
		t.Fatalf("Trigger ok = %+v, %v", exec, err)
	}
	if _, err := s.Trigger(ctx, "broken"); err == nil {
		t.Error("Trigger broken returned nil error")
	}
	if _, err := s.Trigger(ctx, "missing"); err == nil {
		t.Error("Trigger missing returned nil error")
	}

	runs, err := store.ListExecutions(ctx, "broken", 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListExecutions = %v, %v", runs, err)
	}
	if runs[0].Status != StatusFailed || runs[0].Result != "model offline" || runs[0].CompletedAt == nil {
		t.Errorf("execution = %+v", runs[0])
	}

	day, err := store.LastCompletedDay(ctx, "ok")
	if err != nil || day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("LastCompletedDay = %q, %v", day, err)
	}
	if day, _ := store.LastCompletedDay(ctx, "broken"); day != "" {
		t.Errorf("failed run counted as completed: %q", day)
	}
}

func TestStart_CatchesUpMissedRun(t *testing.T) {
	store := newTestStore(t)
	s := New(nil, store, nil, time.UTC, TimeOfDay{Hour: 4})
	s.now = func() time.Time { return time.Date(2025, 11, 7, 9, 0, 0, 0, time.UTC) }

	var runs atomic.Int32
	s.Register("pregen", func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if runs.Load() != 1 {
		t.Fatalf("runs after first start = %d, want 1", runs.Load())
	}

	// Already done today: a restart does not run again.
	s2 := New(nil, store, nil, time.UTC, TimeOfDay{Hour: 4})
	s2.now = s.now
	s2.Register("pregen", func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	})
	s2.Start(context.Background())
	s2.Stop()
	if runs.Load() != 1 {
		t.Errorf("runs after restart = %d, want 1", runs.Load())
	}
}

func TestStart_NotYetDue(t *testing.T) {
	s := New(nil, newTestStore(t), nil, time.UTC, TimeOfDay{Hour: 4})
	s.now = func() time.Time { return time.Date(2025, 11, 7, 3, 0, 0, 0, time.UTC) }
	var runs atomic.Int32
	s.Register("pregen", func(context.Context, time.Time) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())
	s.Stop()
	if runs.Load() != 0 {
		t.Errorf("ran before its time: %d", runs.Load())
	}
}

type staticUsers []string

func (u staticUsers) Usernames(context.Context) ([]string, error) { return u, nil }

func TestForEachUser(t *testing.T) {
	var calls []string
	record := func(kind string) UserFunc {
		return func(_ context.Context, name string, _ time.Time) error {
			calls = append(calls, kind+":"+name)
			if name == "bob" && kind == "widgets" {
				return errors.New("boom")
			}
			return nil
		}
	}
	job := ForEachUser(staticUsers{"alice", "bob"}, nil, record("questions"), record("widgets"))

	err := job(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "bob: boom") {
		t.Errorf("err = %v", err)
	}
	want := "questions:alice,widgets:alice,questions:bob,widgets:bob"
	if got := strings.Join(calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}
