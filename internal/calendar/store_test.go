package calendar

import (
	"context"
	"database/sql"
	"errors"
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

	s, err := NewStore(db, time.UTC)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func day(h, m int) time.Time {
	return time.Date(2025, 11, 7, h, m, 0, 0, time.UTC)
}

func TestAddAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	late, err := s.Add(ctx, "alice", "Physio", day(15, 0), day(16, 0))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if late.ID == "" {
		t.Fatal("Add returned empty ID")
	}
	if _, err := s.Add(ctx, "alice", "Diet - Breakfast: oats", day(8, 0), day(8, 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, "bob", "Dentist", day(9, 0), day(10, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	events, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("List returned %d events, want 2", len(events))
	}
	if events[0].Description != "Diet - Breakfast: oats" || events[1].ID != late.ID {
		t.Errorf("events not in start order: %+v", events)
	}
	if !events[1].From.Equal(day(15, 0)) || !events[1].To.Equal(day(16, 0)) {
		t.Errorf("times = %v..%v", events[1].From, events[1].To)
	}
}

func TestAdd_InvalidRange(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(t.Context(), "alice", "x", day(12, 0), day(11, 0)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Add() error = %v, want ErrInvalidRange", err)
	}
}

func TestBetween_HalfOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	mustAdd := func(desc string, from time.Time) {
		if _, err := s.Add(ctx, "alice", desc, from, from.Add(30*time.Minute)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	mustAdd("midnight", day(0, 0))
	mustAdd("noon", day(12, 0))
	mustAdd("next midnight", day(0, 0).Add(24*time.Hour))

	events, err := s.Between(ctx, "alice", day(0, 0), day(0, 0).Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if len(events) != 2 || events[0].Description != "midnight" || events[1].Description != "noon" {
		t.Errorf("Between = %+v", events)
	}
}

func TestEditAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	e, err := s.Add(ctx, "alice", "Lunch", day(12, 0), day(12, 30))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err := s.Edit(ctx, "bob", e.ID, "hijack", day(1, 0), day(2, 0))
	if err != nil || ok {
		t.Errorf("Edit by another owner = %v, %v; want false, nil", ok, err)
	}

	ok, err = s.Edit(ctx, "alice", e.ID, "Late lunch", day(13, 0), day(13, 30))
	if err != nil || !ok {
		t.Fatalf("Edit = %v, %v", ok, err)
	}
	events, _ := s.List(ctx, "alice")
	if events[0].Description != "Late lunch" || !events[0].From.Equal(day(13, 0)) {
		t.Errorf("after edit: %+v", events[0])
	}

	if ok, err := s.Remove(ctx, "alice", "missing"); err != nil || ok {
		t.Errorf("Remove missing = %v, %v", ok, err)
	}
	if ok, err := s.Remove(ctx, "alice", e.ID); err != nil || !ok {
		t.Errorf("Remove = %v, %v", ok, err)
	}
	if events, _ := s.List(ctx, "alice"); len(events) != 0 {
		t.Errorf("events after remove = %d", len(events))
	}
}

func TestNext(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	got, err := s.Next(ctx, "alice", day(0, 0))
	if err != nil || got != nil {
		t.Fatalf("Next on empty calendar = %v, %v", got, err)
	}

	s.Add(ctx, "alice", "past", day(6, 0), day(7, 0))
	s.Add(ctx, "alice", "soon", day(14, 0), day(15, 0))
	s.Add(ctx, "alice", "later", day(18, 0), day(19, 0))

	got, err = s.Next(ctx, "alice", day(9, 0))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.Description != "soon" {
		t.Errorf("Next = %+v, want soon", got)
	}
}

func TestObserve(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	var actions []string
	s.Observe(func(_ context.Context, action string, e Event) {
		actions = append(actions, action+":"+e.Owner)
	})

	e, _ := s.Add(ctx, "alice", "x", day(1, 0), day(2, 0))
	s.Edit(ctx, "alice", e.ID, "y", day(1, 0), day(2, 0))
	s.Edit(ctx, "alice", "missing", "y", day(1, 0), day(2, 0))
	s.Remove(ctx, "alice", e.ID)

	want := []string{"added:alice", "updated:alice", "removed:alice"}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("actions[%d] = %s, want %s", i, actions[i], want[i])
		}
	}
}

func TestLocation(t *testing.T) {
	db, _ := sql.Open("sqlite", ":memory:")
	db.SetMaxOpenConns(1)
	defer db.Close()

	berlin := time.FixedZone("CET", 3600)
	s, err := NewStore(db, berlin)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Add(t.Context(), "alice", "x", day(11, 0), day(11, 30))

	events, _ := s.List(t.Context(), "alice")
	if events[0].From.Hour() != 12 || events[0].From.Location() != berlin {
		t.Errorf("From = %v, want 12:00 CET", events[0].From)
	}
}
