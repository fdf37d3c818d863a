package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	recs := []Record{
		{Timestamp: now, Username: "alice", ConversationID: "c1", Kind: KindChat, Model: "qwen3:4b", InputTokens: 100, OutputTokens: 20},
		{Timestamp: now.Add(time.Minute), Username: "alice", ConversationID: "c1", Kind: KindChat, Model: "qwen3:4b", InputTokens: 150, OutputTokens: 30},
		{Timestamp: now.Add(2 * time.Minute), Username: "alice", Kind: KindDiet, Model: "llama3", InputTokens: 400, OutputTokens: 200},
		{Timestamp: now, Username: "bob", Kind: KindChat, Model: "qwen3:4b", InputTokens: 999, OutputTokens: 999},
		{Timestamp: now.Add(-48 * time.Hour), Username: "alice", Kind: KindChat, Model: "qwen3:4b", InputTokens: 5, OutputTokens: 5},
	}
	for _, r := range recs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	sum, err := s.Summary(ctx, "alice", start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Runs != 3 || sum.InputTokens != 650 || sum.OutputTokens != 250 {
		t.Errorf("Summary = %+v, want 3 runs, 650 in, 250 out", sum)
	}

	byModel, err := s.SummaryByModel(ctx, "alice", start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 || byModel["qwen3:4b"].Runs != 2 || byModel["llama3"].OutputTokens != 200 {
		t.Errorf("SummaryByModel = %v", byModel)
	}

	byKind, err := s.SummaryByKind(ctx, "alice", start, end)
	if err != nil {
		t.Fatalf("SummaryByKind: %v", err)
	}
	if byKind[string(KindDiet)] == nil || byKind[string(KindDiet)].Runs != 1 {
		t.Errorf("SummaryByKind = %v", byKind)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	sum, err := s.Summary(ctx, "nobody", now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Runs != 0 || sum.InputTokens != 0 {
		t.Errorf("Summary = %+v, want zero", sum)
	}
	byModel, err := s.SummaryByModel(ctx, "nobody", now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 0 {
		t.Errorf("SummaryByModel = %v, want empty", byModel)
	}
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Record{Username: "alice", Kind: KindChat, Model: "m"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	var id, ts string
	if err := s.db.QueryRow(`SELECT id, timestamp FROM usage_records`).Scan(&id, &ts); err != nil {
		t.Fatalf("query: %v", err)
	}
	if id == "" || ts == "" {
		t.Errorf("id = %q, timestamp = %q", id, ts)
	}
}
