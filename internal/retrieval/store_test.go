package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is
// predictable.
type keywordEmbedder struct {
	vocab []string
	fail  bool
}

func (k *keywordEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	if k.fail {
		return nil, errors.New("embedder offline")
	}
	text = strings.ToLower(text)
	v := make([]float32, len(k.vocab))
	for i, w := range k.vocab {
		if strings.Contains(text, w) {
			v[i] = 1
		}
	}
	return v, nil
}

func newTestStore(t *testing.T, emb Embedder) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, emb, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

var passages = []string{
	"Migraine attacks often come with nausea and sensitivity to light.",
	"Hydration: adults should drink around two liters of water per day.",
	"Tension headaches feel like a tight band around the head.",
}

func TestSearch_Vector(t *testing.T) {
	emb := &keywordEmbedder{vocab: []string{"migraine", "water", "head"}}
	s := newTestStore(t, emb)
	ctx := t.Context()

	if n, err := s.Replace(ctx, "guide.md", passages); err != nil || n != 3 {
		t.Fatalf("Replace = %d, %v", n, err)
	}

	res, err := s.Search(ctx, "how much water", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if !strings.HasPrefix(res[0].Content, "Hydration") || res[0].Score < 0.99 {
		t.Errorf("top result = %+v", res[0])
	}
	if res[0].Source != "guide.md" || res[0].Seq != 1 {
		t.Errorf("chunk metadata = %+v", res[0].Chunk)
	}
}

func TestSearch_TermFallback(t *testing.T) {
	emb := &keywordEmbedder{vocab: []string{"x"}}
	s := newTestStore(t, emb)
	ctx := t.Context()
	s.Replace(ctx, "guide.md", passages)

	emb.fail = true
	res, err := s.Search(ctx, "tension headaches", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 || !strings.HasPrefix(res[0].Content, "Tension") {
		t.Errorf("results = %+v", res)
	}
}

func TestSearch_NoEmbedder(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := t.Context()

	res, err := s.Search(ctx, "anything", 2)
	if err != nil || len(res) != 0 {
		t.Fatalf("empty store Search = %v, %v", res, err)
	}

	s.Replace(ctx, "guide.md", passages)
	res, _ = s.Search(ctx, "nausea with migraine", 1)
	if len(res) != 1 || !strings.HasPrefix(res[0].Content, "Migraine") {
		t.Errorf("results = %+v", res)
	}
}

func TestReplaceAndSources(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := t.Context()

	s.Replace(ctx, "b.md", passages)
	s.Replace(ctx, "a.md", passages[:1])
	s.Replace(ctx, "b.md", passages[:2])

	srcs, err := s.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(srcs) != 2 || srcs[0].Source != "a.md" || srcs[1].Chunks != 2 {
		t.Errorf("sources = %+v", srcs)
	}
	if srcs[0].IngestedAt.IsZero() {
		t.Error("ingest time not recorded")
	}

	if ok, _ := s.Delete(ctx, "a.md"); !ok {
		t.Error("Delete a.md reported nothing removed")
	}
	if ok, _ := s.Delete(ctx, "a.md"); ok {
		t.Error("second Delete should report false")
	}
}

func TestFormat(t *testing.T) {
	got := Format([]Result{
		{Chunk: Chunk{Source: "a.md", Content: "one"}},
		{Chunk: Chunk{Source: "b.md", Content: "two"}},
	})
	want := "Source: a.md\nContent: one\n\nSource: b.md\nContent: two"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}
