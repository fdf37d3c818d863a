// Package retrieval stores reference document chunks and finds the
// ones most relevant to a query. Chunks are ranked by embedding
// similarity when an embedder is configured and by term overlap
// otherwise.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/nugget/carepilot/internal/database"
	"github.com/nugget/carepilot/internal/embeddings"
)

// Embedder turns text into a vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Chunk is one stored passage of a source document.
type Chunk struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Seq     int    `json:"seq"`
	Content string `json:"content"`
}

// Result is a chunk with its relevance to the query.
type Result struct {
	Chunk
	Score float32 `json:"score"`
}

// SourceInfo summarizes one ingested document.
type SourceInfo struct {
	Source     string    `json:"source"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Store is the chunk store.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates the schema if needed. embedder may be nil.
func NewStore(db *sql.DB, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, embedder: embedder, logger: logger.With("component", "retrieval")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate retrieval: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS document_chunks (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_document_chunks_source ON document_chunks(source, seq);
	`)
	return err
}

// Replace swaps every chunk of source for the given passages, so a
// document can be re-ingested cleanly. Embedding failures are logged
// and leave the chunk searchable by term overlap only.
func (s *Store) Replace(ctx context.Context, source string, passages []string) (int, error) {
	vectors := make([][]byte, len(passages))
	if s.embedder != nil {
		for i, p := range passages {
			emb, err := s.embedder.Generate(ctx, p)
			if err != nil {
				s.logger.Warn("chunk embedding failed", "source", source, "seq", i, "error", err)
				continue
			}
			vectors[i] = embeddings.Encode(emb)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}

	now := database.FormatTime(time.Now())
	for i, p := range passages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, source, seq, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), source, i, p, vectors[i], now); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("document indexed", "source", source, "chunks", len(passages))
	return len(passages), nil
}

// Delete removes every chunk of source and reports whether any existed.
func (s *Store) Delete(ctx context.Context, source string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE source = ?`, source)
	if err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Sources lists the ingested documents by name.
func (s *Store) Sources(ctx context.Context) ([]SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), MAX(created_at) FROM document_chunks
		GROUP BY source ORDER BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := []SourceInfo{}
	for rows.Next() {
		var si SourceInfo
		var ts string
		if err := rows.Scan(&si.Source, &si.Chunks, &ts); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		si.IngestedAt, _ = database.ParseTime(ts)
		out = append(out, si)
	}
	return out, rows.Err()
}

type row struct {
	chunk Chunk
	emb   []float32
}

// Search returns up to k chunks ranked by relevance to query.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []Result{}, nil
	}

	if s.embedder != nil {
		q, err := s.embedder.Generate(ctx, query)
		if err == nil {
			if res := rankByVector(q, rows, k); len(res) > 0 {
				return res, nil
			}
		} else {
			s.logger.Warn("query embedding failed, ranking by terms", "error", err)
		}
	}
	return rankByTerms(query, rows, k), nil
}

func (s *Store) all(ctx context.Context) ([]row, error) {
	rs, err := s.db.QueryContext(ctx, `
		SELECT id, source, seq, content, embedding FROM document_chunks ORDER BY source, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var r row
		var blob []byte
		if err := rs.Scan(&r.chunk.ID, &r.chunk.Source, &r.chunk.Seq, &r.chunk.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		r.emb = embeddings.Decode(blob)
		out = append(out, r)
	}
	return out, rs.Err()
}

// rankByVector scores the chunks that carry an embedding.
func rankByVector(q []float32, rows []row, k int) []Result {
	var with []row
	var vecs [][]float32
	for _, r := range rows {
		if r.emb != nil {
			with = append(with, r)
			vecs = append(vecs, r.emb)
		}
	}
	var out []Result
	for _, sc := range embeddings.TopK(q, vecs, k) {
		out = append(out, Result{Chunk: with[sc.Index].chunk, Score: sc.Score})
	}
	return out
}

// rankByTerms scores chunks by the fraction of query terms they contain.
// Chunks sharing no term are still returned last, in storage order.
func rankByTerms(query string, rows []row, k int) []Result {
	terms := tokenize(query)
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{Chunk: r.chunk}
		if len(terms) == 0 {
			continue
		}
		words := make(map[string]bool)
		for _, w := range tokenize(r.chunk.Content) {
			words[w] = true
		}
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		out[i].Score = float32(hits) / float32(len(terms))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Format renders results as the text handed to the model: one
// "Source/Content" block per chunk, separated by a blank line.
func Format(results []Result) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("Source: %s\nContent: %s", r.Source, r.Content)
	}
	return strings.Join(blocks, "\n\n")
}
