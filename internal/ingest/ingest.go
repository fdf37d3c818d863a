// Package ingest turns reference documents into retrieval chunks.
// Markdown is split at its headings, HTML is reduced to its visible
// text, and every piece is cut into overlapping chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for documents that are not text.
var ErrUnsupported = errors.New("unsupported document type")

// ErrEmpty is returned when a document contains no text.
var ErrEmpty = errors.New("document has no text")

// Sink stores the chunks of one source, replacing earlier ones.
type Sink interface {
	Replace(ctx context.Context, source string, passages []string) (int, error)
}

// Ingester chunks documents into a Sink.
type Ingester struct {
	sink    Sink
	size    int
	overlap int
	logger  *slog.Logger
}

// New creates an ingester with the default chunk size and overlap.
func New(sink Sink, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		sink:    sink,
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		logger:  logger.With("component", "ingest"),
	}
}

// IngestFile reads path and stores it under its base name.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return in.Ingest(ctx, filepath.Base(path), data)
}

// Ingest chunks data and stores it under source. The file extension of
// source selects the parser.
func (in *Ingester) Ingest(ctx context.Context, source string, data []byte) (int, error) {
	passages, err := Passages(source, data, in.size, in.overlap)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", source, err)
	}
	n, err := in.sink.Replace(ctx, source, passages)
	if err != nil {
		return 0, err
	}
	in.logger.Info("document ingested", "source", source, "bytes", len(data), "chunks", n)
	return n, nil
}

// Passages extracts the text of a document and cuts it into chunks.
func Passages(name string, data []byte, size, overlap int) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, ErrUnsupported
	}

	var out []string
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		for _, sec := range parseMarkdown(strings.NewReader(string(data))) {
			text, err := markdownText(sec.Content)
			if err != nil {
				return nil, fmt.Errorf("render markdown: %w", err)
			}
			for _, chunk := range Split(text, size, overlap) {
				if sec.Title != "" {
					chunk = sec.Title + "\n" + chunk
				}
				out = append(out, chunk)
			}
		}
	case ".html", ".htm":
		title, text := extractHTML(string(data))
		for _, chunk := range Split(text, size, overlap) {
			if title != "" {
				chunk = title + "\n" + chunk
			}
			out = append(out, chunk)
		}
	case ".txt", ".text", "":
		out = Split(string(data), size, overlap)
	default:
		return nil, ErrUnsupported
	}

	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}
