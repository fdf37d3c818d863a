package ingest

import (
	"strings"
	"unicode"
)

// Chunking defaults, in runes.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// breaks are tried in order when looking for a place to end a chunk.
var breaks = []string{"\n\n", "\n", " "}

// Split cuts text into chunks of at most size runes. Chunks end at a
// paragraph, line or word break when one lies in the second half of the
// window, and each chunk repeats up to overlap runes of its predecessor,
// starting on a word boundary.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(r) {
		end := min(start+size, len(r))
		if end < len(r) {
			end = start + breakPoint(r[start:end], size/2)
		}
		if chunk := strings.TrimSpace(string(r[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(r) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		for next < end && !unicode.IsSpace(r[next-1]) {
			next++
		}
		start = next
	}
	return out
}

// breakPoint returns where window should be cut: just after the last
// preferred break beyond floor, or the full window when there is none.
func breakPoint(window []rune, floor int) int {
	s := string(window)
	for _, b := range breaks {
		i := strings.LastIndex(s, b)
		if i < 0 {
			continue
		}
		cut := len([]rune(s[:i])) + len([]rune(b))
		if cut > floor {
			return cut
		}
	}
	return len(window)
}
