package ingest

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// section is one heading-delimited part of a markdown document.
type section struct {
	Key     string // slug path, e.g. "migraine/triggers"
	Title   string // heading trail, e.g. "Migraine > Triggers"
	Content string // markdown body
}

var (
	h1Pattern        = regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern        = regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern        = regexp.MustCompile(`^###\s+(.+)$`)
	codeBlockPattern = regexp.MustCompile("^```")
	slugPattern      = regexp.MustCompile(`[^a-z0-9]+`)
)

// parseMarkdown splits markdown into sections at the first three
// heading levels. Text before the first heading forms a section with an
// empty key.
func parseMarkdown(r io.Reader) []section {
	var sections []section
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var h1, h2 string
	var key, title string
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content != "" {
			sections = append(sections, section{Key: key, Title: title, Content: content})
		}
		body.Reset()
	}
	trail := func(parts ...string) (string, string) {
		var slugs, names []string
		for _, p := range parts {
			if p != "" {
				slugs = append(slugs, slugify(p))
				names = append(names, p)
			}
		}
		return strings.Join(slugs, "/"), strings.Join(names, " > ")
	}

	inCodeBlock := false
	for scanner.Scan() {
		line := scanner.Text()

		if codeBlockPattern.MatchString(line) {
			inCodeBlock = !inCodeBlock
			body.WriteString(line + "\n")
			continue
		}
		if inCodeBlock {
			body.WriteString(line + "\n")
			continue
		}

		if m := h1Pattern.FindStringSubmatch(line); m != nil {
			flush()
			h1, h2 = m[1], ""
			key, title = trail(h1)
			continue
		}
		if m := h2Pattern.FindStringSubmatch(line); m != nil {
			flush()
			h2 = m[1]
			key, title = trail(h1, h2)
			continue
		}
		if m := h3Pattern.FindStringSubmatch(line); m != nil {
			flush()
			key, title = trail(h1, h2, m[1])
			continue
		}

		if line != "" || body.Len() > 0 {
			body.WriteString(line + "\n")
		}
	}
	flush()

	return sections
}

// markdownText renders markdown to plain text by way of HTML, so
// emphasis, links and list markers do not end up in the chunks.
func markdownText(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	_, text := extractHTML(buf.String())
	return text, nil
}

// slugify converts a header to a key-friendly format.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
