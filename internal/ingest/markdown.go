package ingest

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// Section is the body text under one heading of a Markdown document.
type Section struct {
	// Key is the slugged heading path, e.g. "guide/watering/succulents".
	// Text before the first heading has an empty key.
	Key     string
	Content string
}

var (
	h1Pattern = regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern = regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern = regexp.MustCompile(`^###\s+(.+)$`)
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
)

// splitSections breaks Markdown into sections at H1-H3 headings. Fenced
// code blocks are kept whole, so a "#" inside one is not a heading.
func splitSections(r io.Reader) []Section {
	var (
		sections    []Section
		h1, h2      string
		key         string
		content     strings.Builder
		inCodeFence bool
	)

	flush := func() {
		if text := strings.TrimSpace(content.String()); text != "" {
			sections = append(sections, Section{Key: key, Content: text})
		}
		content.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeFence = !inCodeFence
			content.WriteString(line + "\n")
			continue
		}
		if inCodeFence {
			content.WriteString(line + "\n")
			continue
		}

		switch {
		case h1Pattern.MatchString(line):
			flush()
			h1, h2 = h1Pattern.FindStringSubmatch(line)[1], ""
			key = slugify(h1)
		case h2Pattern.MatchString(line):
			flush()
			h2 = h2Pattern.FindStringSubmatch(line)[1]
			key = joinKey(slugify(h1), slugify(h2))
		case h3Pattern.MatchString(line):
			flush()
			h3 := h3Pattern.FindStringSubmatch(line)[1]
			key = joinKey(slugify(h1), slugify(h2), slugify(h3))
		default:
			if line != "" || content.Len() > 0 {
				content.WriteString(line + "\n")
			}
		}
	}
	flush()
	return sections
}

func joinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// slugify converts a heading to a key-friendly form.
func slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
