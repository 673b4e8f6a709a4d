package docparse

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// parseMarkdown renders to HTML and extracts text from that, so markup
// such as emphasis and link syntax does not leak into the text.
func parseMarkdown(data []byte) (*Document, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return nil, err
	}
	_, text := extractHTML(buf.String())
	return &Document{Title: firstHeading(data), Text: text}, nil
}

// firstHeading returns the text of the first ATX heading, if any.
func firstHeading(data []byte) string {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 1 && line[0] == '#' {
			return string(bytes.TrimSpace(bytes.TrimLeft(line, "#")))
		}
	}
	return ""
}
