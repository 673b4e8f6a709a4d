package docparse

import (
	"bytes"
	"strings"

	"github.com/fumiama/go-docx"
)

func parseDOCX(data []byte) (*Document, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, item := range doc.Document.Body.Items {
		var s string
		switch t := item.(type) {
		case *docx.Paragraph:
			s = t.String()
		case *docx.Table:
			s = t.String()
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return &Document{Text: strings.Join(parts, "\n\n")}, nil
}
