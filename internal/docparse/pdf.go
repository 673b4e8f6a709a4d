package docparse

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"
)

func parsePDF(data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for j, row := range rows {
			if j > 0 {
				b.WriteByte('\n')
			}
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
		}
	}
	return &Document{Text: cleanWhitespace(b.String())}, nil
}
