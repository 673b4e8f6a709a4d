package toolserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/nugget/ragent/internal/docparse"
)

// DefaultMaxChars bounds the text a parse returns.
const DefaultMaxChars = 50000

// ParsedDocument is the parser's result payload.
type ParsedDocument struct {
	Text      string `json:"text"`
	Title     string `json:"title,omitempty"`
	Format    string `json:"format"`
	Source    string `json:"source,omitempty"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated,omitempty"`
	Type      string `json:"type"`
}

// Parser extracts text from inline content, a base64 document, or a URL.
type Parser struct {
	fetcher  *Fetcher
	maxChars int
}

// NewParser creates a Parser. A nil fetcher disables URL input.
func NewParser(fetcher *Fetcher) *Parser {
	return &Parser{fetcher: fetcher, maxChars: DefaultMaxChars}
}

// Name implements [Tool].
func (p *Parser) Name() string { return "parser" }

// Route implements [Tool].
func (p *Parser) Route() string { return "/mcp/parse" }

var errNoContent = errors.New("No content provided")

// Invoke implements [Tool]. Exactly one of document, url or content is
// read, in that order of preference.
func (p *Parser) Invoke(ctx context.Context, params map[string]any) (any, error) {
	formatName, err := stringParam(params, "format")
	if err != nil {
		return nil, err
	}
	var format docparse.Format
	if formatName != "" {
		if format, err = docparse.ParseFormat(formatName); err != nil {
			return nil, err
		}
	}

	var (
		data   []byte
		source string
	)
	document, _ := params["document"].(string)
	url, _ := params["url"].(string)
	content, _ := params["content"].(string)

	switch {
	case document != "":
		if data, err = base64.StdEncoding.DecodeString(document); err != nil {
			return nil, fmt.Errorf("document is not valid base64: %w", err)
		}
		source, _ = params["filename"].(string)
		if format == "" {
			if format, err = docparse.Detect(source, data); err != nil {
				return nil, err
			}
		}
	case url != "":
		if p.fetcher == nil {
			return nil, errors.New("url input is disabled")
		}
		dl, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		data, source = dl.Body, dl.URL
		if format == "" {
			if format, err = dl.Format(); err != nil {
				return nil, err
			}
		}
	case content != "":
		data = []byte(content)
		if format == "" {
			format = docparse.FormatText
		}
	default:
		return nil, errNoContent
	}

	doc, err := docparse.Parse(data, format)
	if err != nil {
		return nil, err
	}
	text, truncated := truncateUTF8(doc.Text, p.maxChars)
	return ParsedDocument{
		Text:      text,
		Title:     doc.Title,
		Format:    string(doc.Format),
		Source:    source,
		Chars:     utf8.RuneCountInString(text),
		Truncated: truncated,
		Type:      "document",
	}, nil
}
