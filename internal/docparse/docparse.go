// Package docparse extracts plain text from documents. It understands
// PDF, DOCX, HTML, Markdown and plain text, choosing the format from the
// file name when it has a known extension and from the content
// otherwise.
package docparse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Format names a document format.
type Format string

// Supported formats.
const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ErrUnsupported is returned for content that is not one of the
// supported formats.
var ErrUnsupported = errors.New("unsupported document format")

// Document is extracted text plus what was learned about its source.
type Document struct {
	Text   string `json:"text"`
	Title  string `json:"title,omitempty"`
	Format Format `json:"format"`
}

var extFormats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".txt":      FormatText,
	".text":     FormatText,
}

// ParseFormat maps a user-supplied format name to a Format. "md", "htm"
// and "txt" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	case "html", "htm":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "plain":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// Detect picks the format of data. A known file extension wins;
// otherwise the content is sniffed.
func Detect(filename string, data []byte) (Format, error) {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}

	m := mimetype.Detect(data)
	switch {
	case m.Is("application/pdf"):
		return FormatPDF, nil
	case m.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return FormatDOCX, nil
	case m.Is("text/html"):
		return FormatHTML, nil
	case strings.HasPrefix(m.String(), "text/"):
		return FormatText, nil
	}
	if utf8.Valid(data) {
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, m.String())
}

// Parse extracts text from data in the given format. Malformed input
// is an error, never a panic.
func Parse(data []byte, format Format) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("parse %s: malformed document: %v", format, r)
		}
	}()

	switch format {
	case FormatPDF:
		doc, err = parsePDF(data)
	case FormatDOCX:
		doc, err = parseDOCX(data)
	case FormatHTML:
		title, text := extractHTML(string(data))
		doc = &Document{Title: title, Text: text}
	case FormatMarkdown:
		doc, err = parseMarkdown(data)
	case FormatText:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupported)
		}
		doc = &Document{Text: strings.TrimSpace(string(data))}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	doc.Format = format
	return doc, nil
}

// ParseBytes detects the format of data and extracts its text.
func ParseBytes(filename string, data []byte) (*Document, error) {
	format, err := Detect(filename, data)
	if err != nil {
		return nil, err
	}
	return Parse(data, format)
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ParseBytes(filepath.Base(path), data)
}
