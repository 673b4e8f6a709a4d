package toolserver

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/nugget/ragent/internal/docparse"
	"github.com/nugget/ragent/internal/httpkit"
)

// Download limits.
const (
	DefaultFetchTimeout       = 30 * time.Second
	DefaultMaxBytes     int64 = 10 << 20
)

// Download is a fetched document body.
type Download struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher downloads documents for the parser.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher with default limits.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultFetchTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads rawURL. A URL without a scheme is tried over HTTPS.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: HTTP %d: %s", rawURL, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 256))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return &Download{URL: rawURL, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

// Format picks a document format from the content type, then the URL
// path, then the body itself.
func (d *Download) Format() (docparse.Format, error) {
	mt, _, _ := mime.ParseMediaType(d.ContentType)
	switch mt {
	case "text/html", "application/xhtml+xml":
		return docparse.FormatHTML, nil
	case "text/markdown":
		return docparse.FormatMarkdown, nil
	case "application/pdf":
		return docparse.FormatPDF, nil
	case "text/plain":
		return docparse.FormatText, nil
	}
	return docparse.Detect(path.Base(d.URL), d.Body)
}

// truncateUTF8 cuts s to at most maxChars runes.
func truncateUTF8(s string, maxChars int) (string, bool) {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i], true
		}
		count++
	}
	return s, false
}
