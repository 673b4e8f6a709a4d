package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/ragent/internal/httpkit"
)

// KBConfig configures a [KBClient].
type KBConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// KBClient queries a knowledge-base service over HTTP.
//
// The service accepts POST /query {"query","collection","top_k"} and
// answers {"documents":[{"content","metadata","distance","score"}]}.
type KBClient struct {
	url        string
	collection string
	client     *http.Client
	logger     *slog.Logger
}

// NewKB creates a knowledge-base client. Dial failures are retried once
// at the transport level since queries are idempotent.
func NewKB(cfg KBConfig) *KBClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &KBClient{
		url:        strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		client: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithRetry(1, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("backend", "kb", "collection", cfg.Collection),
	}
}

type kbQuery struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"top_k"`
}

type kbDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
	Score    *float64       `json:"score"`
}

type kbResponse struct {
	Query     string       `json:"query"`
	Documents []kbDocument `json:"documents"`
	Count     int          `json:"count"`
}

// TopK implements [Retriever].
func (c *KBClient) TopK(ctx context.Context, query string, k int) ([]Passage, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}

	body, err := json.Marshal(kbQuery{Query: query, Collection: c.collection, TopK: k})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable("query %s: %v", c.url, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, unavailable("knowledge base returned %d: %s", resp.StatusCode, errBody)
	}

	var kr kbResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return nil, unavailable("decode response: %v", err)
	}

	passages := make([]Passage, 0, len(kr.Documents))
	for _, d := range kr.Documents {
		passages = append(passages, Passage{
			ID:     ContentID(d.Content),
			Text:   d.Content,
			Score:  kbScore(d),
			Source: metadataSource(d.Metadata),
		})
	}
	out := Normalize(passages, k)
	c.logger.Debug("knowledge base query", "returned", len(kr.Documents), "kept", len(out))
	return out, nil
}

// kbScore prefers the server's score and otherwise derives one from the
// L2 distance the same way the service does.
func kbScore(d kbDocument) float64 {
	if d.Score != nil {
		return *d.Score
	}
	return math.Max(0, 1-d.Distance/3)
}

func metadataSource(md map[string]any) string {
	for _, key := range []string{"source_file", "source"} {
		if s, ok := md[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
