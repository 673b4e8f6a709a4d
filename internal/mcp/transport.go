package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nugget/ragent/internal/httpkit"
)

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 10 << 20

// Call is a single attempt as seen by a [Transport].
type Call struct {
	URL       string
	RequestID string
	CallerID  string
	Body      []byte
}

// Reply is what came back from one attempt. A Transport returns a Reply
// for every HTTP response, whatever its status; an error means nothing
// usable came back.
type Reply struct {
	StatusCode int
	Body       []byte
}

// Transport delivers one attempt. Implementations must be safe for
// concurrent use.
type Transport interface {
	Do(ctx context.Context, call Call) (*Reply, error)
}

// HTTPTransport posts envelopes over HTTP.
type HTTPTransport struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTransport creates an HTTP transport. The http.Client has no
// overall timeout; each attempt is bounded by its context. Transport
// level retry is left off because the [Client] counts attempts itself.
func NewHTTPTransport(logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// NewHTTPTransportWithClient wraps an existing client, for tests that
// point at an httptest server.
func NewHTTPTransportWithClient(c *http.Client, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{httpClient: c, logger: logger}
}

// Do sends the envelope via HTTP POST and returns the raw reply.
func (t *HTTPTransport) Do(ctx context.Context, call Call) (*Reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, call.URL, bytes.NewReader(call.Body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if call.RequestID != "" {
		httpReq.Header.Set(HeaderRequestID, call.RequestID)
	}
	if call.CallerID != "" {
		httpReq.Header.Set(HeaderCallerID, call.CallerID)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", call.URL, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Reply{StatusCode: httpResp.StatusCode, Body: body}, nil
}
