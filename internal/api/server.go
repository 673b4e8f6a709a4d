// Package api serves the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/nugget/ragent/internal/buildinfo"
	"github.com/nugget/ragent/internal/connwatch"
	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/orchestrator"
	"github.com/nugget/ragent/internal/registry"
)

// DefaultDeadline bounds a query when neither the server nor the
// request sets one.
const DefaultDeadline = 60 * time.Second

// HeaderQueryID carries the query ID on responses.
const HeaderQueryID = "X-Query-ID"

// Runner executes queries. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, q orchestrator.Query) *orchestrator.Result
}

// HealthSource reports tool health. *connwatch.Manager satisfies it.
type HealthSource interface {
	Status() map[string]connwatch.ServiceStatus
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	runner   Runner
	tools    []registry.ToolEndpoint
	health   HealthSource
	metrics  http.Handler
	deadline time.Duration
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		runner:   runner,
		deadline: DefaultDeadline,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The stream is read-only and carries no cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetTools configures the endpoints listed by GET /v1/tools.
func (s *Server) SetTools(endpoints []registry.ToolEndpoint) {
	s.tools = endpoints
}

// SetHealth configures the source of tool health status.
func (s *Server) SetHealth(h HealthSource) {
	s.health = h
}

// SetMetrics mounts h at GET /metrics.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

// SetDeadline sets the default per-query deadline.
func (s *Server) SetDeadline(d time.Duration) {
	if d > 0 {
		s.deadline = d
	}
}

// Handler returns the routing for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("GET /v1/query/stream", s.handleStream)
	mux.HandleFunc("GET /v1/tools", s.handleTools)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.deadline + 30*time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "ragent",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy", "tools": len(s.tools)}
	if s.health != nil {
		ready := 0
		for _, st := range s.health.Status() {
			if st.Ready {
				ready++
			}
		}
		body["tools_ready"] = ready
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// ToolInfo describes one configured tool on GET /v1/tools.
type ToolInfo struct {
	registry.ToolEndpoint
	Health *connwatch.ServiceStatus `json:"health,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	var status map[string]connwatch.ServiceStatus
	if s.health != nil {
		status = s.health.Status()
	}
	out := make([]ToolInfo, 0, len(s.tools))
	for _, ep := range s.tools {
		info := ToolInfo{ToolEndpoint: ep}
		if st, ok := status[ep.Name]; ok {
			info.Health = &st
		}
		out = append(out, info)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": out}, s.logger)
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

func (req QueryRequest) validate() error {
	if req.TopK < 0 {
		return errors.New("top_k must not be negative")
	}
	if req.TimeoutMs < 0 {
		return errors.New("timeout_ms must not be negative")
	}
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout(req.TimeoutMs))
	defer cancel()

	callerID := callerID(r)
	res := s.runner.Run(ctx, orchestrator.Query{Text: req.Query, CallerID: callerID, TopK: req.TopK})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(mcp.HeaderCallerID, callerID)
	w.Header().Set(HeaderQueryID, res.ID)
	writeJSON(w, res, s.logger)
}

// StreamMessage is one websocket frame on /v1/query/stream. Events
// arrive in order; the last frame has type "result".
type StreamMessage struct {
	Type   string               `json:"type"`
	Event  *orchestrator.Event  `json:"event,omitempty"`
	Result *orchestrator.Result `json:"result,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := QueryRequest{Query: q.Get("q")}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		req.TopK = n
	}
	if v := q.Get("timeout_ms"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "timeout_ms must be an integer")
			return
		}
		req.TimeoutMs = n
	}
	if err := req.validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	callerID := callerID(r)

	conn, err := s.upgrader.Upgrade(w, r, http.Header{mcp.HeaderCallerID: []string{callerID}})
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout(req.TimeoutMs))
	defer cancel()

	// A client that hangs up abandons its query.
	var gone atomic.Bool
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				gone.Store(true)
				cancel()
				return
			}
		}
	}()

	send := func(msg StreamMessage) {
		if gone.Load() {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("stream write failed", "error", err)
			gone.Store(true)
			cancel()
		}
	}

	res := s.runner.Run(ctx, orchestrator.Query{
		Text:     req.Query,
		CallerID: callerID,
		TopK:     req.TopK,
		Observer: orchestrator.ObserverFunc(func(ev orchestrator.Event) {
			ev.Final = nil
			send(StreamMessage{Type: "event", Event: &ev})
		}),
	})
	send(StreamMessage{Type: "result", Result: res})

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}

// timeout returns the query deadline for a requested timeout_ms. It
// never exceeds the server deadline, which the write timeout is sized
// for.
func (s *Server) timeout(ms int64) time.Duration {
	if ms <= 0 || ms > s.deadline.Milliseconds() {
		return s.deadline
	}
	return time.Duration(ms) * time.Millisecond
}

// callerID returns the request's X-Caller-ID, or a fresh one.
func callerID(r *http.Request) string {
	if id := r.Header.Get(mcp.HeaderCallerID); id != "" {
		return id
	}
	return xid.New().String()
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
