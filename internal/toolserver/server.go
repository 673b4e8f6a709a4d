// Package toolserver implements reference tool services that speak the
// invoke envelope: a calculator, a plotter and a document parser. Any
// subset can be mounted on one [Server].
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/ragent/internal/mcp"
)

// maxRequestBytes bounds an envelope body. Parser documents arrive
// base64-encoded inside it.
const maxRequestBytes = 32 << 20

// Tool is one invocable service.
type Tool interface {
	// Name is the registry name, e.g. "calculator".
	Name() string
	// Route is the POST path, e.g. "/mcp/calculate".
	Route() string
	// Invoke runs the tool. A returned error is reported to the caller
	// as an error envelope.
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// Server serves a set of tools over HTTP.
type Server struct {
	address string
	port    int
	tools   []Tool
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server for tools. It is not started.
func NewServer(address string, port int, logger *slog.Logger, tools ...Tool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		tools:   tools,
		logger:  logger,
	}
}

// Handler returns the routing for all tools plus GET /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, t := range s.tools {
		mux.Handle("POST "+t.Route(), s.invokeHandler(t))
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withLogging(mux)
}

// Start serves until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting tool server", "address", addr, "port", s.port, "tools", s.names())
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

func (s *Server) names() []string {
	out := make([]string, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.Name()
	}
	return out
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("tool request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Header.Get(mcp.HeaderRequestID),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if names := s.names(); len(names) == 1 {
		body["tool"] = names[0]
	} else {
		body["tools"] = names
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("health write failed", "error", err)
	}
}

func (s *Server) invokeHandler(t Tool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.With("tool", t.Name(), "request_id", r.Header.Get(mcp.HeaderRequestID))

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, mcp.ErrorEnvelope("read request: "+err.Error()), log)
			return
		}
		params, err := mcp.DecodeRequest(body)
		if err != nil {
			log.Warn("rejected malformed envelope", "error", err)
			writeEnvelope(w, http.StatusBadRequest, mcp.ErrorEnvelope("invalid request: "+err.Error()), log)
			return
		}

		result, err := safeInvoke(r.Context(), t, params)
		if err != nil {
			log.Info("tool error", "error", err)
			writeEnvelope(w, http.StatusOK, mcp.ErrorEnvelope(err.Error()), log)
			return
		}
		out, err := mcp.SuccessEnvelope(result)
		if err != nil {
			log.Error("encode result failed", "error", err)
			writeEnvelope(w, http.StatusInternalServerError, mcp.ErrorEnvelope(err.Error()), log)
			return
		}
		writeEnvelope(w, http.StatusOK, out, log)
	})
}

func safeInvoke(ctx context.Context, t Tool, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return t.Invoke(ctx, params)
}

func writeEnvelope(w http.ResponseWriter, status int, body []byte, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Debug("failed to write envelope", "error", err)
	}
}
