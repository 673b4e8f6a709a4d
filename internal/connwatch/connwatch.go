// Package connwatch tracks the health of configured tool services.
//
// It complements the MCP client's per-call retry: a watcher probes each
// tool's GET /health in the background so operators can see which
// tools are reachable before a query needs them.
//
// A watcher starts with exponential backoff between failed probes
// (2s, 4s, 8s, ... capped at 60s) and settles into periodic polling
// once the tool answers or the startup retries run out.
package connwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/ragent/internal/httpkit"
	"github.com/nugget/ragent/internal/registry"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the number of startup probes before falling back to
	// polling (default: 10).
	MaxRetries int

	// PollInterval is the steady-state check interval (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout limits each probe (default: 5s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 2s doubling to 60s, 10 startup retries
// and one-minute polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service, e.g. "calculator".
	Name string
	// URL is informational and reported in status.
	URL string

	// Probe checks service health. Must be safe for concurrent use.
	Probe   ProbeFunc
	Backoff BackoffConfig

	// OnChange is called in its own goroutine whenever readiness flips.
	OnChange func(ServiceStatus)

	Logger *slog.Logger
}

// ServiceStatus is the health of a watched service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Ready     bool      `json:"ready"`
	Checks    int       `json:"checks"`
	Failures  int       `json:"consecutive_failures"`
	LatencyMs int64     `json:"latency_ms"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	config WatcherConfig
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status ServiceStatus
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Status returns a snapshot of the service health.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	delay := cfg.InitialDelay
	startup := true
	for attempt := 1; ; attempt++ {
		ready := w.check(ctx)
		if ctx.Err() != nil {
			return
		}
		if ready || attempt >= cfg.MaxRetries {
			startup = false
		}

		wait := cfg.PollInterval
		if startup {
			wait = delay
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// check runs one probe, records it, and reports readiness.
func (w *Watcher) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := w.config.Probe(probeCtx)
	elapsed := time.Since(start)

	w.mu.Lock()
	was := w.status.Ready
	w.status.Checks++
	w.status.LastCheck = time.Now()
	w.status.LatencyMs = elapsed.Milliseconds()
	if err != nil {
		w.status.Ready = false
		w.status.Failures++
		w.status.LastError = err.Error()
	} else {
		w.status.Ready = true
		w.status.Failures = 0
		w.status.LastError = ""
	}
	snapshot := w.status
	w.mu.Unlock()

	switch {
	case err == nil && !was:
		w.logger.Info("tool reachable", "checks", snapshot.Checks, "latency_ms", snapshot.LatencyMs)
	case err != nil && was:
		w.logger.Warn("tool became unreachable", "error", err)
	case err != nil:
		w.logger.Debug("tool still unreachable", "failures", snapshot.Failures, "error", err)
	}
	if was != snapshot.Ready && w.config.OnChange != nil {
		go w.config.OnChange(snapshot)
	}
	return snapshot.Ready
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// HTTPProbe checks GET url answers 2xx. A JSON body with a "status"
// field must report "healthy" or "ok".
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(10 * time.Second))
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer httpkit.DrainAndClose(resp.Body, 4096)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health check: HTTP %d", resp.StatusCode)
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
			// Not JSON; a 2xx is enough.
			return nil
		}
		switch strings.ToLower(body.Status) {
		case "", "healthy", "ok":
			return nil
		default:
			return fmt.Errorf("health check: status %q", body.Status)
		}
	}
}

// Manager coordinates watchers, one per service name.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. Watching a name again replaces the previous watcher.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) (*Watcher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("connwatch: name is required")
	}
	if cfg.Probe == nil {
		return nil, fmt.Errorf("connwatch: %s: probe is required", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		logger: cfg.Logger.With("tool", cfg.Name),
		cancel: cancel,
		done:   make(chan struct{}),
		status: ServiceStatus{Name: cfg.Name, URL: cfg.URL},
	}

	m.mu.Lock()
	old := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(watchCtx)
	return w, nil
}

// WatchTools starts an HTTP health watcher for every endpoint.
func (m *Manager) WatchTools(ctx context.Context, endpoints []registry.ToolEndpoint, client *http.Client, backoff BackoffConfig) error {
	for _, ep := range endpoints {
		health := strings.TrimRight(ep.BaseURL, "/") + "/health"
		_, err := m.Watch(ctx, WatcherConfig{
			Name:    ep.Name,
			URL:     health,
			Probe:   HTTPProbe(client, health),
			Backoff: backoff,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the watcher for name.
func (m *Manager) Get(name string) (*Watcher, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchers[name]
	return w, ok
}

// Status returns every watched service's health.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Names returns the watched service names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.watchers))
	for n := range m.watchers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
