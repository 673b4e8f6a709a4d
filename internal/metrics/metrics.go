// Package metrics exports orchestrator activity as Prometheus metrics.
//
// A [Collector] is an orchestrator observer: it reads the final result
// carried by each Done event, so a query is counted exactly once
// however many tools it invoked.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/orchestrator"
)

const namespace = "ragent"

// Collector holds the metric families for one registry.
type Collector struct {
	queries           *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	passages          prometheus.Histogram
	invocations       *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	retrievalFailures prometheus.Counter
	selectorFallbacks prometheus.Counter
	advisories        *prometheus.CounterVec
}

// New registers the metric families with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries completed, by outcome (ok, partial, empty).",
		}, []string{"outcome"}),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		passages: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_passages",
			Help:      "Passages retrieved per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations, by tool and outcome (success or failure kind).",
		}, []string{"tool", "outcome"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_attempts_total",
			Help:      "HTTP attempts made against each tool, retries included.",
		}, []string{"tool"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Latency of the successful attempt of each tool invocation.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"tool"}),
		retrievalFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_failures_total",
			Help:      "Queries that proceeded without passages because retrieval failed.",
		}),
		selectorFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_fallbacks_total",
			Help:      "Plans produced by the keyword fallback after model selection failed.",
		}),
		advisories: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisories_total",
			Help:      "Advisories recorded on query results, by kind.",
		}, []string{"kind"}),
	}
}

// Observe implements [orchestrator.Observer].
func (c *Collector) Observe(ev orchestrator.Event) {
	if ev.State != orchestrator.StateDone || ev.Final == nil {
		return
	}
	c.Record(ev.Final)
}

// Record counts one finished query.
func (c *Collector) Record(r *orchestrator.Result) {
	c.queries.WithLabelValues(outcome(r)).Inc()
	c.queryDuration.Observe(float64(r.DurationMs) / 1000)
	c.passages.Observe(float64(len(r.Passages)))

	for _, tr := range r.ToolResults {
		c.invocations.WithLabelValues(tr.Tool, tr.Outcome()).Inc()
		if tr.Attempts > 0 {
			c.attempts.WithLabelValues(tr.Tool).Add(float64(tr.Attempts))
		}
		if tr.OK() {
			c.latency.WithLabelValues(tr.Tool).Observe(float64(tr.Success.TimingMs) / 1000)
		}
	}

	for _, a := range r.Advisories {
		c.advisories.WithLabelValues(string(a.Kind)).Inc()
		if a.Kind == mcp.KindRetrievalUnavailable {
			c.retrievalFailures.Inc()
		}
	}
	if r.Plan.Fallback != "" {
		c.selectorFallbacks.Inc()
	}
}

func outcome(r *orchestrator.Result) string {
	switch {
	case len(r.ToolResults) == 0:
		return "empty"
	case r.Failures() > 0:
		return "partial"
	default:
		return "ok"
	}
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
