// Package orchestrator answers a query by retrieving passages, choosing
// tools, invoking them in order, and aggregating everything into a
// single [Result].
//
// A run moves strictly through Idle, Retrieving, Selecting, one
// Invoking state per plan step, Aggregating and Done. Done is always
// reached: retrieval failures become advisories, tool failures become
// entries in Result.ToolResults, and panics in collaborators are
// recovered into either. Run never returns an error.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/registry"
	"github.com/nugget/ragent/internal/retrieval"
	"github.com/nugget/ragent/internal/selector"
)

// Defaults for [Options] fields left zero.
const (
	DefaultTopK             = 5
	DefaultRetrievalTimeout = 5 * time.Second
)

// Invoker runs one tool invocation. *mcp.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, ep registry.ToolEndpoint, req mcp.Request) mcp.Result
}

// ToolLookup resolves tool names. *registry.Registry satisfies it.
type ToolLookup interface {
	Lookup(name string) (registry.ToolEndpoint, bool)
}

// Options configures an [Orchestrator].
type Options struct {
	Retriever retrieval.Retriever // nil disables retrieval
	Selector  selector.Selector   // nil means keyword selection
	Invoker   Invoker
	Tools     ToolLookup

	TopK             int
	RetrievalTimeout time.Duration
	// CallerID is used for queries that do not carry their own.
	CallerID string

	Observer Observer
	Clock    mcp.Clock
	Logger   *slog.Logger
}

// Orchestrator runs queries. It holds only read-only collaborators and
// is safe for concurrent use.
type Orchestrator struct {
	retriever        retrieval.Retriever
	selector         selector.Selector
	invoker          Invoker
	tools            ToolLookup
	topK             int
	retrievalTimeout time.Duration
	callerID         string
	observer         Observer
	clock            mcp.Clock
	logger           *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		retriever:        opts.Retriever,
		selector:         opts.Selector,
		invoker:          opts.Invoker,
		tools:            opts.Tools,
		topK:             opts.TopK,
		retrievalTimeout: opts.RetrievalTimeout,
		callerID:         opts.CallerID,
		observer:         opts.Observer,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if o.retriever == nil {
		o.retriever = retrieval.Disabled{}
	}
	if o.selector == nil {
		o.selector = selector.NewKeyword()
	}
	if o.tools == nil {
		o.tools = emptyLookup{}
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	if o.retrievalTimeout <= 0 {
		o.retrievalTimeout = DefaultRetrievalTimeout
	}
	if o.clock == nil {
		o.clock = mcp.SystemClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.invoker == nil {
		o.invoker = mcp.NewClient(mcp.Options{Clock: o.clock, Logger: o.logger})
	}
	return o
}

type emptyLookup struct{}

func (emptyLookup) Lookup(string) (registry.ToolEndpoint, bool) { return registry.ToolEndpoint{}, false }

// Query is one question to answer.
type Query struct {
	Text     string
	CallerID string
	// TopK overrides the configured passage count when positive.
	TopK int
	// Observer receives this run's events in addition to the
	// orchestrator-wide observer.
	Observer Observer
}

// run carries the per-query state through the state machine.
type run struct {
	o        *Orchestrator
	res      *Result
	log      *slog.Logger
	observer Observer
}

// Run answers q. The caller's context bounds the whole query; when it
// expires, steps not yet started are reported as DeadlineExceeded.
func (o *Orchestrator) Run(ctx context.Context, q Query) *Result {
	callerID := q.CallerID
	if callerID == "" {
		callerID = o.callerID
	}
	k := q.TopK
	if k <= 0 {
		k = o.topK
	}

	res := &Result{
		ID:          uuid.NewString(),
		Query:       strings.TrimSpace(q.Text),
		CallerID:    callerID,
		Passages:    []retrieval.Passage{},
		ToolResults: []mcp.Result{},
		StartedAt:   o.clock.Now(),
	}
	r := &run{
		o:        o,
		res:      res,
		log:      o.logger.With("query_id", res.ID),
		observer: Observers(o.observer, q.Observer),
	}
	r.log.Info("query started", "caller_id", callerID, "query", res.Query)

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("query panicked", "panic", p)
			res.Advisories = append(res.Advisories, Advisory{Kind: mcp.KindApplicationError, Message: fmt.Sprintf("internal error: %v", p)})
		}
		r.finish()
	}()

	r.enter(StateIdle, -1, "")

	r.enter(StateRetrieving, -1, "")
	if res.Query != "" {
		r.retrieve(ctx, k)
	}

	r.enter(StateSelecting, -1, "")
	if res.Query != "" {
		r.selectPlan(ctx)
	}

	for i, step := range res.Plan.Steps {
		r.invoke(ctx, i, step)
	}
	return res
}

func (r *run) retrieve(ctx context.Context, k int) {
	rctx, cancel := context.WithTimeout(ctx, r.o.retrievalTimeout)
	defer cancel()

	passages, err := r.safeTopK(rctx, k)
	if err != nil {
		r.log.Warn("retrieval unavailable, continuing without passages", "error", err)
		r.res.Advisories = append(r.res.Advisories, Advisory{
			Kind:    mcp.KindRetrievalUnavailable,
			Message: err.Error(),
		})
		return
	}
	r.res.Passages = retrieval.Normalize(passages, k)
	r.log.Debug("retrieved passages", "count", len(r.res.Passages))
}

func (r *run) safeTopK(ctx context.Context, k int) (passages []retrieval.Passage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: retriever panic: %v", retrieval.ErrUnavailable, p)
		}
	}()
	return r.o.retriever.TopK(ctx, r.res.Query, k)
}

func (r *run) selectPlan(ctx context.Context) {
	plan := r.safeSelect(ctx).Clone()

	// Drop steps naming tools the registry does not know.
	kept := plan.Steps[:0]
	for _, step := range plan.Steps {
		if _, ok := r.o.tools.Lookup(step.Tool); !ok {
			r.log.Warn("plan names unconfigured tool, skipping", "tool", step.Tool)
			r.res.Advisories = append(r.res.Advisories, Advisory{
				Kind:    mcp.KindUnconfiguredTool,
				Tool:    step.Tool,
				Message: fmt.Sprintf("no endpoint configured for tool %q", step.Tool),
			})
			continue
		}
		kept = append(kept, step)
	}
	plan.Steps = kept
	r.res.Plan = plan
	r.log.Debug("plan selected", "strategy", plan.Strategy, "tools", plan.Tools(), "rationale", plan.Rationale)
}

func (r *run) safeSelect(ctx context.Context) (plan selector.Plan) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("selector panicked", "panic", p)
			plan = selector.Plan{Rationale: fmt.Sprintf("selector panic: %v", p)}
		}
	}()
	return r.o.selector.Select(ctx, r.res.Query, slices.Clone(r.res.Passages))
}

func (r *run) invoke(ctx context.Context, i int, step selector.Step) {
	r.enter(StateInvoking, i, step.Tool)

	var result mcp.Result
	if err := ctx.Err(); err != nil {
		result = mcp.Failed(step.Tool, "", 0, mcp.KindDeadlineExceeded,
			fmt.Sprintf("not started: %v", err))
		r.log.Warn("skipping tool, deadline passed", "tool", step.Tool, "index", i)
	} else {
		ep, _ := r.o.tools.Lookup(step.Tool)
		result = r.safeInvoke(ctx, ep, step)
	}

	r.res.ToolResults = append(r.res.ToolResults, result.Clone())
	r.emit(Event{State: StateInvoking, Index: i, Tool: step.Tool, Result: &result})
}

func (r *run) safeInvoke(ctx context.Context, ep registry.ToolEndpoint, step selector.Step) (result mcp.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tool invocation panicked", "tool", step.Tool, "panic", p)
			result = mcp.Failed(step.Tool, "", 0, mcp.KindApplicationError, fmt.Sprintf("invoker panic: %v", p))
		}
	}()
	return r.o.invoker.Invoke(ctx, ep, mcp.Request{
		ToolName:   step.Tool,
		Parameters: step.Params,
		CallerID:   r.res.CallerID,
	})
}

// finish runs Aggregating and Done.
func (r *run) finish() {
	r.enter(StateAggregating, -1, "")
	r.res.Summary = Summarize(r.res)
	r.res.DurationMs = r.o.clock.Now().Sub(r.res.StartedAt).Milliseconds()

	r.res.States = append(r.res.States, StateDone)
	final := r.res.Clone()
	r.emit(Event{State: StateDone, Index: -1, Final: &final})

	r.log.Info("query finished",
		"tools", r.res.Plan.Tools(),
		"failures", r.res.Failures(),
		"advisories", len(r.res.Advisories),
		"duration_ms", r.res.DurationMs,
	)
}

func (r *run) enter(s State, index int, tool string) {
	r.res.States = append(r.res.States, s.label(index))
	r.log.Debug("state", "state", s.label(index))
	r.emit(Event{State: s, Index: index, Tool: tool})
}

func (r *run) emit(ev Event) {
	if r.observer == nil {
		return
	}
	ev.QueryID = r.res.ID
	ev.Time = r.o.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("observer panicked", "state", ev.State, "panic", p)
		}
	}()
	r.observer.Observe(ev)
}
