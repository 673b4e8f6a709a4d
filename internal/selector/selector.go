// Package selector turns a query into an ordered plan of tool steps.
//
// Two strategies are provided. [Keyword] scans the query for fixed word
// sets and is fully deterministic. [Model] asks a reasoning backend and
// falls back to [Keyword] on any failure, so selection never fails.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/nugget/ragent/internal/config"
	"github.com/nugget/ragent/internal/llm"
	"github.com/nugget/ragent/internal/retrieval"
)

// Strategy names as they appear in Plan.Strategy and configuration.
const (
	StrategyKeyword = "keyword"
	StrategyModel   = "model"
)

// Step is one tool invocation in a plan.
type Step struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Plan is the ordered list of steps chosen for a query. A plan is not
// modified after Select returns it.
type Plan struct {
	Steps     []Step `json:"steps"`
	Rationale string `json:"rationale"`
	Strategy  string `json:"strategy"`
	// Fallback holds the reason the model strategy gave way to keywords.
	Fallback string `json:"fallback,omitempty"`
}

// Tools returns the tool names in step order.
func (p Plan) Tools() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Tool
	}
	return out
}

// Empty reports whether the plan has no steps.
func (p Plan) Empty() bool { return len(p.Steps) == 0 }

// Clone returns a copy that shares no maps or slices with p. Parameter
// values are copied one level deep.
func (p Plan) Clone() Plan {
	out := p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = Step{Tool: s.Tool, Params: maps.Clone(s.Params)}
	}
	return out
}

// Selector chooses tools for a query. Implementations never fail; an
// unanswerable query yields an empty plan.
type Selector interface {
	Select(ctx context.Context, query string, passages []retrieval.Passage) Plan
}

// New builds the selector named by cfg.Strategy. tools lists the names a
// model may choose from.
func New(cfg config.SelectorConfig, tools []string, logger *slog.Logger) (Selector, error) {
	switch cfg.Strategy {
	case "", StrategyKeyword:
		return NewKeyword(), nil
	case StrategyModel:
		r, err := llm.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("selector: %w", err)
		}
		return NewModel(r, tools, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("selector: unknown strategy %q", cfg.Strategy)
	}
}
