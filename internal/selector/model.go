package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nugget/ragent/internal/llm"
	"github.com/nugget/ragent/internal/retrieval"
)

// DefaultModelTimeout bounds a single reasoner call.
const DefaultModelTimeout = 15 * time.Second

const modelSystemPrompt = `You route user questions to tools. Available tools:
%s
Reply with a single JSON object and nothing else:
{"tool": "<tool name or none>", "rationale": "<one sentence>"}
Use "none" when no tool is needed.`

var toolDescriptions = map[string]string{
	"calculator": "evaluates arithmetic expressions and aggregates numbers",
	"plot":       "draws a histogram, bar, line or scatter chart from numbers",
	"parser":     "extracts plain text from documents",
}

// Model selects tools by asking a reasoning backend. Any failure falls
// back to keyword selection; Select never fails.
type Model struct {
	reasoner llm.Reasoner
	tools    []string
	timeout  time.Duration
	fallback *Keyword
	logger   *slog.Logger
}

// NewModel creates a model-backed selector offering the given tools.
func NewModel(reasoner llm.Reasoner, tools []string, timeout time.Duration, logger *slog.Logger) *Model {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		reasoner: reasoner,
		tools:    slices.Clone(tools),
		timeout:  timeout,
		fallback: NewKeyword(),
		logger:   logger,
	}
}

type decision struct {
	Tool      string   `json:"tool"`
	Tools     []string `json:"tools"`
	Rationale string   `json:"rationale"`
}

// Select implements [Selector].
func (m *Model) Select(ctx context.Context, query string, passages []retrieval.Passage) (plan Plan) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Plan{Strategy: StrategyModel, Rationale: "empty query"}
	}

	defer func() {
		if r := recover(); r != nil {
			plan = m.fallbackPlan(ctx, query, passages, fmt.Sprintf("reasoner panic: %v", r))
		}
	}()

	tools, rationale, err := m.decide(ctx, query, passages)
	if err != nil {
		return m.fallbackPlan(ctx, query, passages, err.Error())
	}

	plan = Plan{Strategy: StrategyModel, Rationale: rationale}
	for _, t := range tools {
		plan.Steps = append(plan.Steps, Step{Tool: t, Params: BuildParams(t, query, passages)})
	}
	if plan.Rationale == "" {
		plan.Rationale = fmt.Sprintf("%s chose %v", m.reasoner.Name(), plan.Tools())
	}
	return plan
}

func (m *Model) decide(ctx context.Context, query string, passages []retrieval.Passage) ([]string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reply, err := m.reasoner.Complete(ctx, m.systemPrompt(), userPrompt(query, passages))
	if err != nil {
		return nil, "", fmt.Errorf("reasoner error: %w", err)
	}
	m.logger.Log(ctx, llm.LevelTrace, "selector reply", "model", m.reasoner.Name(), "reply", reply)

	d, err := parseDecision(reply)
	if err != nil {
		return nil, "", err
	}

	names := d.Tools
	if d.Tool != "" {
		names = append([]string{d.Tool}, names...)
	}
	var tools []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "none" || n == "" {
			continue
		}
		if !slices.Contains(m.tools, n) {
			if !wellKnownTool(n) {
				return nil, "", fmt.Errorf("unknown tool %q", n)
			}
			// Kept so the orchestrator records it as unconfigured.
			m.logger.Warn("model chose a tool that is not configured", "model", m.reasoner.Name(), "tool", n)
		}
		if !slices.Contains(tools, n) {
			tools = append(tools, n)
		}
	}
	return orderTools(tools), strings.TrimSpace(d.Rationale), nil
}

func (m *Model) fallbackPlan(ctx context.Context, query string, passages []retrieval.Passage, reason string) Plan {
	m.logger.Warn("model selection failed, using keywords", "model", m.reasoner.Name(), "reason", reason)
	plan := m.fallback.Select(ctx, query, passages)
	plan.Fallback = reason
	plan.Rationale = fmt.Sprintf("model selection failed (%s); %s", reason, plan.Rationale)
	return plan
}

func (m *Model) systemPrompt() string {
	var b strings.Builder
	for _, t := range m.tools {
		desc := toolDescriptions[t]
		if desc == "" {
			desc = "remote tool"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t, desc)
	}
	return fmt.Sprintf(modelSystemPrompt, strings.TrimRight(b.String(), "\n"))
}

func userPrompt(query string, passages []retrieval.Passage) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	for i, p := range passages {
		if i == 3 {
			break
		}
		text := p.Text
		if r := []rune(text); len(r) > 300 {
			text = string(r[:300]) + "..."
		}
		fmt.Fprintf(&b, "\nContext %d: %s", i+1, text)
	}
	return b.String()
}

var errMalformed = errors.New("malformed reasoner reply")

// parseDecision pulls the first JSON object out of reply, tolerating
// code fences and surrounding prose.
func parseDecision(reply string) (decision, error) {
	var d decision
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return d, fmt.Errorf("%w: no JSON object", errMalformed)
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &d); err != nil {
		return d, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if d.Tool == "" && len(d.Tools) == 0 {
		return d, fmt.Errorf("%w: no tool field", errMalformed)
	}
	return d, nil
}
