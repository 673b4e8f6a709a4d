package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/retrieval"
	"github.com/nugget/ragent/internal/selector"
)

// Advisory is a non-fatal condition noted during a run.
type Advisory struct {
	Kind    mcp.ErrorKind `json:"kind"`
	Tool    string        `json:"tool,omitempty"`
	Message string        `json:"message"`
}

// Result is the aggregated outcome of one query. It owns copies of
// everything it references.
type Result struct {
	ID          string              `json:"id"`
	Query       string              `json:"query"`
	CallerID    string              `json:"caller_id,omitempty"`
	Plan        selector.Plan       `json:"plan"`
	Passages    []retrieval.Passage `json:"passages"`
	ToolResults []mcp.Result        `json:"tool_results"`
	Advisories  []Advisory          `json:"advisories,omitempty"`
	Summary     string              `json:"summary"`
	States      []State             `json:"states"`
	StartedAt   time.Time           `json:"started_at"`
	DurationMs  int64               `json:"duration_ms"`
}

// Failures counts tool results that did not succeed.
func (r *Result) Failures() int {
	n := 0
	for _, tr := range r.ToolResults {
		if !tr.OK() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *Result) Clone() Result {
	out := *r
	out.Plan = r.Plan.Clone()
	out.Passages = append([]retrieval.Passage{}, r.Passages...)
	out.ToolResults = make([]mcp.Result, len(r.ToolResults))
	for i, tr := range r.ToolResults {
		out.ToolResults[i] = tr.Clone()
	}
	out.Advisories = append([]Advisory(nil), r.Advisories...)
	out.States = append([]State(nil), r.States...)
	return out
}

// maxPayloadChars bounds how much of a tool payload the summary shows.
const maxPayloadChars = 200

// Summarize renders r as plain text, one line per item. The output
// depends only on the contents of r.
func Summarize(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "query: %s\n", r.Query)

	if len(r.Passages) == 0 {
		b.WriteString("passages: none\n")
	} else {
		top := r.Passages[0]
		name := top.Source
		if name == "" {
			name = shortID(top.ID)
		}
		fmt.Fprintf(&b, "passages: %d (top %s, score %.3f)\n", len(r.Passages), name, top.Score)
	}

	if len(r.Plan.Steps) == 0 {
		fmt.Fprintf(&b, "plan: no tools (%s)\n", r.Plan.Rationale)
	} else {
		fmt.Fprintf(&b, "plan: %s [%s]\n", strings.Join(r.Plan.Tools(), ", "), r.Plan.Strategy)
	}

	for _, tr := range r.ToolResults {
		if tr.OK() {
			fmt.Fprintf(&b, "%s: ok %s %s\n", tr.Tool, tr.Success.ResultType, compactPayload(tr.Success.Payload))
			continue
		}
		fmt.Fprintf(&b, "%s: %s after %d attempt(s): %s\n", tr.Tool, tr.Failure.Kind, tr.Attempts, tr.Failure.Message)
	}
	for _, a := range r.Advisories {
		if a.Tool != "" {
			fmt.Fprintf(&b, "advisory: %s %s: %s\n", a.Kind, a.Tool, a.Message)
		} else {
			fmt.Fprintf(&b, "advisory: %s: %s\n", a.Kind, a.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func compactPayload(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	s := buf.String()
	if r := []rune(s); len(r) > maxPayloadChars {
		s = string(r[:maxPayloadChars]) + "..."
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
