package selector

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/nugget/ragent/internal/registry"
	"github.com/nugget/ragent/internal/retrieval"
)

// toolKeywords is checked in order; plan steps follow this order no
// matter where the words appear in the query.
var toolKeywords = []struct {
	tool  string
	words []string
}{
	{registry.Calculator, []string{
		"calculate", "compute", "evaluate", "solve", "sum", "total",
		"average", "mean", "median", "multiply", "divide", "add",
		"subtract", "plus", "minus", "times", "percent", "sqrt",
	}},
	{registry.Plot, []string{
		"plot", "graph", "chart", "histogram", "visualize", "visualise",
		"draw", "diagram", "scatter",
	}},
	{registry.Parser, []string{
		"parse", "extract", "document", "pdf", "docx", "file",
	}},
}

var (
	wordRe  = regexp.MustCompile(`[a-z]+`)
	// arithRe matches a digit, an operator, and another operand.
	arithRe = regexp.MustCompile(`\d\s*[-+*/^%]\s*[\d(]`)
	// dateRe matches year ranges (2019-2021) and dates (2026-10-19,
	// 10/19/2026) so they are not read as subtraction or division.
	dateRe  = regexp.MustCompile(`\b\d{4}-\d{4}\b|\b\d{1,4}[-/]\d{1,2}[-/]\d{1,4}\b`)
)

// looksArithmetic reports whether s holds an arithmetic expression
// outside of any dates.
func looksArithmetic(s string) bool {
	return arithRe.MatchString(dateRe.ReplaceAllString(s, " "))
}

// toolRank is a tool's position in the fixed plan order; tools outside
// it sort last.
func toolRank(tool string) int {
	for i, tk := range toolKeywords {
		if tk.tool == tool {
			return i
		}
	}
	return len(toolKeywords)
}

func wellKnownTool(tool string) bool { return toolRank(tool) < len(toolKeywords) }

// orderTools returns tools in calculator, plot, parser order, keeping
// the relative order of any others after them.
func orderTools(tools []string) []string {
	out := slices.Clone(tools)
	slices.SortStableFunc(out, func(a, b string) int { return toolRank(a) - toolRank(b) })
	return out
}

// Keyword selects tools by matching words in the query.
type Keyword struct{}

// NewKeyword returns the keyword strategy.
func NewKeyword() *Keyword { return &Keyword{} }

// Select implements [Selector].
func (k *Keyword) Select(_ context.Context, query string, passages []retrieval.Passage) Plan {
	query = strings.TrimSpace(query)
	if query == "" {
		return Plan{Strategy: StrategyKeyword, Rationale: "empty query"}
	}

	matches := matchKeywords(query)
	plan := Plan{Strategy: StrategyKeyword}
	var reasons []string
	for _, m := range matches {
		plan.Steps = append(plan.Steps, Step{Tool: m.tool, Params: BuildParams(m.tool, query, passages)})
		reasons = append(reasons, fmt.Sprintf("%s: %s", m.tool, strings.Join(m.words, ", ")))
	}
	if len(reasons) == 0 {
		plan.Rationale = "no tool keywords matched"
	} else {
		plan.Rationale = "matched " + strings.Join(reasons, "; ")
	}
	return plan
}

type keywordMatch struct {
	tool  string
	words []string
}

func matchKeywords(query string) []keywordMatch {
	lower := strings.ToLower(query)
	present := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower, -1) {
		present[w] = true
		// Plural forms: "charts", "files", "histograms".
		if len(w) > 3 && strings.HasSuffix(w, "s") {
			present[strings.TrimSuffix(w, "s")] = true
		}
	}

	var out []keywordMatch
	for _, tk := range toolKeywords {
		var hit []string
		for _, w := range tk.words {
			if present[w] {
				hit = append(hit, w)
			}
		}
		if tk.tool == registry.Calculator && looksArithmetic(lower) {
			hit = append(hit, "arithmetic")
		}
		if len(hit) > 0 {
			out = append(out, keywordMatch{tool: tk.tool, words: hit})
		}
	}
	return out
}
