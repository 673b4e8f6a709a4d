package selector

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nugget/ragent/internal/registry"
	"github.com/nugget/ragent/internal/retrieval"
)

// maxNumbers caps how many numbers are lifted from text into parameters.
const maxNumbers = 100

var (
	wordOps = []struct {
		re *regexp.Regexp
		op string
	}{
		{regexp.MustCompile(`\bmultiplied by\b`), "*"},
		{regexp.MustCompile(`\bdivided by\b`), "/"},
		{regexp.MustCompile(`\bto the power of\b`), "^"},
		{regexp.MustCompile(`\bplus\b`), "+"},
		{regexp.MustCompile(`\bminus\b`), "-"},
		{regexp.MustCompile(`\btimes\b`), "*"},
		{regexp.MustCompile(`\bmod\b`), "%"},
	}
	// "3 x 4" as multiplication.
	crossRe = regexp.MustCompile(`(\d)\s*x\s*(\d)`)
	exprRe  = regexp.MustCompile(`[\d.()+\-*/^%\s]+`)
	numRe   = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?`)
	urlRe   = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// BuildParams derives the parameters for tool from the query and the
// retrieved passages. The same inputs always produce the same output.
func BuildParams(tool, query string, passages []retrieval.Passage) map[string]any {
	switch tool {
	case registry.Calculator:
		return calculatorParams(query, passages)
	case registry.Plot:
		return plotParams(query, passages)
	case registry.Parser:
		return parserParams(query, passages)
	default:
		return map[string]any{"query": query}
	}
}

func calculatorParams(query string, passages []retrieval.Passage) map[string]any {
	if expr := extractExpression(query); expr != "" {
		return map[string]any{"expression": expr}
	}

	nums := numbersIn(query)
	if len(nums) == 0 {
		nums = passageNumbers(passages)
	}
	if len(nums) == 0 {
		// No expression; the client rejects the step before sending it.
		return map[string]any{"query": query}
	}
	return map[string]any{"expression": aggregateExpression(aggregateOf(query), nums)}
}

// extractExpression returns the longest arithmetic run in the query after
// spelling out word operators, or "" if there is none.
func extractExpression(query string) string {
	s := strings.ToLower(query)
	for _, w := range wordOps {
		s = w.re.ReplaceAllString(s, w.op)
	}
	s = crossRe.ReplaceAllString(s, "$1 * $2")

	best := ""
	for _, run := range exprRe.FindAllString(s, -1) {
		run = strings.TrimLeft(run, " .+*/^%)")
		run = strings.TrimRight(run, " .+-*/^%(")
		if !looksArithmetic(run) {
			continue
		}
		if len(run) > len(best) {
			best = run
		}
	}
	return strings.Join(strings.Fields(best), " ")
}

func aggregateOf(query string) string {
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(query), -1) {
		words[w] = true
	}
	switch {
	case words["average"] || words["mean"]:
		return "average"
	case words["median"]:
		return "median"
	default:
		return "sum"
	}
}

func aggregateExpression(kind string, nums []float64) string {
	switch kind {
	case "median":
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return formatNumber(sorted[mid])
		}
		return "(" + formatNumber(sorted[mid-1]) + " + " + formatNumber(sorted[mid]) + ") / 2"
	case "average":
		return "(" + joinNumbers(nums) + ") / " + strconv.Itoa(len(nums))
	default:
		return joinNumbers(nums)
	}
}

func joinNumbers(nums []float64) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = formatNumber(n)
	}
	return strings.Join(parts, " + ")
}

func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if f < 0 {
		return "(" + s + ")"
	}
	return s
}

// numbersIn lists the numbers in s in order of appearance. A minus sign
// counts only when it does not follow a letter or digit, so ranges like
// "2019-2021" stay positive.
func numbersIn(s string) []float64 {
	var out []float64
	for _, loc := range numRe.FindAllStringIndex(s, -1) {
		start := loc[0]
		if s[start] == '-' && start > 0 && isAlnum(s[start-1]) {
			start++
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s[start:loc[1]], ",", ""), 64)
		if err != nil {
			continue
		}
		out = append(out, f)
		if len(out) == maxNumbers {
			break
		}
	}
	return out
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func passageNumbers(passages []retrieval.Passage) []float64 {
	var out []float64
	for _, p := range passages {
		out = append(out, numbersIn(p.Text)...)
		if len(out) >= maxNumbers {
			return out[:maxNumbers]
		}
	}
	return out
}

func plotParams(query string, passages []retrieval.Passage) map[string]any {
	data := numbersIn(query)
	if len(data) == 0 {
		data = passageNumbers(passages)
	}
	if data == nil {
		data = []float64{}
	}
	return map[string]any{
		"kind":  plotKind(query),
		"data":  data,
		"title": plotTitle(query),
	}
}

func plotKind(query string) string {
	lower := strings.ToLower(query)
	for _, k := range []struct{ word, kind string }{
		{"histogram", "histogram"},
		{"scatter", "scatter"},
		{"line", "line"},
		{"trend", "line"},
		{"bar", "bar"},
	} {
		if strings.Contains(lower, k.word) {
			return k.kind
		}
	}
	return "histogram"
}

func plotTitle(query string) string {
	t := strings.TrimSpace(query)
	if r := []rune(t); len(r) > 80 {
		t = string(r[:77]) + "..."
	}
	return t
}

func parserParams(query string, passages []retrieval.Passage) map[string]any {
	if u := urlRe.FindString(query); u != "" {
		return map[string]any{"url": strings.TrimRight(u, ".,;:!?)")}
	}
	content := query
	if len(passages) > 0 {
		content = passages[0].Text
	}
	return map[string]any{"content": content, "format": "text"}
}
