package toolserver

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"slices"
	"strings"
)

// Plot kinds.
const (
	KindHistogram = "histogram"
	KindBar       = "bar"
	KindLine      = "line"
	KindScatter   = "scatter"
)

// maxBins caps histogram resolution.
const maxBins = 20

// Chart is the plotter's result payload.
type Chart struct {
	Kind  string     `json:"kind"`
	Title string     `json:"title,omitempty"`
	Stats ChartStats `json:"stats"`
	Bins  []Bin      `json:"bins,omitempty"`
	SVG   string     `json:"svg"`
	Type  string     `json:"type"`
}

// ChartStats summarizes the plotted data.
type ChartStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Sum   float64 `json:"sum"`
}

// Bin is one histogram bucket covering [Low, High). The last bin also
// includes High.
type Bin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// Plotter renders numeric data as a chart summary with an inline SVG.
type Plotter struct{}

// Name implements [Tool].
func (Plotter) Name() string { return "plot" }

// Route implements [Tool].
func (Plotter) Route() string { return "/mcp/plot" }

// Invoke implements [Tool].
func (p Plotter) Invoke(_ context.Context, params map[string]any) (any, error) {
	kind, err := stringParam(params, "kind")
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = KindHistogram
	}
	title, err := stringParam(params, "title")
	if err != nil {
		return nil, err
	}
	data, err := floatsParam(params, "data")
	if err != nil {
		return nil, err
	}
	return RenderChart(kind, title, data)
}

var errNoData = errors.New("No data provided")

// RenderChart builds a chart of the given kind.
func RenderChart(kind, title string, data []float64) (*Chart, error) {
	if len(data) == 0 {
		return nil, errNoData
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("data must be finite numbers")
		}
	}

	c := &Chart{Kind: kind, Title: title, Stats: summarize(data), Type: "image/svg+xml"}
	switch kind {
	case KindHistogram:
		c.Bins = histogram(data)
		heights := make([]float64, len(c.Bins))
		for i, b := range c.Bins {
			heights[i] = float64(b.Count)
		}
		c.SVG = barsSVG(title, heights)
	case KindBar:
		c.SVG = barsSVG(title, data)
	case KindLine:
		c.SVG = pointsSVG(title, data, true)
	case KindScatter:
		c.SVG = pointsSVG(title, data, false)
	default:
		return nil, fmt.Errorf("unsupported plot kind %q", kind)
	}
	return c, nil
}

func summarize(data []float64) ChartStats {
	s := ChartStats{Count: len(data), Min: slices.Min(data), Max: slices.Max(data)}
	for _, v := range data {
		s.Sum += v
	}
	s.Mean = s.Sum / float64(len(data))
	return s
}

// histogram buckets data into ceil(sqrt(n)) equal-width bins.
func histogram(data []float64) []Bin {
	lo, hi := slices.Min(data), slices.Max(data)
	if lo == hi {
		return []Bin{{Low: lo, High: hi, Count: len(data)}}
	}

	n := int(math.Ceil(math.Sqrt(float64(len(data)))))
	n = max(1, min(n, maxBins))
	width := (hi - lo) / float64(n)

	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Low = lo + float64(i)*width
		bins[i].High = lo + float64(i+1)*width
	}
	bins[n-1].High = hi
	for _, v := range data {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		bins[i].Count++
	}
	return bins
}

const (
	svgWidth   = 400
	svgHeight  = 240
	svgPadding = 30
)

func svgOpen(b *strings.Builder, title string) {
	fmt.Fprintf(b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		svgWidth, svgHeight, svgWidth, svgHeight)
	if title != "" {
		fmt.Fprintf(b, `<title>%s</title><text x="%d" y="18" text-anchor="middle" font-size="12">%s</text>`,
			html.EscapeString(title), svgWidth/2, html.EscapeString(title))
	}
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="black"/>`,
		svgPadding, svgHeight-svgPadding, svgWidth-svgPadding, svgHeight-svgPadding)
}

// scaleY maps values onto the plot area. A flat series sits mid-height.
func scaleY(values []float64) func(float64) float64 {
	lo, hi := min(0, slices.Min(values)), max(0, slices.Max(values))
	top, bottom := float64(svgPadding), float64(svgHeight-svgPadding)
	if hi == lo {
		return func(float64) float64 { return (top + bottom) / 2 }
	}
	return func(v float64) float64 {
		return bottom - (v-lo)/(hi-lo)*(bottom-top)
	}
}

func barsSVG(title string, heights []float64) string {
	var b strings.Builder
	svgOpen(&b, title)
	y := scaleY(heights)
	zero := y(0)
	slot := float64(svgWidth-2*svgPadding) / float64(len(heights))
	for i, h := range heights {
		top, bottom := math.Min(y(h), zero), math.Max(y(h), zero)
		fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="steelblue"/>`,
			float64(svgPadding)+float64(i)*slot+1, top, math.Max(slot-2, 1), bottom-top)
	}
	b.WriteString(`</svg>`)
	return b.String()
}

func pointsSVG(title string, values []float64, connect bool) string {
	var b strings.Builder
	svgOpen(&b, title)
	y := scaleY(values)
	step := float64(svgWidth - 2*svgPadding)
	if len(values) > 1 {
		step /= float64(len(values) - 1)
	}
	points := make([]string, len(values))
	for i, v := range values {
		points[i] = fmt.Sprintf("%.1f,%.1f", float64(svgPadding)+float64(i)*step, y(v))
	}
	if connect {
		fmt.Fprintf(&b, `<polyline fill="none" stroke="steelblue" points="%s"/>`, strings.Join(points, " "))
	} else {
		for _, p := range points {
			xy := strings.SplitN(p, ",", 2)
			fmt.Fprintf(&b, `<circle cx="%s" cy="%s" r="3" fill="steelblue"/>`, xy[0], xy[1])
		}
	}
	b.WriteString(`</svg>`)
	return b.String()
}
