// Package registry maps tool names to their remote endpoints.
//
// A [Registry] is built once from configuration and never mutated, so a
// single instance is shared by every concurrent query without locking.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Known tool names.
const (
	Calculator = "calculator"
	Plot       = "plot"
	Parser     = "parser"
)

// ErrUnknownTool is returned by [Registry.Get] when a name has no
// configured endpoint.
var ErrUnknownTool = errors.New("unknown tool")

// RequestShape lists the parameter names a tool requires.
type RequestShape struct {
	Required []string `json:"required,omitempty"`
}

// ResponseShape describes what a successful invocation returns.
type ResponseShape struct {
	// ResultType is the default type tag for a result payload that does
	// not declare one itself.
	ResultType string `json:"result_type"`
}

// ToolEndpoint is one configured tool.
type ToolEndpoint struct {
	Name          string        `json:"name" validate:"required,excludesall=/?# "`
	BaseURL       string        `json:"base_url" validate:"required,http_url"`
	URL           string        `json:"url"`
	RequestShape  RequestShape  `json:"request_shape"`
	ResponseShape ResponseShape `json:"response_shape"`
}

type wellKnown struct {
	route  string
	req    RequestShape
	result string
}

var builtin = map[string]wellKnown{
	Calculator: {route: "/mcp/calculate", req: RequestShape{Required: []string{"expression"}}, result: "numeric"},
	Plot:       {route: "/mcp/plot", req: RequestShape{Required: []string{"data"}}, result: "image/svg+xml"},
	Parser:     {route: "/mcp/parse", result: "document"},
}

// Registry is an immutable name → endpoint map.
type Registry struct {
	endpoints map[string]ToolEndpoint
	names     []string
}

// New builds a registry from a name → base URL map. Entries with an
// empty URL are legal and leave the tool unconfigured. Any invalid entry
// fails construction; all problems are reported together.
func New(tools map[string]string) (*Registry, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Registry{endpoints: make(map[string]ToolEndpoint, len(tools))}
	var errs []error
	for _, name := range names {
		base := strings.TrimSpace(tools[name])
		if base == "" {
			continue
		}
		ep := newEndpoint(name, base)
		if err := v.Struct(ep); err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", name, err))
			continue
		}
		r.endpoints[name] = ep
		r.names = append(r.names, name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func newEndpoint(name, base string) ToolEndpoint {
	s, ok := builtin[name]
	if !ok {
		s = wellKnown{route: "/mcp/" + name, result: "json"}
	}
	req := RequestShape{Required: append([]string(nil), s.req.Required...)}
	return ToolEndpoint{
		Name:          name,
		BaseURL:       base,
		URL:           strings.TrimRight(base, "/") + s.route,
		RequestShape:  req,
		ResponseShape: ResponseShape{ResultType: s.result},
	}
}

// Lookup returns the endpoint for name. The returned value is a copy.
func (r *Registry) Lookup(name string) (ToolEndpoint, bool) {
	ep, ok := r.endpoints[name]
	if !ok {
		return ToolEndpoint{}, false
	}
	ep.RequestShape.Required = append([]string(nil), ep.RequestShape.Required...)
	return ep, true
}

// Get is Lookup with an error for callers that propagate errors.
func (r *Registry) Get(name string) (ToolEndpoint, error) {
	ep, ok := r.Lookup(name)
	if !ok {
		return ToolEndpoint{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return ep, nil
}

// Names returns configured tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Endpoints returns all configured endpoints in name order.
func (r *Registry) Endpoints() []ToolEndpoint {
	out := make([]ToolEndpoint, 0, len(r.names))
	for _, n := range r.names {
		ep, _ := r.Lookup(n)
		out = append(out, ep)
	}
	return out
}

// Len returns the number of configured tools.
func (r *Registry) Len() int { return len(r.names) }
