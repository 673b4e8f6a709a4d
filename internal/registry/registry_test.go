package registry

import (
	"errors"
	"reflect"
	"testing"
)

func TestNew_BuildsEndpoints(t *testing.T) {
	r, err := New(map[string]string{
		"calculator": "http://localhost:8001/",
		"plot":       "http://localhost:8002",
		"parser":     "",
		"weather":    "https://tools.example.com/v2",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name       string
		wantURL    string
		wantResult string
	}{
		{"calculator", "http://localhost:8001/mcp/calculate", "numeric"},
		{"plot", "http://localhost:8002/mcp/plot", "image/svg+xml"},
		{"weather", "https://tools.example.com/v2/mcp/weather", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, ok := r.Lookup(tt.name)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tt.name)
			}
			if ep.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", ep.URL, tt.wantURL)
			}
			if ep.ResponseShape.ResultType != tt.wantResult {
				t.Errorf("ResultType = %q, want %q", ep.ResponseShape.ResultType, tt.wantResult)
			}
		})
	}

	if _, ok := r.Lookup("parser"); ok {
		t.Error("parser with empty URL should be unconfigured")
	}
	if got, want := r.Names(), []string{"calculator", "plot", "weather"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	tests := map[string]string{
		"relative": "localhost:8001",
		"scheme":   "ftp://calc.example.com",
		"garbage":  "::::",
	}
	for name, url := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(map[string]string{"calculator": url}); err == nil {
				t.Errorf("New(%q) succeeded, want validation error", url)
			}
		})
	}
}

func TestNew_Empty(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestGet_Unknown(t *testing.T) {
	r, _ := New(map[string]string{"calculator": "http://calc"})
	_, err := r.Get("plot")
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Get(plot) error = %v, want ErrUnknownTool", err)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	r, _ := New(map[string]string{"calculator": "http://calc"})
	ep, _ := r.Lookup("calculator")
	ep.RequestShape.Required[0] = "mutated"
	ep.URL = "http://evil"

	again, _ := r.Lookup("calculator")
	if again.RequestShape.Required[0] != "expression" || again.URL != "http://calc/mcp/calculate" {
		t.Errorf("registry mutated through returned value: %+v", again)
	}
}
