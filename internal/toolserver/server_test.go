package toolserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type panicTool struct{}

func (panicTool) Name() string  { return "broken" }
func (panicTool) Route() string { return "/mcp/broken" }
func (panicTool) Invoke(context.Context, map[string]any) (any, error) {
	panic("boom")
}

func newTestServer(t *testing.T, tools ...Tool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("", 0, discardLogger(), tools...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, mcp.ResponseEnvelope) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var env mcp.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestServer_Envelopes(t *testing.T) {
	srv := newTestServer(t, Calculator{}, panicTool{})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantEnv    string
		wantText   string
	}{
		{"success", "/mcp/calculate", `{"method":"invoke","params":{"expression":"5 + 3 * 2"}}`, 200, mcp.StatusSuccess, `"value":11`},
		{"application error", "/mcp/calculate", `{"method":"invoke","params":{"expression":""}}`, 200, mcp.StatusError, "No expression provided"},
		{"no params", "/mcp/calculate", `{"method":"invoke"}`, 200, mcp.StatusError, "No expression provided"},
		{"malformed", "/mcp/calculate", `{"method":`, 400, mcp.StatusError, "invalid request"},
		{"wrong method", "/mcp/calculate", `{"method":"describe","params":{}}`, 400, mcp.StatusError, "unsupported method"},
		{"panic", "/mcp/broken", `{"method":"invoke","params":{}}`, 200, mcp.StatusError, "internal error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := post(t, srv.URL+tt.path, tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if env.Status != tt.wantEnv {
				t.Errorf("envelope status = %q, want %q", env.Status, tt.wantEnv)
			}
			got := env.Error + string(env.Result)
			if !strings.Contains(got, tt.wantText) {
				t.Errorf("envelope = %q, want it to contain %q", got, tt.wantText)
			}
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Calculator{})
	resp, err := http.Get(srv.URL + "/mcp/calculate")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name  string
		tools []Tool
		want  map[string]any
	}{
		{"single", []Tool{Calculator{}}, map[string]any{"status": "healthy", "tool": "calculator"}},
		{"several", []Tool{Calculator{}, Plotter{}}, map[string]any{"status": "healthy", "tools": []any{"calculator", "plot"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.tools...)
			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var got map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("health = %v, want %v", got, tt.want)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("health = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

// TestEndToEnd drives the reference tools through the retrying client.
func TestEndToEnd(t *testing.T) {
	srv := newTestServer(t, Calculator{}, Plotter{}, NewParser(nil))

	reg, err := registry.New(map[string]string{
		registry.Calculator: srv.URL,
		registry.Plot:       srv.URL,
		registry.Parser:     srv.URL,
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	client := mcp.NewClient(mcp.Options{
		Transport: mcp.NewHTTPTransportWithClient(srv.Client(), discardLogger()),
		Clock:     mcp.NewFakeClock(time.Unix(0, 0)),
		Logger:    discardLogger(),
	})
	ctx := context.Background()

	calc, _ := reg.Lookup(registry.Calculator)
	res := client.Invoke(ctx, calc, mcp.Request{
		ToolName:   registry.Calculator,
		Parameters: map[string]any{"expression": "5 + 3 * 2"},
	})
	if !res.OK() || res.Attempts != 1 {
		t.Fatalf("calculator result = %+v", res)
	}
	var value Calculation
	if err := json.Unmarshal(res.Success.Payload, &value); err != nil {
		t.Fatal(err)
	}
	if value.Value != 11.0 || res.Success.ResultType != "numeric" {
		t.Errorf("calculation = %+v, type %q", value, res.Success.ResultType)
	}

	res = client.Invoke(ctx, calc, mcp.Request{Parameters: map[string]any{"expression": "1 / 0"}})
	if res.Kind() != mcp.KindApplicationError || res.Attempts != 1 {
		t.Errorf("division by zero = %+v", res)
	}

	plot, _ := reg.Lookup(registry.Plot)
	res = client.Invoke(ctx, plot, mcp.Request{Parameters: map[string]any{"kind": "bar", "data": []float64{1, 2, 3}}})
	if !res.OK() || res.Success.ResultType != "image/svg+xml" {
		t.Errorf("plot result = %+v", res)
	}

	parser, _ := reg.Lookup(registry.Parser)
	res = client.Invoke(ctx, parser, mcp.Request{Parameters: map[string]any{"content": "hello"}})
	if !res.OK() || res.Success.ResultType != "document" {
		t.Errorf("parser result = %+v", res)
	}
}
