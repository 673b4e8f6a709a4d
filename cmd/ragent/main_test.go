package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/ragent/internal/orchestrator"
	"github.com/nugget/ragent/internal/toolserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func toolServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(toolserver.NewServer("", 0, discardLogger(),
		toolserver.Calculator{}, toolserver.Plotter{}, toolserver.NewParser(nil)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// embedServer answers Ollama embedding requests with letter-frequency
// vectors.
func embedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		v := make([]float64, 26)
		for _, c := range strings.ToLower(req.Prompt) {
			if c >= 'a' && c <= 'z' {
				v[c-'a']++
			}
		}
		var norm float64
		for _, x := range v {
			norm += x * x
		}
		if norm == 0 {
			v[0], norm = 1, 1
		}
		for i := range v {
			v[i] /= math.Sqrt(norm)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": v})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: ragent") {
			t.Errorf("run(%v) output = %q", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"launch"}, "unknown command: launch"},
		{"unknown flag", []string{"-verbose", "ask"}, "unknown flag: -verbose"},
		{"bad output", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without query", []string{"ask"}, "usage: ragent ask"},
		{"ingest without files", []string{"ingest"}, "usage: ragent ingest"},
		{"missing config", []string{"-config", "/nonexistent/ragent.yaml", "ask", "hi"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), io.Discard, io.Discard, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %v, want %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("version info = %v", info)
	}

	out.Reset()
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("text version = %q", out.String())
	}
}

func TestRun_Ask(t *testing.T) {
	tools := toolServer(t)
	cfg := writeConfig(t, `
tools:
  calculator: `+tools.URL+`
  plot: `+tools.URL+`
log_level: warn
`)

	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfg, "ask", "calculate", "5 + 3 * 2"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	text := out.String()
	for _, want := range []string{"query: calculate 5 + 3 * 2", "plan: calculator", `"value":11`} {
		if !strings.Contains(text, want) {
			t.Errorf("ask output missing %q:\n%s", want, text)
		}
	}

	out.Reset()
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfg, "-o", "json", "ask", "hello there"}); err != nil {
		t.Fatalf("ask json: %v", err)
	}
	var res orchestrator.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("ask json output: %v\n%s", err, out.String())
	}
	if len(res.Plan.Steps) != 0 || len(res.ToolResults) != 0 {
		t.Errorf("no-keyword query ran tools: %+v", res)
	}
}

func TestRun_Ingest(t *testing.T) {
	emb := embedServer(t)
	dir := t.TempDir()
	cfg := writeConfig(t, `
retrieval:
  backend: chromem
  path: `+filepath.Join(dir, "index")+`
  embeddings:
    baseurl: `+emb.URL+`
paths:
  notes: `+dir+`
log_level: warn
`)
	doc := filepath.Join(dir, "notes.md")
	os.WriteFile(doc, []byte("# Ferns\n\nWater ferns weekly.\n\n# Cacti\n\nWater cacti monthly.\n"), 0o600)

	var out bytes.Buffer
	args := []string{"-config", cfg, "ingest", "-collection", "plants", doc}
	if err := run(context.Background(), &out, io.Discard, args); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if want := "notes.md: 2 chunks (2 new) from markdown into plants"; !strings.Contains(out.String(), want) {
		t.Errorf("ingest output = %q, want %q", out.String(), want)
	}

	// Same file through its named root.
	out.Reset()
	args = []string{"-config", cfg, "ingest", "-collection", "plants", "notes:notes.md"}
	if err := run(context.Background(), &out, io.Discard, args); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if want := "(0 new)"; !strings.Contains(out.String(), want) {
		t.Errorf("re-ingest output = %q, want %q", out.String(), want)
	}
}

func TestRun_IngestNeedsLocalIndex(t *testing.T) {
	cfg := writeConfig(t, "log_level: warn\n")
	doc := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(doc, []byte("hello"), 0o600)

	err := run(context.Background(), io.Discard, io.Discard, []string{"-config", cfg, "ingest", doc})
	if err == nil || !strings.Contains(err.Error(), "does not support ingestion") {
		t.Errorf("ingest error = %v", err)
	}
}

func TestRun_Tools(t *testing.T) {
	tools := toolServer(t)
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	cfg := writeConfig(t, `
tools:
  calculator: `+tools.URL+`
  plot: `+downURL+`
  parser: ""
`)

	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfg, "-o", "json", "tools"}); err != nil {
		t.Fatalf("tools: %v", err)
	}
	var reports []toolReport
	if err := json.Unmarshal(out.Bytes(), &reports); err != nil {
		t.Fatalf("tools output: %v\n%s", err, out.String())
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %+v, want calculator and plot only", reports)
	}
	if reports[0].Name != "calculator" || !reports[0].Healthy {
		t.Errorf("calculator = %+v", reports[0])
	}
	if reports[1].Name != "plot" || reports[1].Healthy || reports[1].Error == "" {
		t.Errorf("plot = %+v", reports[1])
	}
}
