package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/ragent/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		cfg      config.SelectorConfig
		wantName string
		wantErr  bool
	}{
		{config.SelectorConfig{Provider: "ollama", Model: "llama3"}, "ollama/llama3", false},
		{config.SelectorConfig{}, "ollama/" + DefaultOllamaModel, false},
		{config.SelectorConfig{Provider: "anthropic", APIKey: "k"}, "anthropic/" + DefaultAnthropicModel, false},
		{config.SelectorConfig{Provider: "openai", APIKey: "k", Model: "gpt-test"}, "openai/gpt-test", false},
		{config.SelectorConfig{Provider: "anthropic"}, "", true},
		{config.SelectorConfig{Provider: "parrot"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Provider+"/"+tt.wantName, func(t *testing.T) {
			r, err := New(tt.cfg, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && r.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", r.Name(), tt.wantName)
			}
		})
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(ollamaChatResponse{
				Model:   got.Model,
				Message: ollamaMessage{Role: "assistant", Content: `{"tool":"calculator"}`},
				Done:    true,
			})
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", discardLogger())
	out, err := c.Complete(context.Background(), "sys", "what is 2+2")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if out != `{"tool":"calculator"}` {
		t.Errorf("Complete = %q", out)
	}
	if got.Stream || got.Format != "json" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestOllamaClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "missing", discardLogger()).Complete(context.Background(), "s", "p")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Complete error = %v, want API error 404", err)
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"tool\":\"plot\",\"rationale\":\"chart\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", srv.URL, "claude-test", discardLogger())
	out, err := c.Complete(context.Background(), "pick a tool", "plot my data")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if out != `{"tool":"plot","rationale":"chart"}` {
		t.Errorf("Complete = %q", out)
	}
	if body["model"] != "claude-test" {
		t.Errorf("model sent = %v", body["model"])
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"tool\":\"none\"}"}}]
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", srv.URL, "gpt-test", discardLogger())
	out, err := c.Complete(context.Background(), "sys", "hello")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if out != `{"tool":"none"}` {
		t.Errorf("Complete = %q", out)
	}
}
