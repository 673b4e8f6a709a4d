// Package llm provides the reasoning backends used by the model-based
// tool selector: a local Ollama server, the Anthropic Messages API, and
// any OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/ragent/internal/config"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Reasoner answers a single-turn prompt with text. Implementations are
// safe for concurrent use.
type Reasoner interface {
	// Complete sends system and prompt and returns the model's reply.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Name identifies the provider and model for logs and rationales.
	Name() string
}

// New builds the reasoner named by cfg.Provider.
func New(cfg config.SelectorConfig, logger *slog.Logger) (Reasoner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, logger), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api_key")
		}
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model, logger), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api_key")
		}
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}
