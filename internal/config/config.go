// Package config handles Ragent configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/ragent/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ragent/config.yaml, /etc/ragent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ragent", "config.yaml"))
	}

	paths = append(paths, "/etc/ragent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Ragent configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Tools        map[string]string  `yaml:"tools"`
	MCP          MCPConfig          `yaml:"mcp"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Selector     SelectorConfig     `yaml:"selector"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	ToolServer   ToolServerConfig   `yaml:"toolserver"`
	Paths        map[string]string  `yaml:"paths"` // named document roots for ingest, e.g. docs: ~/notes
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format" validate:"omitempty,oneof=text json"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" validate:"min=0,max=65535"`
}

// MCPConfig tunes tool invocation. The attempt schedule is
// initial_backoff doubling per attempt, capped at max_backoff.
type MCPConfig struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"min=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=0,max=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"min=0"`
}

// RetrievalConfig selects and configures the passage index.
type RetrievalConfig struct {
	// Backend is one of kb (remote knowledge-base API), chromem
	// (embedded vector store), sqlite, or none.
	Backend    string           `yaml:"backend" validate:"omitempty,oneof=kb chromem sqlite none"`
	URL        string           `yaml:"url" validate:"required_if=Backend kb"`
	Collection string           `yaml:"collection"`
	TopK       int              `yaml:"top_k" validate:"min=0"`
	Timeout    time.Duration    `yaml:"timeout" validate:"min=0"`
	Path       string           `yaml:"path"` // on-disk index for chromem and sqlite; empty = in-memory
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig defines embedding generation settings for the local
// backends.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL
}

// SelectorConfig chooses how a query becomes a tool plan.
type SelectorConfig struct {
	Strategy string        `yaml:"strategy" validate:"omitempty,oneof=keyword model"`
	Provider string        `yaml:"provider" validate:"omitempty,oneof=ollama anthropic openai"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

// OrchestratorConfig bounds a single query.
type OrchestratorConfig struct {
	Deadline time.Duration `yaml:"deadline" validate:"min=0"`
	CallerID string        `yaml:"caller_id"`
}

// ToolServerConfig is read by ragent-tools.
type ToolServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port" validate:"min=0,max=65535"`
}

// Load reads configuration from a YAML file. A .env file in the same
// directory as path, and one in the working directory, are loaded first
// so their variables are available to ${VAR} expansion. Variables that
// are already set in the environment win.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.MCP.AttemptTimeout == 0 {
		c.MCP.AttemptTimeout = 10 * time.Second
	}
	if c.MCP.MaxAttempts == 0 {
		c.MCP.MaxAttempts = 3
	}
	if c.MCP.InitialBackoff == 0 {
		c.MCP.InitialBackoff = time.Second
	}
	if c.MCP.MaxBackoff == 0 {
		c.MCP.MaxBackoff = 4 * time.Second
	}
	if c.Retrieval.Backend == "" {
		c.Retrieval.Backend = "none"
		if c.Retrieval.URL != "" {
			c.Retrieval.Backend = "kb"
		}
	}
	c.Retrieval.Path = paths.ExpandHome(c.Retrieval.Path)
	if c.Retrieval.Collection == "" {
		c.Retrieval.Collection = "default"
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.Timeout == 0 {
		c.Retrieval.Timeout = 5 * time.Second
	}
	if c.Retrieval.Embeddings.Model == "" {
		c.Retrieval.Embeddings.Model = "nomic-embed-text"
	}
	if c.Retrieval.Embeddings.BaseURL == "" {
		c.Retrieval.Embeddings.BaseURL = "http://localhost:11434"
	}
	if c.Selector.Strategy == "" {
		c.Selector.Strategy = "keyword"
	}
	if c.Selector.Provider == "" {
		c.Selector.Provider = "ollama"
	}
	if c.Selector.Timeout == 0 {
		c.Selector.Timeout = 15 * time.Second
	}
	if c.Orchestrator.Deadline == 0 {
		c.Orchestrator.Deadline = 60 * time.Second
	}
	if c.ToolServer.Port == 0 {
		c.ToolServer.Port = 8090
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks struct constraints and the log level. Tool URLs are
// validated by the registry when it is built.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Selector.Strategy == "model" && c.Selector.Provider != "ollama" && c.Selector.APIKey == "" {
		return fmt.Errorf("selector.api_key is required for provider %q", c.Selector.Provider)
	}
	return nil
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}

// ToolServerAddr returns the host:port ragent-tools binds to.
func (c *Config) ToolServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ToolServer.Address, c.ToolServer.Port)
}
