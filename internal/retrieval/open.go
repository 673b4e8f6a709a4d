package retrieval

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nugget/ragent/internal/config"
	"github.com/nugget/ragent/internal/embeddings"
)

// Backend bundles a configured retriever with its optional indexer.
type Backend struct {
	Retriever
	// Indexer is nil for backends that cannot ingest (kb, none).
	Indexer Indexer
	Name    string

	close func() error
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the backend named by cfg.Backend.
func Open(cfg config.RetrievalConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", "none":
		return &Backend{Retriever: Disabled{}, Name: "none"}, nil

	case "kb":
		kb := NewKB(KBConfig{
			URL:        cfg.URL,
			Collection: cfg.Collection,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		})
		return &Backend{Retriever: kb, Name: "kb"}, nil

	case "chromem":
		emb := embeddings.New(embeddings.Config{BaseURL: cfg.Embeddings.BaseURL, Model: cfg.Embeddings.Model})
		c, err := NewChromem(cfg.Path, cfg.Collection, emb.Generate, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Retriever: c, Indexer: c, Name: "chromem"}, nil

	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(".", "ragent.db")
		}
		emb := embeddings.New(embeddings.Config{BaseURL: cfg.Embeddings.BaseURL, Model: cfg.Embeddings.Model})
		s, err := NewSQLite(path, cfg.Collection, emb, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Retriever: s, Indexer: s, Name: "sqlite", close: s.Close}, nil

	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", cfg.Backend)
	}
}
