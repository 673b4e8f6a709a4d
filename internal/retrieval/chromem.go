package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"
)

// Chromem is an embedded vector index backed by chromem-go. With a path
// it persists to disk; without one it lives in memory.
type Chromem struct {
	col    *chromem.Collection
	logger *slog.Logger
}

// NewChromem opens (or creates) collection in the database at path.
// embed computes vectors for both documents and queries.
func NewChromem(path, collection string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*Chromem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", collection, err)
	}
	return &Chromem{
		col:    col,
		logger: logger.With("backend", "chromem", "collection", collection),
	}, nil
}

// TopK implements [Retriever]. An empty collection yields no passages.
func (c *Chromem) TopK(ctx context.Context, query string, k int) ([]Passage, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	n := c.col.Count()
	if n == 0 {
		return []Passage{}, nil
	}

	// chromem rejects nResults larger than the collection.
	results, err := c.col.Query(ctx, query, min(k, n), nil, nil)
	if err != nil {
		return nil, unavailable("chromem query: %v", err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, Passage{
			ID:     r.ID,
			Text:   r.Content,
			Score:  float64(r.Similarity),
			Source: r.Metadata["source"],
		})
	}
	return Normalize(passages, k), nil
}

// Add implements [Indexer]. Documents are keyed by content digest, so
// re-adding identical text replaces rather than duplicates it.
func (c *Chromem) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		md := make(map[string]string, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			md[k] = v
		}
		if d.Source != "" {
			md["source"] = d.Source
		}
		cdocs = append(cdocs, chromem.Document{
			ID:       ContentID(d.Text),
			Content:  d.Text,
			Metadata: md,
		})
	}
	if err := c.col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	c.logger.Debug("documents indexed", "count", len(cdocs), "total", c.col.Count())
	return nil
}

// Count implements [Indexer].
func (c *Chromem) Count(context.Context) (int, error) {
	return c.col.Count(), nil
}
