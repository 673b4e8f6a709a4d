// Package ingest loads documents into a retrieval index. Files are
// converted to text with docparse, Markdown is further split at its
// headings, and everything is cut into overlapping chunks before being
// added to the index.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/ragent/internal/docparse"
	"github.com/nugget/ragent/internal/retrieval"
)

// Ingester adds documents to an index.
type Ingester struct {
	index    retrieval.Indexer
	splitter Splitter
	logger   *slog.Logger
}

// New creates an Ingester writing to index. Zero size and overlap take
// the defaults.
func New(index retrieval.Indexer, size, overlap int, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if size == 0 && overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	return &Ingester{
		index:    index,
		splitter: NewSplitter(size, overlap),
		logger:   logger,
	}
}

// Stats reports what one ingestion did.
type Stats struct {
	Source string `json:"source"`
	Format string `json:"format"`
	Chunks int    `json:"chunks"`
	// Added counts chunks that were not already in the index.
	Added int `json:"added"`
}

// IngestFile parses the file at path and indexes its chunks.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	format, err := docparse.Detect(name, data)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", name, err)
	}
	return in.IngestBytes(ctx, name, data, format)
}

// IngestBytes indexes data of a known format under the given source name.
func (in *Ingester) IngestBytes(ctx context.Context, source string, data []byte, format docparse.Format) (Stats, error) {
	stats := Stats{Source: source, Format: string(format)}

	var docs []retrieval.Document
	if format == docparse.FormatMarkdown {
		for _, sec := range splitSections(strings.NewReader(string(data))) {
			parsed, err := docparse.Parse([]byte(sec.Content), docparse.FormatMarkdown)
			if err != nil {
				return stats, fmt.Errorf("%s: %w", source, err)
			}
			docs = append(docs, in.chunk(source, sec.Key, parsed.Text)...)
		}
	} else {
		parsed, err := docparse.Parse(data, format)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", source, err)
		}
		docs = in.chunk(source, "", parsed.Text)
	}
	stats.Chunks = len(docs)
	if len(docs) == 0 {
		in.logger.Warn("document has no text", "source", source, "format", format)
		return stats, nil
	}

	before, err := in.index.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count index: %w", err)
	}
	if err := in.index.Add(ctx, docs); err != nil {
		return stats, fmt.Errorf("index %s: %w", source, err)
	}
	after, err := in.index.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count index: %w", err)
	}
	stats.Added = after - before

	in.logger.Info("document ingested",
		"source", source,
		"format", format,
		"chunks", stats.Chunks,
		"added", stats.Added,
	)
	return stats, nil
}

// IngestText indexes plain text.
func (in *Ingester) IngestText(ctx context.Context, source, text string) (Stats, error) {
	return in.IngestBytes(ctx, source, []byte(text), docparse.FormatText)
}

func (in *Ingester) chunk(source, section, text string) []retrieval.Document {
	var docs []retrieval.Document
	for i, c := range in.splitter.Split(text) {
		md := map[string]string{
			"source_file": source,
			"chunk":       fmt.Sprint(i),
		}
		if section != "" {
			md["section"] = section
		}
		docs = append(docs, retrieval.Document{Text: c, Source: source, Metadata: md})
	}
	return docs
}
