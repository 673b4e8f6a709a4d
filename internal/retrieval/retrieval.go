// Package retrieval fetches the passages most relevant to a query.
//
// Every backend returns results through [Normalize], so callers always
// see at most k passages with distinct text, ordered by descending
// score. A backend that cannot answer returns an error wrapping
// [ErrUnavailable]; the orchestrator treats that as non-fatal.
package retrieval

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// ErrUnavailable means the index could not be queried.
var ErrUnavailable = errors.New("retrieval unavailable")

// Passage is one retrieved text fragment.
type Passage struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Retriever returns the top k passages for a query. k must be >= 1.
type Retriever interface {
	TopK(ctx context.Context, query string, k int) ([]Passage, error)
}

// Document is a unit of text to index.
type Document struct {
	Text   string
	Source string
	// Metadata is stored alongside the text where the backend supports it.
	Metadata map[string]string
}

// Indexer is implemented by backends that can ingest documents.
// Adding text that is already indexed is a no-op.
type Indexer interface {
	Add(ctx context.Context, docs []Document) error
	Count(ctx context.Context) (int, error)
}

// Normalize sorts passages by descending score, drops later passages
// whose text repeats an earlier one, and truncates to k. Ties keep their
// input order. The input slice is not modified.
func Normalize(passages []Passage, k int) []Passage {
	sorted := append([]Passage(nil), passages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	seen := make(map[string]bool, len(sorted))
	out := make([]Passage, 0, min(k, len(sorted)))
	for _, p := range sorted {
		if len(out) >= k {
			break
		}
		if seen[p.Text] {
			continue
		}
		seen[p.Text] = true
		out = append(out, p)
	}
	return out
}

// ContentID returns the hex BLAKE2b-256 digest of text, used as the
// stable identity of a passage.
func ContentID(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func checkK(k int) error {
	if k < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", k)
	}
	return nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Disabled is the "none" backend. Every query is unavailable.
type Disabled struct{}

// TopK always fails with ErrUnavailable.
func (Disabled) TopK(context.Context, string, int) ([]Passage, error) {
	return nil, unavailable("retrieval is disabled")
}
