package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/ragent/internal/embeddings"
)

// SQLiteStore keeps passages and their embeddings in SQLite and ranks
// them by cosine similarity in process.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	embed      embeddings.Embedder
	logger     *slog.Logger
}

// NewSQLite opens the database at path.
func NewSQLite(path, collection string, embed embeddings.Embedder, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewSQLiteWithDB(db, collection, embed, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteWithDB uses an existing database connection.
func NewSQLiteWithDB(db *sql.DB, collection string, embed embeddings.Embedder, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{
		db:         db,
		collection: collection,
		embed:      embed,
		logger:     logger.With("backend", "sqlite", "collection", collection),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS passages (
			id TEXT NOT NULL,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			source TEXT,
			embedding TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_passages_collection ON passages(collection);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add implements [Indexer].
func (s *SQLiteStore) Add(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, d := range docs {
		vec, err := s.embed.Generate(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed document %d: %w", i, err)
		}
		enc, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO passages (id, collection, content, source, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO NOTHING`,
			ContentID(d.Text), s.collection, d.Text, d.Source, string(enc), now,
		)
		if err != nil {
			return fmt.Errorf("insert passage: %w", err)
		}
	}
	return tx.Commit()
}

// Count implements [Indexer].
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passages WHERE collection = ?`, s.collection,
	).Scan(&n)
	return n, err
}

// TopK implements [Retriever].
func (s *SQLiteStore) TopK(ctx context.Context, query string, k int) ([]Passage, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}

	qvec, err := s.embed.Generate(ctx, query)
	if err != nil {
		return nil, unavailable("embed query: %v", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, COALESCE(source, ''), embedding
		FROM passages WHERE collection = ?
		ORDER BY created_at, id`, s.collection)
	if err != nil {
		return nil, unavailable("query passages: %v", err)
	}
	defer rows.Close()

	var (
		candidates []Passage
		vectors    [][]float32
	)
	for rows.Next() {
		var (
			p   Passage
			enc string
			vec []float32
		)
		if err := rows.Scan(&p.ID, &p.Text, &p.Source, &enc); err != nil {
			return nil, unavailable("scan passage: %v", err)
		}
		if err := json.Unmarshal([]byte(enc), &vec); err != nil {
			s.logger.Warn("skipping passage with corrupt embedding", "id", p.ID, "error", err)
			continue
		}
		candidates = append(candidates, p)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read passages: %v", err)
	}

	ranked := embeddings.TopK(qvec, vectors, len(vectors))
	passages := make([]Passage, 0, len(ranked))
	for _, r := range ranked {
		p := candidates[r.Index]
		p.Score = float64(r.Score)
		passages = append(passages, p)
	}
	return Normalize(passages, k), nil
}
