package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func setupSQLite(t *testing.T, emb letterEmbedder) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteWithDB(db, "docs", emb, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSQLiteStore_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t, letterEmbedder{})

	docs := []Document{
		{Text: "the quick brown fox", Source: "fox.txt"},
		{Text: "average of the numbers", Source: "stats.md"},
		{Text: "the quick brown fox", Source: "dup.txt"},
	}
	if err := s.Add(ctx, docs); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}

	got, err := s.TopK(ctx, "quick fox", 5)
	if err != nil {
		t.Fatalf("TopK error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("TopK returned %d passages, want 2", len(got))
	}
	if got[0].Source != "fox.txt" {
		t.Errorf("best = %+v, want the fox passage from its first source", got[0])
	}

	// Same query, same index, same order.
	again, _ := s.TopK(ctx, "quick fox", 5)
	for i := range got {
		if got[i].ID != again[i].ID {
			t.Errorf("order changed between identical queries at %d", i)
		}
	}
}

func TestSQLiteStore_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := setupSQLite(t, letterEmbedder{})
	if err := s.Add(ctx, []Document{{Text: "only in docs"}}); err != nil {
		t.Fatal(err)
	}

	other, err := NewSQLiteWithDB(s.db, "other", letterEmbedder{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := other.TopK(ctx, "docs", 3)
	if err != nil {
		t.Fatalf("TopK error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("other collection returned %v", got)
	}
}

func TestSQLiteStore_EmbedFailure(t *testing.T) {
	s := setupSQLite(t, letterEmbedder{fail: true})
	_, err := s.TopK(context.Background(), "q", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("TopK error = %v, want ErrUnavailable", err)
	}
}
