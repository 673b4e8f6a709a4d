package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKBClient_TopK(t *testing.T) {
	var got kbQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/query" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"query":"q","count":4,"documents":[
			{"content":"second","metadata":{"source_file":"b.pdf"},"distance":0.9},
			{"content":"first","metadata":{"source_file":"a.pdf"},"distance":0.3,"score":0.9},
			{"content":"first","metadata":{},"distance":0.3,"score":0.9},
			{"content":"far","metadata":{"source":"c.txt"},"distance":4.5}
		]}`))
	}))
	defer srv.Close()

	kb := NewKB(KBConfig{URL: srv.URL + "/", Collection: "docs"})
	passages, err := kb.TopK(context.Background(), "what is first", 3)
	if err != nil {
		t.Fatalf("TopK error: %v", err)
	}

	if got.Collection != "docs" || got.TopK != 3 || got.Query != "what is first" {
		t.Errorf("request = %+v", got)
	}
	if len(passages) != 3 {
		t.Fatalf("got %d passages, want 3 (duplicate dropped)", len(passages))
	}
	if passages[0].Text != "first" || passages[0].Source != "a.pdf" {
		t.Errorf("passages[0] = %+v", passages[0])
	}
	// score = max(0, 1 - 0.9/3) = 0.7
	if passages[1].Text != "second" || passages[1].Score < 0.699 || passages[1].Score > 0.701 {
		t.Errorf("passages[1] = %+v, want derived score 0.7", passages[1])
	}
	if passages[2].Score != 0 || passages[2].Source != "c.txt" {
		t.Errorf("passages[2] = %+v, want clamped score 0", passages[2])
	}
}

func TestKBClient_Unavailable(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Collection 'docs' not found"}`, http.StatusNotFound)
	}))
	defer notFound.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer garbage.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	for name, url := range map[string]string{"404": notFound.URL, "garbage": garbage.URL, "refused": closedURL} {
		t.Run(name, func(t *testing.T) {
			_, err := NewKB(KBConfig{URL: url, Collection: "docs"}).TopK(context.Background(), "q", 2)
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("TopK error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestKBClient_InvalidK(t *testing.T) {
	_, err := NewKB(KBConfig{URL: "http://kb"}).TopK(context.Background(), "q", 0)
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Errorf("TopK(k=0) error = %v, want argument error", err)
	}
}
