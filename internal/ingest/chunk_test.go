package ingest

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitter_Overlap(t *testing.T) {
	s := NewSplitter(10, 4)
	got := s.Split("aaaa bbbb cccc dddd")
	want := []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplitter_PrefersParagraphs(t *testing.T) {
	s := NewSplitter(40, 0)
	text := "First paragraph is short.\n\nSecond paragraph is also short."
	got := s.Split(text)
	want := []string{"First paragraph is short.", "Second paragraph is also short."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplitter_Bounds(t *testing.T) {
	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("lorem ipsum dolor ")
	}
	chunks := s.Split(b.String())
	if len(chunks) < 7 {
		t.Fatalf("got %d chunks, want at least 7", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > DefaultChunkSize {
			t.Errorf("chunk %d has %d chars", i, n)
		}
	}
	// Consecutive chunks share text.
	tail := chunks[0][len(chunks[0])-50:]
	if !strings.Contains(chunks[1], strings.TrimSpace(tail)) {
		t.Errorf("chunk 1 does not overlap chunk 0")
	}
}

func TestSplitter_LongWord(t *testing.T) {
	s := NewSplitter(5, 0)
	got := s.Split("abcdefghijkl")
	want := []string{"abcde", "fghij", "kl"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split() = %q, want %q", got, want)
	}
}

func TestSplitter_Empty(t *testing.T) {
	if got := NewSplitter(0, 0).Split(" \n "); got != nil {
		t.Errorf("Split(blank) = %q", got)
	}
	if s := NewSplitter(100, 500); s.Overlap >= s.Size {
		t.Errorf("overlap %d not clamped below size %d", s.Overlap, s.Size)
	}
}
