package retrieval

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	in := []Passage{
		{ID: "a", Text: "alpha", Score: 0.2},
		{ID: "b", Text: "beta", Score: 0.9},
		{ID: "c", Text: "alpha", Score: 0.95},
		{ID: "d", Text: "delta", Score: 0.5},
		{ID: "e", Text: "epsilon", Score: 0.5},
	}

	got := Normalize(in, 3)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if want := []string{"c", "b", "d"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Normalize ids = %v, want %v", ids, want)
	}
	if in[0].ID != "a" {
		t.Error("Normalize modified its input")
	}

	// Stable and repeatable for ties.
	again := Normalize(in, 10)
	if len(again) != 4 || again[2].ID != "d" || again[3].ID != "e" {
		t.Errorf("Normalize(10) = %+v", again)
	}
	if !reflect.DeepEqual(Normalize(in, 10), again) {
		t.Error("Normalize is not deterministic")
	}

	if got := Normalize(nil, 5); len(got) != 0 {
		t.Errorf("Normalize(nil) = %v", got)
	}
}

func TestContentID(t *testing.T) {
	a := ContentID("same text")
	if a != ContentID("same text") {
		t.Error("ContentID is not stable")
	}
	if a == ContentID("other text") {
		t.Error("ContentID collides for different text")
	}
	if len(a) != 64 {
		t.Errorf("ContentID length = %d, want 64 hex chars", len(a))
	}
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.TopK(context.Background(), "q", 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Disabled.TopK error = %v, want ErrUnavailable", err)
	}
}

// letterEmbed maps text to a normalized letter-frequency vector.
func letterEmbed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

type letterEmbedder struct{ fail bool }

func (e letterEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	return letterEmbed(ctx, text)
}
