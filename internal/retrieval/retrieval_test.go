package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/skill"
)

type staticProvider struct {
	vec []float32
	err error
}

func (p staticProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vec
	}
	return out, nil
}

func (p staticProvider) Dimension() int { return len(p.vec) }

func catalog() []*skill.Skill {
	return []*skill.Skill{
		{Name: "a", Embedding: []float32{1, 0}},
		{Name: "b", Embedding: []float32{0, 1}},
		{Name: "c", Embedding: []float32{0.6, 0.8}},
		{Name: "d", Embedding: []float32{0, 1}},
	}
}

var groups = Groups{
	Movement: []string{"move"},
	Trade:    []string{"buy_item", "sell_item"},
	Map:      []string{"open_map", "close_map"},
}

func newRanker(vec []float32) *Ranker {
	return NewRanker(embedding.NewCache(staticProvider{vec: vec}, 0, zap.NewNop()), groups, zap.NewNop())
}

func TestRankByScore(t *testing.T) {
	r := newRanker([]float32{0, 1})
	got, err := r.Rank(context.Background(), "go up", catalog(), nil, 3, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// b and d tie; b comes first in catalog order.
	if want := []string{"b", "d", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRankRecentFirst(t *testing.T) {
	r := newRanker([]float32{0, 1})
	got, err := r.Rank(context.Background(), "q", catalog(), []string{"a"}, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRankRecentBeyondTopK(t *testing.T) {
	r := newRanker([]float32{1, 0})
	got, err := r.Rank(context.Background(), "q", catalog(), []string{"d", "c", "b"}, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"d", "c", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRankDeduplicatesRecent(t *testing.T) {
	r := newRanker([]float32{1, 0})
	got, err := r.Rank(context.Background(), "q", catalog(), []string{"d", "b", "d", "b"}, 3, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"d", "b", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScoreRanksMismatchedDimensionLast(t *testing.T) {
	r := newRanker([]float32{1, 0})
	skills := []*skill.Skill{
		{Name: "old", Embedding: []float32{1, 0, 0}},
		{Name: "b", Embedding: []float32{0, 1}},
		{Name: "a", Embedding: []float32{1, 0}},
	}
	got, err := r.Score(context.Background(), "q", skills)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := make([]string, len(got))
	for i, s := range got {
		names[i] = s.Name
	}
	if want := []string{"a", "b", "old"}; !reflect.DeepEqual(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestRankTopKClampedToCatalog(t *testing.T) {
	r := newRanker([]float32{1, 0})
	got, err := r.Rank(context.Background(), "q", catalog(), nil, 50, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d skills, want 4", len(got))
	}
}

func TestRankMandatoryGroups(t *testing.T) {
	tests := []struct {
		tag  string
		want []string
	}{
		{GeneralGameInterface, []string{"a", "move"}},
		{TradeInterface, []string{"a", "buy_item", "sell_item"}},
		{SatchelInterface, []string{"a", "buy_item", "sell_item"}},
		{MapInterface, []string{"a", "open_map", "close_map"}},
		{"pause interface", []string{"a"}},
	}
	r := newRanker([]float32{1, 0})
	for _, tt := range tests {
		got, err := r.Rank(context.Background(), "q", catalog(), nil, 1, tt.tag)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.tag, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.tag, got, tt.want)
		}
	}
}

func TestRankMandatoryEvenWithZeroTopK(t *testing.T) {
	r := newRanker([]float32{1, 0})
	got, err := r.Rank(context.Background(), "q", catalog(), nil, 0, MapInterface)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"open_map", "close_map"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRankProviderError(t *testing.T) {
	boom := errors.New("provider down")
	r := NewRanker(embedding.NewCache(staticProvider{err: boom}, 0, zap.NewNop()), groups, zap.NewNop())
	if _, err := r.Rank(context.Background(), "q", catalog(), nil, 2, ""); !errors.Is(err, boom) {
		t.Errorf("got %v, want provider error", err)
	}
}
