package context

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

// stubStore returns canned results per collection.
type stubStore struct {
	vector.Store
	results map[string][]vector.Result
	errs    map[string]error
	delay   time.Duration
	topK    atomic.Int64
}

func (s *stubStore) Search(ctx context.Context, collection string, _ []float32, topK int, minScore float32) ([]vector.Result, error) {
	s.topK.Store(int64(topK))
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.errs[collection]; err != nil {
		return nil, err
	}
	var out []vector.Result
	for _, r := range s.results[collection] {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out, nil
}

func result(id string, score float32, source, text string) vector.Result {
	payload := map[string]any{vector.PayloadText: text}
	if source != "" {
		payload[vector.PayloadSourceID] = source
	}
	return vector.Result{ID: id, Score: score, Payload: payload}
}

func newAugmentor(s vector.Store) *Augmentor {
	return NewAugmentor(s, tunables.NewStore(tunables.Default()), 200*time.Millisecond)
}

func TestAugment_MergesAndDedups(t *testing.T) {
	s := &stubStore{results: map[string][]vector.Result{
		vector.CollectionCodeContext: {
			result("c1", 0.62, "doc-1", "systemd unit options"),
			result("c2", 0.40, "", "below floor"),
		},
		vector.CollectionBestPractices: {
			result("b1", 0.85, "doc-1", "declarative services"),
		},
		vector.CollectionPatterns: {
			result("p1", 0.55, "", "pattern text"),
		},
	}}

	b := newAugmentor(s).Augment(context.Background(), "enable a service", []float32{1, 0})

	require.Len(t, b.Snippets, 2)
	assert.InDelta(t, 0.85, b.RelevanceScore, 1e-6)
	assert.Equal(t, "declarative services", b.Snippets[0].Text)
	assert.Equal(t, vector.CollectionBestPractices, b.Snippets[0].Collection)
	assert.Equal(t, []string{"doc-1", "p1"}, b.ContextIDs)
	assert.Equal(t, int64(4), s.topK.Load())
}

func TestAugment_DegradesToEmptyBundle(t *testing.T) {
	tests := []struct {
		name  string
		store *stubStore
		emb   []float32
	}{
		{
			name:  "all searches fail",
			store: &stubStore{errs: map[string]error{vector.CollectionCodeContext: errors.New("down"), vector.CollectionPatterns: errors.New("down")}},
			emb:   []float32{1},
		},
		{
			name:  "searches time out",
			store: &stubStore{delay: time.Second, results: map[string][]vector.Result{vector.CollectionCodeContext: {result("x", 0.9, "", "late")}}},
			emb:   []float32{1},
		},
		{
			name:  "no embedding",
			store: &stubStore{results: map[string][]vector.Result{vector.CollectionCodeContext: {result("x", 0.9, "", "t")}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newAugmentor(tt.store).Augment(context.Background(), "q", tt.emb)
			require.NotNil(t, b)
			assert.Empty(t, b.Snippets)
			assert.Zero(t, b.RelevanceScore)
		})
	}
}

func TestAugment_PartialFailureKeepsOtherCollections(t *testing.T) {
	s := &stubStore{
		results: map[string][]vector.Result{vector.CollectionErrorSolutions: {result("e1", 0.77, "", "fix")}},
		errs:    map[string]error{vector.CollectionCodeContext: errors.New("down")},
	}
	b := newAugmentor(s).Augment(context.Background(), "q", []float32{1})
	require.Len(t, b.Snippets, 1)
	assert.InDelta(t, 0.77, b.RelevanceScore, 1e-6)
}

func TestFromOverride(t *testing.T) {
	score := 0.85
	tests := []struct {
		name      string
		override  Override
		wantScore float64
		wantLen   int
	}{
		{"explicit score", Override{Snippets: []string{"a"}, RelevanceScore: &score}, 0.85, 1},
		{"default score", Override{Snippets: []string{"a", "b"}}, 1.0, 2},
		{"score only", Override{RelevanceScore: &score}, 0.85, 0},
		{"empty", Override{}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := FromOverride(tt.override)
			assert.InDelta(t, tt.wantScore, b.RelevanceScore, 1e-9)
			assert.Len(t, b.Snippets, tt.wantLen)
			assert.Len(t, b.Texts(), tt.wantLen)
		})
	}
}
