package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, CollectionCodeContext, "a", []float32{1, 0, 0}, map[string]any{PayloadText: "alpha", PayloadSourceID: "doc-1"}))
	require.NoError(t, s.Upsert(ctx, CollectionCodeContext, "b", []float32{0, 1, 0}, map[string]any{PayloadText: "beta"}))
	require.NoError(t, s.Upsert(ctx, CollectionCodeContext, "c", []float32{0.9, 0.1, 0}, map[string]any{PayloadText: "gamma"}))

	results, err := s.Search(ctx, CollectionCodeContext, []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Equal(t, "doc-1", PayloadString(results[0].Payload, PayloadSourceID))
	assert.Equal(t, "c", results[1].ID)
}

func TestChromemSearchUnknownCollection(t *testing.T) {
	s, err := NewChromemStore("")
	require.NoError(t, err)

	results, err := s.Search(context.Background(), CollectionPatterns, []float32{1, 0}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, CollectionPatterns, "p", []float32{1, 0}, map[string]any{PayloadValueScore: 0.7}))
	require.NoError(t, s.Upsert(ctx, CollectionPatterns, "p", []float32{1, 0}, map[string]any{PayloadValueScore: 0.9}))

	records, err := s.List(ctx, CollectionPatterns)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.InDelta(t, 0.9, PayloadFloat(records[0].Payload, PayloadValueScore), 1e-9)
}

func TestChromemDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, CollectionQueryCache, "a", []float32{1, 0, 0}, nil))
	err = s.Upsert(ctx, CollectionQueryCache, "b", []float32{1, 0}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Search(ctx, CollectionQueryCache, []float32{1, 0}, 1, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("")
	require.NoError(t, err)

	for i := range 10 {
		vec := []float32{float32(i + 1), 1, 0}
		require.NoError(t, s.Upsert(ctx, CollectionPriorInteractions, fmt.Sprintf("id-%d", i), vec, nil))
	}
	require.NoError(t, s.Delete(ctx, CollectionPriorInteractions, []string{"id-0", "id-5", "missing"}))

	records, err := s.List(ctx, CollectionPriorInteractions)
	require.NoError(t, err)
	assert.Len(t, records, 8)
	ids := make(map[string]bool)
	for _, r := range records {
		ids[r.ID] = true
	}
	assert.False(t, ids["id-0"])
	assert.False(t, ids["id-5"])
	assert.True(t, ids["id-9"])
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestChromemStore_ListRestoredCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, CollectionPatterns, "p1", []float32{1, 0, 0}, map[string]any{PayloadText: "x"}))

	reopened, err := NewChromemStore(dir, WithDimensions(3))
	require.NoError(t, err)
	records, err := reopened.List(ctx, CollectionPatterns)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].ID)
	assert.Equal(t, "x", PayloadString(records[0].Payload, PayloadText))
}
