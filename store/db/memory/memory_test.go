package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

func TestInteractionLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewDB()

	for i, score := range []float64{0.5, 0.1, 0.1, 0.9} {
		_, err := d.CreateInteraction(ctx, &store.InteractionRecord{
			ID:         string(rune('a' + i)),
			Outcome:    store.OutcomeUnknown,
			ValueScore: score,
			CreatedTs:  int64(100 + i),
		})
		require.NoError(t, err)
	}

	_, err := d.CreateInteraction(ctx, &store.InteractionRecord{ID: "a"})
	assert.Error(t, err)

	list, err := d.ListInteractions(ctx, &store.FindInteraction{})
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "d", list[0].ID)

	maxScore := 0.5
	list, err = d.ListInteractions(ctx, &store.FindInteraction{MaxValueScore: &maxScore, OrderByValue: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"b", "c"}, []string{list[0].ID, list[1].ID})

	before := int64(102)
	list, err = d.ListInteractions(ctx, &store.FindInteraction{CreatedBefore: &before})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	fb := int32(1)
	require.NoError(t, d.UpdateInteractionFeedback(ctx, &store.UpdateInteractionFeedback{
		ID: "b", Outcome: store.OutcomeSuccess, UserFeedback: &fb, ValueScore: 0.7, UpdatedTs: 200,
	}))
	id := "b"
	list, err = d.ListInteractions(ctx, &store.FindInteraction{ID: &id})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.OutcomeSuccess, list[0].Outcome)
	assert.InDelta(t, 0.7, list[0].ValueScore, 1e-9)

	err = d.UpdateInteractionFeedback(ctx, &store.UpdateInteractionFeedback{ID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := d.DeleteInteractions(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := d.CountInteractions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCreatePatternIsIdempotentPerSource(t *testing.T) {
	ctx := context.Background()
	d := NewDB()

	first, err := d.CreatePattern(ctx, &store.PatternRecord{ID: "p1", SourceInteractionID: "rec-1", Template: "t"})
	require.NoError(t, err)
	second, err := d.CreatePattern(ctx, &store.PatternRecord{ID: "p2", SourceInteractionID: "rec-1", Template: "t2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	ids, err := d.ListPatternIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	d := NewDB()
	_, err := d.CreateInteraction(ctx, &store.InteractionRecord{ID: "a", ContextIDs: []string{"x"}})
	require.NoError(t, err)

	list, err := d.ListInteractions(ctx, &store.FindInteraction{})
	require.NoError(t, err)
	list[0].ContextIDs[0] = "mutated"

	list, err = d.ListInteractions(ctx, &store.FindInteraction{})
	require.NoError(t, err)
	assert.Equal(t, "x", list[0].ContextIDs[0])
}
