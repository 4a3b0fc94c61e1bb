package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

type fakeEmbedder struct {
	batches int
	err     error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(len(texts[i]))}
	}
	return out, nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		docs       []Document
		wantErr    bool
	}{
		{name: "ok", collection: vector.CollectionBestPractices, docs: []Document{{ID: "a", Text: "x"}}},
		{name: "owned collection", collection: vector.CollectionPatterns, docs: []Document{{ID: "a", Text: "x"}}, wantErr: true},
		{name: "unknown collection", collection: "notes", wantErr: true},
		{name: "missing id", collection: vector.CollectionCodeContext, docs: []Document{{Text: "x"}}, wantErr: true},
		{name: "missing text", collection: vector.CollectionCodeContext, docs: []Document{{ID: "a", Text: "  "}}, wantErr: true},
		{name: "duplicate id", collection: vector.CollectionCodeContext, docs: []Document{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.collection, tt.docs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDocument)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	vectors, err := vector.NewChromemStore("")
	require.NoError(t, err)
	emb := &fakeEmbedder{}
	in := NewIngester(emb, vectors)

	docs := make([]Document, 40)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("doc-%02d", i), Text: fmt.Sprintf("text %d", i)}
	}
	docs[0].Source = "https://nixos.org/manual"

	n, err := in.Ingest(ctx, vector.CollectionErrorSolutions, docs)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, 2, emb.batches)

	records, err := vectors.List(ctx, vector.CollectionErrorSolutions)
	require.NoError(t, err)
	assert.Len(t, records, 40)
	for _, r := range records {
		assert.Equal(t, r.ID, vector.PayloadString(r.Payload, vector.PayloadSourceID))
		if r.ID == "doc-00" {
			assert.Equal(t, "https://nixos.org/manual", vector.PayloadString(r.Payload, PayloadSource))
		}
	}
}

func TestIngest_EmbedFailure(t *testing.T) {
	vectors, err := vector.NewChromemStore("")
	require.NoError(t, err)
	in := NewIngester(&fakeEmbedder{err: errors.New("down")}, vectors)

	n, err := in.Ingest(context.Background(), vector.CollectionCodeContext, []Document{{ID: "a", Text: "x"}})
	assert.Error(t, err)
	assert.Zero(t, n)
}
