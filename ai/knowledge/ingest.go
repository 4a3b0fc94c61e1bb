// Package knowledge ingests reference documents into the context collections.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

// PayloadSource is the optional provenance of a document.
const PayloadSource = "source"

const embedBatchSize = 32

// ErrInvalidDocument rejects a document batch before anything is written.
var ErrInvalidDocument = errors.New("invalid document")

// Document is one piece of reference knowledge.
type Document struct {
	ID     string `json:"id" yaml:"id"`
	Text   string `json:"text" yaml:"text"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Collections returns the collections that accept documents. The others are
// owned by durable records and would be swept as orphans.
func Collections() []string {
	return []string{
		vector.CollectionCodeContext,
		vector.CollectionErrorSolutions,
		vector.CollectionBestPractices,
	}
}

// IsCollection reports whether name accepts documents.
func IsCollection(name string) bool {
	return slices.Contains(Collections(), name)
}

// Validate checks the collection name and every document.
func Validate(collection string, docs []Document) error {
	if !IsCollection(collection) {
		return fmt.Errorf("%w: collection %q does not accept documents", ErrInvalidDocument, collection)
	}
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("%w: document %d has no id", ErrInvalidDocument, i)
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: document %s has no text", ErrInvalidDocument, d.ID)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidDocument, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// Embedder embeds document text in batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingester embeds documents and upserts them by id.
type Ingester struct {
	embedder Embedder
	vectors  vector.Store
	now      func() time.Time
}

// NewIngester creates an ingester.
func NewIngester(embedder Embedder, vectors vector.Store) *Ingester {
	return &Ingester{embedder: embedder, vectors: vectors, now: time.Now}
}

// Ingest validates and writes docs. Re-ingesting an id replaces it. It
// returns the number of documents written before any failure.
func (in *Ingester) Ingest(ctx context.Context, collection string, docs []Document) (int, error) {
	if err := Validate(collection, docs); err != nil {
		return 0, err
	}

	written := 0
	for batch := range slices.Chunk(docs, embedBatchSize) {
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Text
		}
		embeddings, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embed documents: %w", err)
		}
		if len(embeddings) != len(batch) {
			return written, fmt.Errorf("embed documents: got %d vectors for %d texts", len(embeddings), len(batch))
		}

		for i, d := range batch {
			payload := map[string]any{
				vector.PayloadText:      d.Text,
				vector.PayloadSourceID:  d.ID,
				vector.PayloadCreatedTs: in.now().Unix(),
			}
			if d.Source != "" {
				payload[PayloadSource] = d.Source
			}
			if err := in.vectors.Upsert(ctx, collection, d.ID, embeddings[i], payload); err != nil {
				return written, fmt.Errorf("upsert %s: %w", d.ID, err)
			}
			written++
		}
	}

	slog.Info("knowledge documents ingested", "collection", collection, "count", written)
	return written, nil
}
