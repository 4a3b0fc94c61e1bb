// Package vector provides the vector store capability: nearest-neighbor search
// and upsert over named collections of (vector, payload) pairs.
package vector

import (
	"context"
	"errors"
	"math"
)

// Collection names.
const (
	CollectionQueryCache        = "query-cache"
	CollectionCodeContext       = "code-context"
	CollectionErrorSolutions    = "error-solutions"
	CollectionBestPractices     = "best-practices"
	CollectionPriorInteractions = "prior-interactions"
	CollectionPatterns          = "patterns"
)

// Payload keys shared by writers and readers.
const (
	PayloadText       = "text"
	PayloadSourceID   = "source_id"
	PayloadValueScore = "value_score"
	PayloadCreatedTs  = "created_ts"
)

// ContextCollections are searched by the context augmentor by default.
func ContextCollections() []string {
	return []string{
		CollectionCodeContext,
		CollectionErrorSolutions,
		CollectionBestPractices,
		CollectionPriorInteractions,
		CollectionPatterns,
	}
}

// ErrDimensionMismatch is returned when a vector's length differs from the collection's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Store is the vector store capability.
type Store interface {
	// Search returns up to topK results with score >= minScore, best first.
	// An unknown or empty collection yields no results and no error.
	Search(ctx context.Context, collection string, vector []float32, topK int, minScore float32) ([]Result, error)

	// Upsert inserts or replaces the entry with id.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error

	// Delete removes entries by id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// List returns every entry of a collection. Used by maintenance passes.
	List(ctx context.Context, collection string) ([]Record, error)
}

// Result represents a vector search result.
type Result struct {
	Payload map[string]any `json:"payload"`
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
}

// Record is a stored entry.
type Record struct {
	Payload map[string]any `json:"payload"`
	ID      string         `json:"id"`
	Vector  []float32      `json:"-"`
}

// PayloadString returns payload[key] as a string, or "".
func PayloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat returns payload[key] as a float64, or 0. JSON round trips
// turn numbers into float64, so both native and decoded forms are accepted.
func PayloadFloat(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 when lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
