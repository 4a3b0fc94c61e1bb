package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies a query for cache and dedup purposes. Immutable once built.
type Fingerprint struct {
	// Text is the normalized query: lower-cased, whitespace collapsed, trimmed.
	Text string
	// Key is the hex sha256 of Text.
	Key string
	// Embedding may be nil when the embedding provider failed; lookups then
	// use only the exact layer.
	Embedding []float32
}

// Normalize lower-cases text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// NewFingerprint builds a fingerprint. The embedding is copied.
func NewFingerprint(text string, embedding []float32) Fingerprint {
	normalized := Normalize(text)
	sum := sha256.Sum256([]byte(normalized))
	fp := Fingerprint{
		Text: normalized,
		Key:  hex.EncodeToString(sum[:]),
	}
	if len(embedding) > 0 {
		fp.Embedding = append([]float32(nil), embedding...)
	}
	return fp
}

// HasEmbedding reports whether the semantic layer can be used.
func (f Fingerprint) HasEmbedding() bool {
	return len(f.Embedding) > 0
}
