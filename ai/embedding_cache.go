package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbeddingService memoizes embeddings by exact text so one query is
// embedded once across fingerprinting, augmentation and recording.
type CachedEmbeddingService struct {
	inner EmbeddingService
	cache *ristretto.Cache
}

// NewCachedEmbeddingService wraps inner with a cost-bounded memo.
// maxBytes bounds the total size of cached vectors.
func NewCachedEmbeddingService(inner EmbeddingService, maxBytes int64) (*CachedEmbeddingService, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbeddingService{inner: inner, cache: cache}, nil
}

func (s *CachedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embeddingKey(text)
	if v, ok := s.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, vec, int64(len(vec)*4))
	return vec, nil
}

func (s *CachedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := s.cache.Get(embeddingKey(text)); ok {
			if vec, ok := v.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := s.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		s.cache.Set(embeddingKey(missing[j]), vec, int64(len(vec)*4))
	}
	return out, nil
}

func (s *CachedEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}

// Wait blocks until buffered writes are applied. Used by tests.
func (s *CachedEmbeddingService) Wait() {
	s.cache.Wait()
}

// Close releases the cache's background goroutines.
func (s *CachedEmbeddingService) Close() {
	s.cache.Close()
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
