// Package cache is the semantic cache: a previously generated answer is served
// when a near-duplicate query was seen recently.
//
// Two layers are consulted in order. The exact layer maps the fingerprint key
// (sha256 of the normalized text) to an entry id. The semantic layer searches
// the query-cache vector collection for the nearest embedding above the
// similarity floor. Entry state lives in an in-memory table; the vector
// collection only indexes embeddings.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/singleflight"

	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

// ErrCacheUnavailable marks a degraded lookup or a failed store. Never fatal to a query.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Entry is a cached answer.
type Entry struct {
	ID                   string    `json:"id"`
	Key                  string    `json:"key"`
	Text                 string    `json:"text"`
	Embedding            []float32 `json:"-"`
	ResponseText         string    `json:"response_text"`
	CreatedAt            time.Time `json:"created_at"`
	LastHitAt            time.Time `json:"last_hit_at"`
	HitCount             int64     `json:"hit_count"`
	TokenCostSavedPerHit int64     `json:"token_cost_saved_per_hit"`
	// TokensSaved accumulates TokenCostSavedPerHit at every hit.
	TokensSaved int64 `json:"tokens_saved"`
	// MergeCount counts near-duplicate answers folded into the entry.
	MergeCount int64 `json:"merge_count"`
}

// Config configures the semantic cache.
type Config struct {
	// Timeout bounds one Lookup.
	Timeout time.Duration
	// ExactCapacity bounds the exact layer.
	ExactCapacity int
	// ExactTTL bounds how long a key stays in the exact layer.
	ExactTTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       100 * time.Millisecond,
		ExactCapacity: 10000,
		ExactTTL:      24 * time.Hour,
	}
}

// SemanticCache provides two-layer caching: exact match and semantic match.
type SemanticCache struct {
	cfg      Config
	vectors  vector.Store
	tunables *tunables.Store
	counters *Counters
	logger   *slog.Logger
	now      func() time.Time

	exact *LRUCache[string, string]

	// flight collapses concurrent stores of one fingerprint.
	flight singleflight.Group
	// evictMu serializes the eviction passes.
	evictMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*Entry
	settling settling
}

// settling tracks entries whose vectors a concurrent dedup search may have
// missed: entries still being indexed, and entries indexed after some
// in-flight Store began its search. Guarded by SemanticCache.mu.
type settling struct {
	seq uint64
	// active counts in-flight stores by the sequence they started at.
	active map[uint64]int
	// indexed maps entry id to the sequence its vector became searchable,
	// 0 while the upsert is in flight.
	indexed map[string]uint64
}

func (s *settling) begin() uint64 {
	s.seq++
	s.active[s.seq]++
	return s.seq
}

func (s *settling) end(start uint64) {
	if s.active[start]--; s.active[start] <= 0 {
		delete(s.active, start)
	}
	oldest := uint64(math.MaxUint64)
	for seq := range s.active {
		oldest = min(oldest, seq)
	}
	for id, at := range s.indexed {
		if at != 0 && at < oldest {
			delete(s.indexed, id)
		}
	}
}

func (s *settling) settle(id string) {
	if _, ok := s.indexed[id]; ok {
		s.seq++
		s.indexed[id] = s.seq
	}
}

// missedSince reports whether a search that started at start may not have
// seen id.
func (s *settling) missedSince(id string, start uint64) bool {
	at, ok := s.indexed[id]
	return ok && (at == 0 || at > start)
}

// NewSemanticCache creates a cache. A nil counters gets a private instance.
func NewSemanticCache(cfg Config, vectors vector.Store, ts *tunables.Store, counters *Counters) *SemanticCache {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ExactCapacity <= 0 {
		cfg.ExactCapacity = def.ExactCapacity
	}
	if cfg.ExactTTL <= 0 {
		cfg.ExactTTL = def.ExactTTL
	}
	if counters == nil {
		counters = &Counters{}
	}

	return &SemanticCache{
		cfg:      cfg,
		vectors:  vectors,
		tunables: ts,
		counters: counters,
		logger:   slog.Default(),
		now:      time.Now,
		exact:    NewLRUCache[string, string](cfg.ExactCapacity, cfg.ExactTTL),
		entries:  make(map[string]*Entry),
		settling: settling{
			active:  make(map[uint64]int),
			indexed: make(map[string]uint64),
		},
	}
}

// Counters returns the injected counters.
func (c *SemanticCache) Counters() *Counters {
	return c.counters
}

// Lookup returns a copy of the matching entry. A hit updates hit_count and
// last_hit_at and credits the entry's saved tokens. Search failures and
// timeouts degrade to a miss.
func (c *SemanticCache) Lookup(ctx context.Context, fp Fingerprint) (*Entry, bool) {
	if id, ok := c.exact.Get(fp.Key); ok {
		if e, ok := c.hit(id); ok {
			return e, true
		}
	}

	if !fp.HasEmbedding() {
		c.counters.RecordMiss()
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	floor := float32(c.tunables.Load().SimilarityFloor)
	results, err := c.vectors.Search(ctx, vector.CollectionQueryCache, fp.Embedding, 1, floor)
	if err != nil {
		c.logger.Debug("cache lookup degraded to miss",
			"key", fp.Key,
			"error", fmt.Errorf("%w: %w", ErrCacheUnavailable, err),
		)
		c.counters.RecordUnavailable()
		c.counters.RecordMiss()
		return nil, false
	}
	if len(results) > 0 {
		if e, ok := c.hit(results[0].ID); ok {
			c.exact.Set(fp.Key, e.ID, 0)
			return e, true
		}
	}

	c.counters.RecordMiss()
	return nil, false
}

func (c *SemanticCache) hit(id string) (*Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	e.HitCount++
	e.TokensSaved += e.TokenCostSavedPerHit
	e.LastHitAt = c.now()
	cp := *e
	c.mu.Unlock()

	c.counters.RecordHit(cp.TokenCostSavedPerHit)
	return &cp, true
}

// Store inserts an answer for fp, or merges into an existing near-duplicate:
// the response and saved tokens are replaced. Concurrent stores of one
// fingerprint share a single write. Vector I/O runs outside the table lock,
// so unrelated stores never wait on each other.
func (c *SemanticCache) Store(ctx context.Context, fp Fingerprint, response string, tokenCost int64) (*Entry, error) {
	v, err, _ := c.flight.Do(fp.Key, func() (any, error) {
		return c.store(ctx, fp, response, tokenCost)
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*Entry)
	return &cp, nil
}

func (c *SemanticCache) store(ctx context.Context, fp Fingerprint, response string, tokenCost int64) (*Entry, error) {
	c.mu.Lock()
	start := c.settling.begin()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.settling.end(start)
		c.mu.Unlock()
	}()

	id, found := c.findDuplicate(ctx, fp)

	c.mu.Lock()
	if !found {
		id, found = c.missedDuplicateLocked(fp, start)
	}
	if found {
		if e, ok := c.mergeLocked(id, response, tokenCost); ok {
			c.mu.Unlock()
			c.exact.Set(fp.Key, e.ID, 0)
			return e, nil
		}
	}

	now := c.now()
	e := &Entry{
		ID:                   shortuuid.New(),
		Key:                  fp.Key,
		Text:                 fp.Text,
		Embedding:            fp.Embedding,
		ResponseText:         response,
		CreatedAt:            now,
		LastHitAt:            now,
		TokenCostSavedPerHit: tokenCost,
	}
	// The table entry exists before its vector so an orphan sweep never
	// removes a live entry's vector.
	c.entries[e.ID] = e
	if fp.HasEmbedding() {
		c.settling.indexed[e.ID] = 0
	}
	cp := *e
	c.mu.Unlock()
	c.exact.Set(fp.Key, e.ID, 0)

	if fp.HasEmbedding() {
		payload := map[string]any{
			vector.PayloadText:      fp.Text,
			vector.PayloadCreatedTs: now.Unix(),
		}
		if err := c.vectors.Upsert(ctx, vector.CollectionQueryCache, e.ID, fp.Embedding, payload); err != nil {
			c.remove([]string{e.ID})
			return nil, fmt.Errorf("%w: index entry: %w", ErrCacheUnavailable, err)
		}
		c.mu.Lock()
		c.settling.settle(e.ID)
		c.mu.Unlock()
	}
	return &cp, nil
}

// findDuplicate checks the exact layer, then the vector collection. When the
// search fails it scans the table so a flaky index cannot split entries.
func (c *SemanticCache) findDuplicate(ctx context.Context, fp Fingerprint) (string, bool) {
	if id, ok := c.exact.Get(fp.Key); ok {
		c.mu.RLock()
		_, live := c.entries[id]
		c.mu.RUnlock()
		if live {
			return id, true
		}
	}
	if !fp.HasEmbedding() {
		return "", false
	}

	floor := c.tunables.Load().SimilarityFloor
	results, err := c.vectors.Search(ctx, vector.CollectionQueryCache, fp.Embedding, 1, float32(floor))
	if err == nil {
		if len(results) > 0 {
			c.mu.RLock()
			_, live := c.entries[results[0].ID]
			c.mu.RUnlock()
			if live {
				return results[0].ID, true
			}
		}
		return "", false
	}

	c.logger.Debug("cache dedup search failed, scanning table", "error", err)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nearestLocked(fp, floor, func(string) bool { return true })
}

// missedDuplicateLocked re-checks, under the table lock, the entries a
// search that started at start may not have seen.
func (c *SemanticCache) missedDuplicateLocked(fp Fingerprint, start uint64) (string, bool) {
	if id, ok := c.exact.Get(fp.Key); ok {
		if _, live := c.entries[id]; live {
			return id, true
		}
	}
	if !fp.HasEmbedding() {
		return "", false
	}
	return c.nearestLocked(fp, c.tunables.Load().SimilarityFloor, func(id string) bool {
		return c.settling.missedSince(id, start)
	})
}

func (c *SemanticCache) nearestLocked(fp Fingerprint, floor float64, consider func(id string) bool) (string, bool) {
	var (
		bestID  string
		bestSim float64
	)
	for id, e := range c.entries {
		if !consider(id) {
			continue
		}
		sim := float64(vector.CosineSimilarity(fp.Embedding, e.Embedding))
		if sim >= floor && sim > bestSim {
			bestID, bestSim = id, sim
		}
	}
	return bestID, bestID != ""
}

// mergeLocked folds a near-duplicate answer into entry id. It is not a hit.
func (c *SemanticCache) mergeLocked(id, response string, tokenCost int64) (*Entry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	e.MergeCount++
	e.ResponseText = response
	e.TokenCostSavedPerHit = tokenCost
	cp := *e
	return &cp, true
}

// remove drops entries from the table and exact layer.
func (c *SemanticCache) remove(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	c.mu.Lock()
	for _, id := range ids {
		delete(c.settling.indexed, id)
		if _, ok := c.entries[id]; ok {
			delete(c.entries, id)
			drop[id] = struct{}{}
		}
	}
	c.mu.Unlock()
	if len(drop) > 0 {
		c.exact.RemoveFunc(func(id string) bool {
			_, ok := drop[id]
			return ok
		})
	}
}

// evict removes entries then their vectors. A failed vector delete leaves
// orphans for the sweep; the entries are already gone.
func (c *SemanticCache) evict(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	c.remove(ids)
	if err := c.vectors.Delete(ctx, vector.CollectionQueryCache, ids); err != nil {
		return len(ids), fmt.Errorf("delete cache vectors: %w", err)
	}
	return len(ids), nil
}

// EvictOlderThan removes entries created more than maxAge ago.
func (c *SemanticCache) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	cutoff := c.now().Add(-maxAge)
	var ids []string
	c.mu.RLock()
	for id, e := range c.entries {
		if e.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return c.evict(ctx, ids)
}

// EvictToCapacity removes the least recently hit entries until at most n remain.
func (c *SemanticCache) EvictToCapacity(ctx context.Context, n int) (int, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	c.mu.RLock()
	excess := len(c.entries) - n
	if excess <= 0 {
		c.mu.RUnlock()
		return 0, nil
	}
	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].LastHitAt.Equal(all[j].LastHitAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].LastHitAt.Before(all[j].LastHitAt)
	})
	ids := make([]string, 0, excess)
	for _, e := range all[:excess] {
		ids = append(ids, e.ID)
	}
	c.mu.RUnlock()

	return c.evict(ctx, ids)
}

// EntryIDs lists live entry ids for the orphan sweep.
func (c *SemanticCache) EntryIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Entries returns copies of every entry.
func (c *SemanticCache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of entries.
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RebuildCounters recomputes the saved-token telemetry from entry history.
func (c *SemanticCache) RebuildCounters() {
	c.counters.Rebuild(c.Entries())
}
