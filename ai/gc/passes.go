package gc

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// expireByAge deletes old low-value interaction records, then old cache
// entries. Records matching the keep rule and records that are the source
// of a pattern are held.
func (c *Collector) expireByAge(ctx context.Context, t *tunables.Tunables) (int, error) {
	rule, err := c.keepRule(t.RetentionKeepRule)
	if err != nil {
		return 0, err
	}

	now := c.now()
	cutoff := now.Add(-time.Duration(t.RetentionWindowDays) * 24 * time.Hour).Unix()
	maxValue := t.RetentionMinValue
	candidates, err := c.store.ListInteractions(ctx, &store.FindInteraction{
		CreatedBefore: &cutoff,
		MaxValueScore: &maxValue,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired records: %w", err)
	}

	held, err := c.patternSources(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(candidates))
	kept := 0
	for _, rec := range candidates {
		if _, ok := held[rec.ID]; ok {
			kept++
			continue
		}
		keep, err := rule.Keep(rec, now)
		if err != nil {
			return 0, err
		}
		if keep {
			kept++
			continue
		}
		ids = append(ids, rec.ID)
	}
	if kept > 0 {
		c.logger.Debug("gc held expired records", "pass", PassAge, "held", kept)
	}

	deleted, err := c.deleteInteractions(ctx, ids)
	if err != nil {
		return deleted, err
	}

	if c.cache != nil {
		n, err := c.cache.EvictOlderThan(ctx, time.Duration(t.CacheMaxAgeHours)*time.Hour)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("evict old cache entries: %w", err)
		}
	}
	return deleted, nil
}

// pruneByValue enforces the storage budget by deleting the lowest-value
// records, oldest first among ties, then trims the cache to capacity.
// At least prune_fraction of the records go once the budget is exceeded.
func (c *Collector) pruneByValue(ctx context.Context, t *tunables.Tunables) (int, error) {
	count, err := c.store.CountInteractions(ctx)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	deleted := 0
	if count > t.StorageBudgetRecords {
		excess := count - t.StorageBudgetRecords
		fraction := int64(math.Ceil(t.PruneFraction * float64(count)))
		victims, err := c.store.ListInteractions(ctx, &store.FindInteraction{
			OrderByValue: true,
			Limit:        int(max(excess, fraction)),
		})
		if err != nil {
			return 0, fmt.Errorf("list lowest value records: %w", err)
		}
		ids := make([]string, len(victims))
		for i, rec := range victims {
			ids[i] = rec.ID
		}
		c.logger.Info("storage budget exceeded",
			"pass", PassValue,
			"records", count,
			"budget", t.StorageBudgetRecords,
			"pruning", len(ids),
		)
		if deleted, err = c.deleteInteractions(ctx, ids); err != nil {
			return deleted, err
		}
	}

	if c.cache != nil {
		n, err := c.cache.EvictToCapacity(ctx, t.CacheMaxEntries)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("trim cache: %w", err)
		}
	}
	return deleted, nil
}

// dedup keeps the highest-value member of every cluster of near-duplicate
// vectors in the interaction and pattern collections. Members are ranked by
// the durable value score, which feedback may have changed since indexing.
// Interaction records that are the source of a pattern are never removed.
func (c *Collector) dedup(ctx context.Context, t *tunables.Tunables) (int, error) {
	held, err := c.patternSources(ctx)
	if err != nil {
		return 0, err
	}
	records, err := c.store.ListInteractions(ctx, &store.FindInteraction{})
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	scores := make(map[string]float64, len(records))
	for _, rec := range records {
		scores[rec.ID] = rec.ValueScore
	}

	deleted := 0
	n, err := c.dedupCollection(ctx, vector.CollectionPriorInteractions, t.DedupThreshold, scores, held, c.store.DeleteInteractions)
	deleted += n
	if err != nil {
		return deleted, err
	}

	patterns, err := c.store.ListPatterns(ctx, &store.FindPattern{})
	if err != nil {
		return deleted, fmt.Errorf("list patterns: %w", err)
	}
	scores = make(map[string]float64, len(patterns))
	for _, p := range patterns {
		scores[p.ID] = p.ValueScore
	}
	n, err = c.dedupCollection(ctx, vector.CollectionPatterns, t.DedupThreshold, scores, nil, c.store.DeletePatterns)
	deleted += n
	return deleted, err
}

func (c *Collector) dedupCollection(ctx context.Context, collection string, threshold float64, scores map[string]float64, held map[string]struct{}, deleteOwners func(context.Context, []string) (int64, error)) (int, error) {
	records, err := c.vectors.List(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", collection, err)
	}

	dups, err := c.duplicates(ctx, collection, rankByValue(records, scores), held, threshold)
	if err != nil {
		return 0, fmt.Errorf("cluster %s: %w", collection, err)
	}

	deleted := 0
	for batch := range slices.Chunk(dups, deleteBatchSize) {
		// Durable rows first; leftover vectors fall to the orphan sweep.
		n, err := deleteOwners(ctx, batch)
		deleted += int(n)
		if err != nil {
			return deleted, fmt.Errorf("delete %s duplicates: %w", collection, err)
		}
		if err := c.vectors.Delete(ctx, collection, batch); err != nil {
			return deleted, fmt.Errorf("delete %s duplicate vectors: %w", collection, err)
		}
	}
	return deleted, nil
}

// rankByValue orders records by value score, best first, ties by id.
// Vectors without a durable owner rank last.
func rankByValue(records []vector.Record, scores map[string]float64) []vector.Record {
	score := func(id string) float64 {
		if v, ok := scores[id]; ok {
			return v
		}
		return -1
	}
	ranked := slices.Clone(records)
	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := score(ranked[i].ID), score(ranked[j].ID)
		if vi != vj {
			return vi > vj
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// duplicates clusters ranked records greedily: each record that is not
// already a duplicate is kept, and its lower-ranked neighbours above
// threshold become its duplicates. Neighbours come from the vector store, so
// the pass is bounded by ctx between searches.
func (c *Collector) duplicates(ctx context.Context, collection string, ranked []vector.Record, held map[string]struct{}, threshold float64) ([]string, error) {
	rank := make(map[string]int, len(ranked))
	for i, r := range ranked {
		rank[r.ID] = i
	}

	isDup := make(map[string]struct{})
	var dups []string
	for i, r := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := isDup[r.ID]; ok {
			continue
		}
		neighbours, err := c.neighbours(ctx, collection, r.Vector, threshold, len(ranked))
		if err != nil {
			return nil, err
		}
		for _, n := range neighbours {
			j, ok := rank[n.ID]
			if !ok || j <= i {
				continue
			}
			if _, ok := isDup[n.ID]; ok {
				continue
			}
			if _, ok := held[n.ID]; ok {
				continue
			}
			isDup[n.ID] = struct{}{}
			dups = append(dups, n.ID)
		}
	}
	return dups, nil
}

// neighbours returns every entry whose similarity to vec exceeds threshold,
// widening the search while it comes back full.
func (c *Collector) neighbours(ctx context.Context, collection string, vec []float32, threshold float64, total int) ([]vector.Result, error) {
	k := min(dedupNeighbours, total)
	for {
		results, err := c.vectors.Search(ctx, collection, vec, k, float32(threshold))
		if err != nil {
			return nil, err
		}
		if len(results) < k || k >= total {
			out := results[:0]
			for _, r := range results {
				if float64(r.Score) > threshold {
					out = append(out, r)
				}
			}
			return out, nil
		}
		k = min(k*4, total)
	}
}

type orphanSet struct {
	collection string
	ids        []string
}

// sweepOrphans deletes vectors whose owner no longer exists. Vector ids are
// listed before owner ids: an owner created in between is then absent from
// the vector list, never from the owner list.
func (c *Collector) sweepOrphans(ctx context.Context, _ *tunables.Tunables) (int, error) {
	owners := map[string]func(context.Context) ([]string, error){
		vector.CollectionPriorInteractions: c.store.ListInteractionIDs,
		vector.CollectionPatterns:          c.store.ListPatternIDs,
	}
	if c.cache != nil {
		owners[vector.CollectionQueryCache] = func(context.Context) ([]string, error) {
			return c.cache.EntryIDs(), nil
		}
	}

	results := make([]orphanSet, 0, len(owners))
	resultCh := make(chan orphanSet, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	for collection, listOwners := range owners {
		g.Go(func() error {
			records, err := c.vectors.List(gctx, collection)
			if err != nil {
				return fmt.Errorf("list %s: %w", collection, err)
			}
			ownerIDs, err := listOwners(gctx)
			if err != nil {
				return fmt.Errorf("list owners of %s: %w", collection, err)
			}
			live := make(map[string]struct{}, len(ownerIDs))
			for _, id := range ownerIDs {
				live[id] = struct{}{}
			}
			var orphans []string
			for _, r := range records {
				if _, ok := live[r.ID]; !ok {
					orphans = append(orphans, r.ID)
				}
			}
			resultCh <- orphanSet{collection: collection, ids: orphans}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(resultCh)
	for r := range resultCh {
		results = append(results, r)
	}

	deleted := 0
	for _, r := range results {
		if len(r.ids) == 0 {
			continue
		}
		if err := c.vectors.Delete(ctx, r.collection, r.ids); err != nil {
			return deleted, fmt.Errorf("delete orphans in %s: %w", r.collection, err)
		}
		deleted += len(r.ids)
		c.logger.Debug("gc removed orphan vectors", "pass", PassOrphan, "collection", r.collection, "count", len(r.ids))
	}
	return deleted, nil
}

// deleteInteractions deletes records in batches, then their vectors.
func (c *Collector) deleteInteractions(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for batch := range slices.Chunk(ids, deleteBatchSize) {
		n, err := c.store.DeleteInteractions(ctx, batch)
		deleted += int(n)
		if err != nil {
			return deleted, fmt.Errorf("delete records: %w", err)
		}
		if err := c.vectors.Delete(ctx, vector.CollectionPriorInteractions, batch); err != nil {
			// The orphan sweep retries these.
			c.logger.Warn("failed to delete interaction vectors", "count", len(batch), "error", err)
		}
	}
	return deleted, nil
}

// patternSources returns the interaction ids patterns were extracted from.
func (c *Collector) patternSources(ctx context.Context) (map[string]struct{}, error) {
	patterns, err := c.store.ListPatterns(ctx, &store.FindPattern{})
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	held := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		held[p.SourceInteractionID] = struct{}{}
	}
	return held, nil
}
