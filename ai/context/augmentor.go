// Package context builds the context bundle for a query by searching the
// knowledge collections of the vector store in parallel.
package context

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

// ErrContextSearchFailed marks a collection search that failed. It degrades
// the bundle and never fails a query.
var ErrContextSearchFailed = errors.New("context search failed")

// Snippet is one retrieved piece of context.
type Snippet struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	Collection string  `json:"collection"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Bundle is the merged, deduplicated context for a query.
type Bundle struct {
	Snippets []Snippet `json:"snippets"`
	// RelevanceScore is the best individual score, 0 when empty.
	RelevanceScore float64  `json:"relevance_score"`
	ContextIDs     []string `json:"context_ids"`
}

// Texts returns the snippet texts in bundle order.
func (b *Bundle) Texts() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.Snippets))
	for _, s := range b.Snippets {
		out = append(out, s.Text)
	}
	return out
}

// Override is caller-supplied context that bypasses the search.
type Override struct {
	Snippets []string `json:"snippets"`
	// RelevanceScore defaults to 1.0 when omitted.
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// FromOverride converts caller-supplied context into a bundle.
func FromOverride(o Override) *Bundle {
	score := 1.0
	if o.RelevanceScore != nil {
		score = min(max(*o.RelevanceScore, 0), 1)
	}
	b := &Bundle{RelevanceScore: score}
	for i, text := range o.Snippets {
		id := fmt.Sprintf("override-%d", i)
		b.Snippets = append(b.Snippets, Snippet{ID: id, SourceID: id, Collection: "override", Text: text, Score: score})
	}
	if len(b.Snippets) == 0 && o.RelevanceScore == nil {
		b.RelevanceScore = 0
	}
	return b
}

// Augmentor searches several collections and merges the results.
type Augmentor struct {
	vectors     vector.Store
	tunables    *tunables.Store
	collections []string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAugmentor creates an augmentor. With no collections the defaults from
// vector.ContextCollections are searched.
func NewAugmentor(vectors vector.Store, ts *tunables.Store, timeout time.Duration, collections ...string) *Augmentor {
	if len(collections) == 0 {
		collections = vector.ContextCollections()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Augmentor{
		vectors:     vectors,
		tunables:    ts,
		collections: collections,
		timeout:     timeout,
		logger:      slog.Default(),
	}
}

// Augment returns the context bundle for a query embedding. Failed or empty
// searches yield an empty bundle with relevance 0; the result is never nil.
func (a *Augmentor) Augment(ctx context.Context, queryText string, embedding []float32) *Bundle {
	if len(embedding) == 0 {
		return &Bundle{}
	}

	t := a.tunables.Load()
	topK := min(max(t.ContextTopK, 3), 5)
	floor := float32(t.ContextMinRelevance)

	perCollection := make([][]vector.Result, len(a.collections))
	var g errgroup.Group
	for i, name := range a.collections {
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			results, err := a.vectors.Search(searchCtx, name, embedding, topK, floor)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrContextSearchFailed, name, err)
			}
			perCollection[i] = results
			return nil
		})
	}
	// Every search runs to completion; the first error is only reported.
	if err := g.Wait(); err != nil {
		a.logger.Warn("context augmentation degraded",
			"query_len", len(queryText),
			"error", err,
		)
	}

	return merge(a.collections, perCollection)
}

// merge deduplicates by source id, keeping the best score, and orders by score.
func merge(collections []string, perCollection [][]vector.Result) *Bundle {
	best := make(map[string]Snippet)
	for i, results := range perCollection {
		for _, r := range results {
			source := vector.PayloadString(r.Payload, vector.PayloadSourceID)
			if source == "" {
				source = r.ID
			}
			s := Snippet{
				ID:         r.ID,
				SourceID:   source,
				Collection: collections[i],
				Text:       vector.PayloadString(r.Payload, vector.PayloadText),
				Score:      float64(r.Score),
			}
			if prev, ok := best[source]; !ok || s.Score > prev.Score {
				best[source] = s
			}
		}
	}

	b := &Bundle{}
	for _, s := range best {
		b.Snippets = append(b.Snippets, s)
	}
	sort.Slice(b.Snippets, func(i, j int) bool {
		if b.Snippets[i].Score == b.Snippets[j].Score {
			return b.Snippets[i].SourceID < b.Snippets[j].SourceID
		}
		return b.Snippets[i].Score > b.Snippets[j].Score
	})
	for _, s := range b.Snippets {
		b.ContextIDs = append(b.ContextIDs, s.SourceID)
	}
	if len(b.Snippets) > 0 {
		b.RelevanceScore = b.Snippets[0].Score
	}
	return b
}
