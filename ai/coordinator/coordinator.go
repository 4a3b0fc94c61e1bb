// Package coordinator answers queries: semantic cache first, then context
// augmentation, a routing decision and a backend call with a single fallback.
// Recording and learning happen off the response path.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MasterofNull/hybrid-coordinator/ai/backend"
	"github.com/MasterofNull/hybrid-coordinator/ai/cache"
	aicontext "github.com/MasterofNull/hybrid-coordinator/ai/context"
	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/observability/logging"
	"github.com/MasterofNull/hybrid-coordinator/ai/recorder"
	"github.com/MasterofNull/hybrid-coordinator/ai/routing"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// Embedder embeds query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recorder is the bookkeeping side of a query.
type Recorder interface {
	Record(in recorder.Input) string
	Feedback(ctx context.Context, id string, fb recorder.Feedback) error
}

// Request is one inbound query.
type Request struct {
	Text           string              `json:"text"`
	ComplexityHint routing.Hint        `json:"complexity_hint"`
	Override       *aicontext.Override `json:"context_override,omitempty"`
	// Impact is the caller's estimate of the answer's impact, in [0,1].
	Impact *float64 `json:"impact,omitempty"`
}

// Response is the answer to a query.
type Response struct {
	ResponseText  string      `json:"response_text"`
	Route         store.Route `json:"route_taken"`
	CacheHit      bool        `json:"cache_hit"`
	InteractionID string      `json:"interaction_id"`
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Embedder  Embedder
	Cache     *cache.SemanticCache
	Augmentor *aicontext.Augmentor
	Local     backend.Backend
	Remote    backend.Backend
	Recorder  Recorder
	Tunables  *tunables.Store
	Metrics   *metrics.PrometheusExporter
	// StoreTimeout bounds writing an answer into the cache.
	StoreTimeout time.Duration
}

// Coordinator serves queries.
type Coordinator struct {
	deps   Deps
	routes routeCounters
	logger *slog.Logger
	// writes tracks cache stores running after their response was returned.
	writes sync.WaitGroup
}

type routeCounters struct {
	cache  atomic.Int64
	local  atomic.Int64
	remote atomic.Int64
	failed atomic.Int64
}

// New creates a coordinator.
func New(deps Deps) *Coordinator {
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = time.Second
	}
	return &Coordinator{deps: deps, logger: slog.Default()}
}

// Query answers req. Cache and context failures degrade silently; only a
// failure of every tried backend is returned, as a *RequestError.
func (c *Coordinator) Query(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	embedding, err := c.deps.Embedder.Embed(ctx, text)
	if err != nil {
		// Without a vector the cache falls back to exact matches, the
		// bundle is empty and the query goes remote.
		logging.FromContext(ctx).Warn("query embedding failed", "error", err)
	}
	fp := cache.NewFingerprint(text, embedding)
	ctx = logging.With(ctx, "fingerprint", fp.Key[:12])
	logger := logging.FromContext(ctx)

	if entry, ok := c.deps.Cache.Lookup(ctx, fp); ok {
		return c.answerFromCache(ctx, req, text, fp, entry, start), nil
	}
	c.deps.Metrics.RecordCacheLookup("miss")

	bundle := c.augment(ctx, req, text, embedding)
	t := c.deps.Tunables.Load()
	decision := routing.Decide(fp.Key, text, bundle, req.ComplexityHint, t)
	logger.Debug("query routed",
		"route", decision.Route,
		"relevance", decision.RelevanceScore,
		"complexity", decision.Complexity,
		"snippets", len(bundle.Snippets),
	)

	result, answeredBy, err := c.generate(ctx, decision.Route, text, bundle.Texts())
	if err != nil {
		c.routes.failed.Add(1)
		c.deps.Metrics.RecordQuery("", time.Since(start), false)
		logger.Error("query failed", "error", err, "latency_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	route := store.Route(answeredBy)

	id := c.deps.Recorder.Record(recorder.Input{
		QueryText:      text,
		ResponseText:   result.Text,
		Route:          route,
		ContextIDs:     bundle.ContextIDs,
		BackendModelID: result.ModelID,
		TokenCost:      result.TokenCost,
		Outcome:        store.OutcomeUnknown,
		Impact:         req.Impact,
		Embedding:      embedding,
	})

	c.storeAnswer(ctx, id, fp, result)

	c.deps.Cache.Counters().AddSpent(result.TokenCost)
	c.countRoute(route)
	c.deps.Metrics.RecordQuery(string(route), time.Since(start), true)
	logger.Info("query answered",
		"interaction_id", id,
		"route", route,
		"token_cost", result.TokenCost,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		ResponseText:  result.Text,
		Route:         route,
		CacheHit:      false,
		InteractionID: id,
	}, nil
}

// storeAnswer writes the answer into the cache off the response path.
// Failures are logged only.
func (c *Coordinator) storeAnswer(ctx context.Context, id string, fp cache.Fingerprint, result *backend.Result) {
	logger := logging.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deps.StoreTimeout)
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		defer cancel()
		if _, err := c.deps.Cache.Store(ctx, fp, result.Text, result.TokenCost); err != nil {
			logger.Warn("failed to cache answer", "interaction_id", id, "error", err)
		}
	}()
}

// Close waits up to timeout for cache writes still in flight.
func (c *Coordinator) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		c.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for cache writes")
	}
}

func (c *Coordinator) answerFromCache(ctx context.Context, req Request, text string, fp cache.Fingerprint, entry *cache.Entry, start time.Time) *Response {
	id := c.deps.Recorder.Record(recorder.Input{
		QueryText:    text,
		ResponseText: entry.ResponseText,
		Route:        store.RouteCache,
		Outcome:      store.OutcomeUnknown,
		Impact:       req.Impact,
		Embedding:    fp.Embedding,
	})

	c.countRoute(store.RouteCache)
	c.deps.Metrics.RecordCacheLookup("hit")
	c.deps.Metrics.RecordTokensSaved(entry.TokenCostSavedPerHit)
	c.deps.Metrics.RecordQuery(string(store.RouteCache), time.Since(start), true)
	logging.FromContext(ctx).Info("query answered from cache",
		"interaction_id", id,
		"entry_id", entry.ID,
		"hit_count", entry.HitCount,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		ResponseText:  entry.ResponseText,
		Route:         store.RouteCache,
		CacheHit:      true,
		InteractionID: id,
	}
}

func (c *Coordinator) augment(ctx context.Context, req Request, text string, embedding []float32) *aicontext.Bundle {
	var bundle *aicontext.Bundle
	if req.Override != nil {
		bundle = aicontext.FromOverride(*req.Override)
	} else {
		bundle = c.deps.Augmentor.Augment(ctx, text, embedding)
	}
	c.deps.Metrics.RecordRelevance(bundle.RelevanceScore)
	return bundle
}

// generate calls the backend for route and, when it is unavailable or times
// out, the other backend once. It returns the name of the backend that answered.
func (c *Coordinator) generate(ctx context.Context, route store.Route, prompt string, snippets []string) (*backend.Result, string, error) {
	primary, secondary := c.deps.Remote, c.deps.Local
	if route == store.RouteLocal {
		primary, secondary = c.deps.Local, c.deps.Remote
	}

	var attempts []Attempt
	for i, b := range []backend.Backend{primary, secondary} {
		if i > 0 {
			last := attempts[len(attempts)-1].Err
			fallback := errors.Is(last, backend.ErrBackendUnavailable) || errors.Is(last, backend.ErrBackendTimeout)
			if !fallback || ctx.Err() != nil {
				break
			}
			c.deps.Metrics.RecordFallback(primary.Name(), b.Name())
			logging.FromContext(ctx).Warn("backend failed, falling back",
				"from", primary.Name(),
				"to", b.Name(),
				"error", last,
			)
		}

		callStart := time.Now()
		result, err := b.Generate(ctx, prompt, snippets)
		var tokens int64
		if result != nil {
			tokens = result.TokenCost
		}
		c.deps.Metrics.RecordBackendCall(b.Name(), time.Since(callStart), tokens, err)
		if err == nil {
			return result, b.Name(), nil
		}
		attempts = append(attempts, Attempt{Backend: b.Name(), Err: err})
	}

	reason := "all backends failed"
	if len(attempts) == 1 {
		reason = attempts[0].Backend + " backend failed"
	}
	if ctx.Err() != nil {
		reason = "request cancelled"
	}
	return nil, "", &RequestError{Reason: reason, Attempts: attempts}
}

// Feedback forwards caller feedback to the recorder.
func (c *Coordinator) Feedback(ctx context.Context, id string, fb recorder.Feedback) error {
	return c.deps.Recorder.Feedback(ctx, id, fb)
}

func (c *Coordinator) countRoute(r store.Route) {
	switch r {
	case store.RouteCache:
		c.routes.cache.Add(1)
	case store.RouteLocal:
		c.routes.local.Add(1)
	case store.RouteRemote:
		c.routes.remote.Add(1)
	}
}

// Stats is a snapshot of the running counters.
type Stats struct {
	Cache        cache.CountersSnapshot `json:"cache"`
	CacheEntries int                    `json:"cache_entries"`
	Routes       map[string]int64       `json:"routes"`
	Failed       int64                  `json:"failed"`
	// LocalRatio is local answers over backend answers, 0 when none.
	LocalRatio      float64 `json:"local_ratio"`
	TunablesVersion int64   `json:"tunables_version"`
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	local, remote := c.routes.local.Load(), c.routes.remote.Load()
	s := Stats{
		Cache:        c.deps.Cache.Counters().Snapshot(),
		CacheEntries: c.deps.Cache.Len(),
		Routes: map[string]int64{
			string(store.RouteCache):  c.routes.cache.Load(),
			string(store.RouteLocal):  local,
			string(store.RouteRemote): remote,
		},
		Failed:          c.routes.failed.Load(),
		TunablesVersion: c.deps.Tunables.Version(),
	}
	if total := local + remote; total > 0 {
		s.LocalRatio = float64(local) / float64(total)
	}
	return s
}
