package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/backend"
	"github.com/MasterofNull/hybrid-coordinator/ai/cache"
	aicontext "github.com/MasterofNull/hybrid-coordinator/ai/context"
	"github.com/MasterofNull/hybrid-coordinator/ai/recorder"
	"github.com/MasterofNull/hybrid-coordinator/ai/routing"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// letterEmbedder embeds text as normalized letter counts.
type letterEmbedder struct {
	err error
}

func (e *letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	v[0] += 0.01
	return v, nil
}

type fakeBackend struct {
	name  string
	calls atomic.Int32
	err   error
	text  string
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Generate(_ context.Context, prompt string, snippets []string) (*backend.Result, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	text := b.text
	if text == "" {
		text = fmt.Sprintf("%s answer to %q with %d snippets", b.name, prompt, len(snippets))
	}
	return &backend.Result{Text: text, TokenCost: 120, ModelID: b.name + "-model"}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	inputs   []recorder.Input
	feedback map[string]recorder.Feedback
}

func (r *fakeRecorder) Record(in recorder.Input) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return fmt.Sprintf("rec-%d", len(r.inputs))
}

func (r *fakeRecorder) Feedback(_ context.Context, id string, fb recorder.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedback == nil {
		r.feedback = map[string]recorder.Feedback{}
	}
	r.feedback[id] = fb
	return nil
}

func (r *fakeRecorder) recorded() []recorder.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorder.Input(nil), r.inputs...)
}

type brokenVectors struct{}

func (brokenVectors) Search(context.Context, string, []float32, int, float32) ([]vector.Result, error) {
	return nil, errors.New("vector store down")
}

func (brokenVectors) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return errors.New("vector store down")
}

func (brokenVectors) Delete(context.Context, string, []string) error {
	return errors.New("vector store down")
}

func (brokenVectors) List(context.Context, string) ([]vector.Record, error) {
	return nil, errors.New("vector store down")
}

type fixture struct {
	coord    *Coordinator
	local    *fakeBackend
	remote   *fakeBackend
	recorder *fakeRecorder
	embedder *letterEmbedder
	cache    *cache.SemanticCache
}

func newFixture(t *testing.T, vectors vector.Store) *fixture {
	t.Helper()
	if vectors == nil {
		v, err := vector.NewChromemStore("")
		require.NoError(t, err)
		vectors = v
	}
	ts := tunables.NewStore(tunables.Default())
	f := &fixture{
		local:    &fakeBackend{name: backend.Local},
		remote:   &fakeBackend{name: backend.Remote},
		recorder: &fakeRecorder{},
		embedder: &letterEmbedder{},
		cache:    cache.NewSemanticCache(cache.DefaultConfig(), vectors, ts, &cache.Counters{}),
	}
	f.coord = New(Deps{
		Embedder:  f.embedder,
		Cache:     f.cache,
		Augmentor: aicontext.NewAugmentor(vectors, ts, time.Second),
		Local:     f.local,
		Remote:    f.remote,
		Recorder:  f.recorder,
		Tunables:  ts,
	})
	return f
}

func lowHint(t *testing.T) routing.Hint {
	t.Helper()
	h, err := routing.ParseHint("low")
	require.NoError(t, err)
	return h
}

func withRelevance(score float64, snippets ...string) *aicontext.Override {
	return &aicontext.Override{Snippets: snippets, RelevanceScore: &score}
}

func TestQuery_LocalThenCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := Request{
		Text:           "How do I enable a systemd service declaratively?",
		ComplexityHint: lowHint(t),
		Override:       withRelevance(0.85, "services.<name>.enable = true"),
	}

	first, err := f.coord.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, store.RouteLocal, first.Route)
	assert.False(t, first.CacheHit)
	assert.NotEmpty(t, first.InteractionID)
	f.coord.writes.Wait()

	second, err := f.coord.Query(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, store.RouteCache, second.Route)
	assert.Equal(t, first.ResponseText, second.ResponseText)
	assert.NotEqual(t, first.InteractionID, second.InteractionID)

	assert.Equal(t, int32(1), f.local.calls.Load())
	assert.Zero(t, f.remote.calls.Load())

	recs := f.recorder.recorded()
	require.Len(t, recs, 2)
	assert.Equal(t, store.RouteLocal, recs[0].Route)
	assert.Equal(t, "local-model", recs[0].BackendModelID)
	assert.Empty(t, recs[0].ContextIDs)
	assert.Equal(t, store.RouteCache, recs[1].Route)

	stats := f.coord.Stats()
	assert.Equal(t, int64(1), stats.Routes["local"])
	assert.Equal(t, int64(1), stats.Routes["cache"])
	assert.InDelta(t, 1.0, stats.LocalRatio, 1e-9)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(120), stats.Cache.TokensSpent)
	assert.Equal(t, int64(0), stats.Cache.NetTokenCost)
	assert.Equal(t, 1, stats.CacheEntries)
}

func TestQuery_LowRelevanceGoesRemote(t *testing.T) {
	for _, hint := range []string{"low", "high"} {
		t.Run(hint, func(t *testing.T) {
			f := newFixture(t, nil)
			h, err := routing.ParseHint(hint)
			require.NoError(t, err)
			resp, err := f.coord.Query(context.Background(), Request{
				Text:           "unrelated question about " + hint,
				ComplexityHint: h,
				Override:       withRelevance(0.3),
			})
			require.NoError(t, err)
			assert.Equal(t, store.RouteRemote, resp.Route)
		})
	}
}

func TestQuery_FallsBackOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unavailable", err: &backend.Error{Backend: backend.Local, Kind: backend.ErrBackendUnavailable, Err: errors.New("connection refused")}},
		{name: "timeout", err: &backend.Error{Backend: backend.Local, Kind: backend.ErrBackendTimeout, Err: context.DeadlineExceeded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.local.err = tt.err

			resp, err := f.coord.Query(context.Background(), Request{
				Text:           "how to restart nginx",
				ComplexityHint: lowHint(t),
				Override:       withRelevance(0.9),
			})
			require.NoError(t, err)
			assert.Equal(t, store.RouteRemote, resp.Route)
			assert.Equal(t, int32(1), f.local.calls.Load())
			assert.Equal(t, int32(1), f.remote.calls.Load())
			assert.Equal(t, store.RouteRemote, f.recorder.recorded()[0].Route)
		})
	}
}

func TestQuery_BothBackendsFail(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.err = &backend.Error{Backend: backend.Remote, Kind: backend.ErrBackendUnavailable, Err: errors.New("503")}
	f.local.err = &backend.Error{Backend: backend.Local, Kind: backend.ErrBackendTimeout, Err: context.DeadlineExceeded}

	_, err := f.coord.Query(context.Background(), Request{Text: "anything", Override: withRelevance(0)})
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Equal(t, []string{backend.Remote, backend.Local}, reqErr.Attempted())
	assert.Equal(t, "all backends failed", reqErr.Reason)
	assert.Empty(t, f.recorder.recorded())
	assert.Equal(t, int64(1), f.coord.Stats().Failed)
}

func TestQuery_NoFallbackAfterCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.remote.err = &backend.Error{Backend: backend.Remote, Kind: backend.ErrBackendTimeout, Err: context.Canceled}
	cancel()

	_, err := f.coord.Query(ctx, Request{Text: "anything", Override: withRelevance(0)})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, []string{backend.Remote}, reqErr.Attempted())
	assert.Zero(t, f.local.calls.Load())
}

func TestQuery_EmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.embedder.err = errors.New("embedding provider down")
	req := Request{Text: "how do i enable a service", ComplexityHint: lowHint(t)}

	resp, err := f.coord.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, store.RouteRemote, resp.Route)
	f.coord.writes.Wait()

	// The exact layer still serves the repeat.
	resp, err = f.coord.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.CacheHit)
}

func TestQuery_VectorStoreDownNeverFailsQuery(t *testing.T) {
	f := newFixture(t, brokenVectors{})

	resp, err := f.coord.Query(context.Background(), Request{Text: "how do i enable a service", ComplexityHint: lowHint(t)})
	require.NoError(t, err)
	assert.Equal(t, store.RouteRemote, resp.Route)
	assert.False(t, resp.CacheHit)
	require.NoError(t, f.coord.Close(time.Second))
	assert.Zero(t, f.cache.Len())
}

// gatedUpsert holds cache index writes until released.
type gatedUpsert struct {
	vector.Store
	release chan struct{}
}

func (g *gatedUpsert) Upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]any) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Store.Upsert(ctx, collection, id, vec, payload)
}

func TestQuery_CacheWriteDoesNotDelayResponse(t *testing.T) {
	v, err := vector.NewChromemStore("")
	require.NoError(t, err)
	gated := &gatedUpsert{Store: v, release: make(chan struct{})}
	f := newFixture(t, gated)
	f.coord.deps.StoreTimeout = 5 * time.Second

	done := make(chan *Response, 1)
	go func() {
		resp, err := f.coord.Query(context.Background(), Request{Text: "rotate journald logs", Override: withRelevance(0)})
		assert.NoError(t, err)
		done <- resp
	}()

	select {
	case resp := <-done:
		assert.False(t, resp.CacheHit)
	case <-time.After(2 * time.Second):
		t.Fatal("response waited for the cache write")
	}

	assert.Error(t, f.coord.Close(50*time.Millisecond))
	close(gated.release)
	require.NoError(t, f.coord.Close(5*time.Second))
	assert.Equal(t, 1, f.cache.Len())
}

func TestQuery_HitAndMissRecordSameQueryText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := Request{Text: "  How do I  Enable SSH?  ", ComplexityHint: lowHint(t), Override: withRelevance(0.9)}

	_, err := f.coord.Query(ctx, req)
	require.NoError(t, err)
	f.coord.writes.Wait()
	resp, err := f.coord.Query(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.CacheHit)

	recs := f.recorder.recorded()
	require.Len(t, recs, 2)
	assert.Equal(t, "How do I  Enable SSH?", recs[0].QueryText)
	assert.Equal(t, recs[0].QueryText, recs[1].QueryText)
}

func TestQuery_EmptyText(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.Query(context.Background(), Request{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestFeedback_Delegates(t *testing.T) {
	f := newFixture(t, nil)
	rating := int32(1)
	require.NoError(t, f.coord.Feedback(context.Background(), "rec-1", recorder.Feedback{Outcome: store.OutcomeSuccess, UserFeedback: &rating}))
	assert.Equal(t, store.OutcomeSuccess, f.recorder.feedback["rec-1"].Outcome)
}
