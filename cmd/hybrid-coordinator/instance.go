package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MasterofNull/hybrid-coordinator/ai"
	"github.com/MasterofNull/hybrid-coordinator/ai/cache"
	aicontext "github.com/MasterofNull/hybrid-coordinator/ai/context"
	"github.com/MasterofNull/hybrid-coordinator/ai/coordinator"
	"github.com/MasterofNull/hybrid-coordinator/ai/events"
	"github.com/MasterofNull/hybrid-coordinator/ai/gc"
	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/patterns"
	"github.com/MasterofNull/hybrid-coordinator/ai/recorder"
	"github.com/MasterofNull/hybrid-coordinator/ai/scoring"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector/pgvector"
	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	"github.com/MasterofNull/hybrid-coordinator/store"
	"github.com/MasterofNull/hybrid-coordinator/store/db"
)

const (
	shutdownTimeout  = 10 * time.Second
	embeddingMemoMax = 64 << 20
)

// instance holds the wired components of the serving process.
type instance struct {
	store       *store.Store
	vectors     vector.Store
	embedder    *ai.CachedEmbeddingService
	tunables    *tunables.Store
	metrics     *metrics.PrometheusExporter
	bus         *events.Bus
	cache       *cache.SemanticCache
	recorder    *recorder.Recorder
	collector   *gc.Collector
	coordinator *coordinator.Coordinator
	ingester    *knowledge.Ingester
}

// openStorage opens the durable store and the vector store, migrating both.
func openStorage(ctx context.Context, p *profile.Profile) (*store.Store, vector.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, nil, fmt.Errorf("migrate store: %w", err)
	}

	switch p.VectorBackend {
	case "pgvector":
		vs := pgvector.New(dbDriver.GetDB())
		if err := vs.Migrate(ctx); err != nil {
			_ = storeInstance.Close()
			return nil, nil, fmt.Errorf("migrate pgvector: %w", err)
		}
		return storeInstance, vs, nil
	default:
		persistDir := ""
		if p.Driver != "memory" {
			persistDir = filepath.Join(p.Data, "vectors")
		}
		vs, err := vector.NewChromemStore(persistDir, vector.WithDimensions(p.EmbeddingDimensions))
		if err != nil {
			_ = storeInstance.Close()
			return nil, nil, err
		}
		return storeInstance, vs, nil
	}
}

// newEmbedder creates the memoized embedding client.
func newEmbedder(cfg *ai.Config) (*ai.CachedEmbeddingService, error) {
	inner, err := ai.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		return nil, err
	}
	return ai.NewCachedEmbeddingService(inner, embeddingMemoMax)
}

func newInstance(ctx context.Context, p *profile.Profile) (*instance, error) {
	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("ai config: %w", err)
	}

	ts, v, err := tunables.Load(p.ConfigFile)
	if err != nil {
		return nil, err
	}
	tunables.Watch(v, ts)

	storeInstance, vectors, err := openStorage(ctx, p)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(aiConfig)
	if err != nil {
		_ = storeInstance.Close()
		return nil, err
	}
	local, remote, err := aiConfig.NewBackends()
	if err != nil {
		embedder.Close()
		_ = storeInstance.Close()
		return nil, err
	}

	m := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	counters := &cache.Counters{}
	semanticCache := cache.NewSemanticCache(cache.Config{Timeout: p.CacheTimeout()}, vectors, ts, counters)
	augmentor := aicontext.NewAugmentor(vectors, ts, p.VectorTimeout())
	recordTimeout := time.Duration(p.RecordTimeout) * time.Second

	bus := events.NewBus(p.EventQueueSize, m)
	extractor := patterns.NewExtractor(storeInstance, vectors, embedder, ts, m, recordTimeout)
	bus.Subscribe("patterns", extractor.Handle)
	bus.Subscribe("metrics", events.ObserveValueScores(m))

	rec := recorder.New(
		recorder.Config{Timeout: recordTimeout},
		storeInstance,
		scoring.NewScorer(vectors, p.VectorTimeout()),
		vectors,
		bus,
		m,
	)

	collector := gc.New(gc.Config{
		Schedule:    p.GCSchedule,
		PassTimeout: time.Duration(p.GCPassTimeout) * time.Second,
	}, storeInstance, vectors, semanticCache, ts, m)
	if err := collector.Start(); err != nil {
		_ = bus.Close(shutdownTimeout)
		embedder.Close()
		_ = storeInstance.Close()
		return nil, err
	}

	coord := coordinator.New(coordinator.Deps{
		Embedder:  embedder,
		Cache:     semanticCache,
		Augmentor: augmentor,
		Local:     local,
		Remote:    remote,
		Recorder:  rec,
		Tunables:  ts,
		Metrics:   m,
	})

	inst := &instance{
		store:       storeInstance,
		vectors:     vectors,
		embedder:    embedder,
		tunables:    ts,
		metrics:     m,
		bus:         bus,
		cache:       semanticCache,
		recorder:    rec,
		collector:   collector,
		coordinator: coord,
		ingester:    knowledge.NewIngester(embedder, vectors),
	}
	inst.registerGauges()
	return inst, nil
}

func (i *instance) registerGauges() {
	i.metrics.RegisterGaugeFunc("cache_entries", "Live semantic cache entries", func() float64 {
		return float64(i.cache.Len())
	})
	i.metrics.RegisterGaugeFunc("net_token_cost", "Tokens spent minus tokens saved by the cache", func() float64 {
		return float64(i.cache.Counters().NetTokenCost())
	})
	i.metrics.RegisterGaugeFunc("records_pending", "Interaction writes in flight", func() float64 {
		return float64(i.recorder.Pending())
	})
	i.metrics.RegisterGaugeFunc("tunables_version", "Generation of the active tunables snapshot", func() float64 {
		return float64(i.tunables.Version())
	})
	i.metrics.RegisterGaugeFunc("local_ratio", "Share of backend answers served locally", func() float64 {
		return i.coordinator.Stats().LocalRatio
	})
}

// close stops background work before releasing storage.
func (i *instance) close(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := i.coordinator.Close(shutdownTimeout); err != nil {
		slog.Warn("cache writes did not drain", "error", err)
	}
	if err := i.collector.Stop(stopCtx); err != nil {
		slog.Warn("gc did not stop cleanly", "error", err)
	}
	if err := i.recorder.Close(shutdownTimeout); err != nil {
		slog.Warn("recorder did not drain", "error", err)
	}
	if err := i.bus.Close(shutdownTimeout); err != nil {
		slog.Warn("event bus did not drain", "error", err)
	}
	i.embedder.Close()
	if err := i.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}
