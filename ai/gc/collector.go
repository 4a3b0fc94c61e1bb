// Package gc bounds the growth of interaction records, patterns, cache
// entries and their vectors.
//
// Four passes run independently. A pass never overlaps with itself, may
// overlap with the other passes and with live traffic, and commits its
// deletions in batches: an interrupted pass keeps what it already deleted.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// Pass names.
const (
	PassAge    = "age"
	PassValue  = "value"
	PassDedup  = "dedup"
	PassOrphan = "orphan"
)

// ErrPassFailed wraps every pass failure. The pass is retried on its next run.
var ErrPassFailed = errors.New("gc pass failed")

// deleteBatchSize bounds one durable delete so an interrupted pass keeps
// its progress.
const deleteBatchSize = 1000

// dedupNeighbours is the first search width when clustering duplicates.
const dedupNeighbours = 16

// Cache is the part of the semantic cache the collector manages.
type Cache interface {
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	EvictToCapacity(ctx context.Context, n int) (int, error)
	EntryIDs() []string
}

// Config configures the collector.
type Config struct {
	// Schedule is a cron spec ("@every 15m", "0 */6 * * *") shared by all passes.
	Schedule string
	// PassTimeout bounds one pass.
	PassTimeout time.Duration
}

// Collector runs the passes on demand or on a schedule.
type Collector struct {
	store   *store.Store
	vectors vector.Store
	// cache is nil when the collector runs outside the serving process.
	cache   Cache
	ts      *tunables.Store
	metrics *metrics.PrometheusExporter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	flight singleflight.Group
	cron   *cron.Cron

	ruleMu sync.Mutex
	rule   *KeepRule
}

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// New creates a collector. cache may be nil.
func New(cfg Config, s *store.Store, vectors vector.Store, cache Cache, ts *tunables.Store, m *metrics.PrometheusExporter) *Collector {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 2 * time.Minute
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	return &Collector{
		store:   s,
		vectors: vectors,
		cache:   cache,
		ts:      ts,
		metrics: m,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// Passes returns the pass names in the order RunOnce runs them.
func Passes() []string {
	return []string{PassAge, PassValue, PassDedup, PassOrphan}
}

// Run executes one pass. A call while the same pass is running waits for
// it and shares its result.
func (c *Collector) Run(ctx context.Context, pass string) (int, error) {
	fn, ok := c.passFunc(pass)
	if !ok {
		return 0, fmt.Errorf("unknown gc pass %q", pass)
	}

	v, err, _ := c.flight.Do(pass, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.PassTimeout)
		defer cancel()

		start := time.Now()
		deleted, err := fn(ctx, c.ts.Load())
		duration := time.Since(start)

		c.metrics.RecordGCPass(pass, deleted, duration, err)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrPassFailed, pass, err)
			c.logger.Error("gc pass failed",
				"pass", pass,
				"deleted", deleted,
				"duration_ms", duration.Milliseconds(),
				"error", err,
			)
			return deleted, err
		}
		c.logger.Info("gc pass completed",
			"pass", pass,
			"deleted", deleted,
			"duration_ms", duration.Milliseconds(),
		)
		return deleted, nil
	})
	return v.(int), err
}

// RunOnce runs every pass in order and joins their errors. A failing pass
// does not stop the others.
func (c *Collector) RunOnce(ctx context.Context) (map[string]int, error) {
	deleted := make(map[string]int, 4)
	var errs []error
	for _, pass := range Passes() {
		n, err := c.Run(ctx, pass)
		deleted[pass] = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return deleted, errors.Join(errs...)
}

// Start schedules every pass as its own cron entry.
func (c *Collector) Start() error {
	if c.cron != nil {
		return errors.New("gc scheduler already started")
	}
	sched := cron.New(cron.WithParser(cronParser))
	for _, pass := range Passes() {
		if _, err := sched.AddFunc(c.cfg.Schedule, func() {
			// Errors are logged and counted by Run.
			_, _ = c.Run(context.Background(), pass)
		}); err != nil {
			return fmt.Errorf("invalid gc schedule %q: %w", c.cfg.Schedule, err)
		}
	}
	sched.Start()
	c.cron = sched
	c.logger.Info("gc scheduler started", "schedule", c.cfg.Schedule, "pass_timeout", c.cfg.PassTimeout)
	return nil
}

// Stop stops scheduling and waits for running passes up to ctx.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	done := c.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("gc shutdown timeout")
		return ctx.Err()
	}
}

func (c *Collector) passFunc(pass string) (func(context.Context, *tunables.Tunables) (int, error), bool) {
	switch pass {
	case PassAge:
		return c.expireByAge, true
	case PassValue:
		return c.pruneByValue, true
	case PassDedup:
		return c.dedup, true
	case PassOrphan:
		return c.sweepOrphans, true
	}
	return nil, false
}

// keepRule returns the compiled rule for expr, recompiling after a reload.
func (c *Collector) keepRule(expr string) (*KeepRule, error) {
	expr = strings.TrimSpace(expr)
	c.ruleMu.Lock()
	defer c.ruleMu.Unlock()
	if c.rule.String() == expr {
		return c.rule, nil
	}
	rule, err := CompileKeepRule(expr)
	if err != nil {
		return nil, err
	}
	c.rule = rule
	return rule, nil
}
