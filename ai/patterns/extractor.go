// Package patterns turns high-value interactions into reusable templates.
package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/MasterofNull/hybrid-coordinator/ai/events"
	"github.com/MasterofNull/hybrid-coordinator/ai/filter"
	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// Extraction results reported to metrics.
const (
	ResultCreated        = "created"
	ResultExists         = "exists"
	ResultBelowThreshold = "below_threshold"
	ResultFailed         = "failed"
)

// Embedder embeds template text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Extractor consumes record-completed events.
type Extractor struct {
	store    *store.Store
	vectors  vector.Store
	embedder Embedder
	ts       *tunables.Store
	metrics  *metrics.PrometheusExporter
	timeout  time.Duration
	redactor *filter.Filter
	logger   *slog.Logger
	now      func() time.Time
}

// NewExtractor creates an extractor. timeout bounds one extraction.
func NewExtractor(s *store.Store, vectors vector.Store, embedder Embedder, ts *tunables.Store, m *metrics.PrometheusExporter, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		store:    s,
		vectors:  vectors,
		embedder: embedder,
		ts:       ts,
		metrics:  m,
		timeout:  timeout,
		redactor: filter.DefaultFilter(),
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Handle is the bus handler.
func (e *Extractor) Handle(ctx context.Context, ev events.RecordCompleted) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p, err := e.Extract(ctx, &ev.Record)
	if err != nil {
		e.logger.Warn("pattern extraction failed",
			"interaction_id", ev.Record.ID,
			"error", err,
		)
		return
	}
	if p != nil {
		e.logger.Debug("pattern available",
			"interaction_id", ev.Record.ID,
			"pattern_id", p.ID,
		)
	}
}

// Extract creates the pattern for rec when its value score reaches the
// extraction threshold. It returns the existing pattern when rec was
// already extracted, and nil when rec is below the threshold.
func (e *Extractor) Extract(ctx context.Context, rec *store.InteractionRecord) (*store.PatternRecord, error) {
	if rec.ValueScore < e.ts.Load().ExtractionThreshold {
		e.metrics.RecordPattern(ResultBelowThreshold)
		return nil, nil
	}

	existing, err := e.store.GetPatternBySource(ctx, rec.ID)
	if err != nil {
		e.metrics.RecordPattern(ResultFailed)
		return nil, fmt.Errorf("find pattern for %s: %w", rec.ID, err)
	}
	if existing != nil {
		e.metrics.RecordPattern(ResultExists)
		return existing, nil
	}

	// Patterns are served to every caller; credentials stay with the source record.
	tmpl := DeriveTemplate(rec.QueryText, rec.ResponseText)
	tmpl.Description = e.redactor.FilterText(tmpl.Description)
	tmpl.Text = e.redactor.FilterText(tmpl.Text)
	embedding, err := e.embedder.Embed(ctx, tmpl.Text)
	if err != nil {
		e.metrics.RecordPattern(ResultFailed)
		return nil, fmt.Errorf("embed template: %w", err)
	}

	created, err := e.store.CreatePattern(ctx, &store.PatternRecord{
		ID:                  shortuuid.New(),
		SourceInteractionID: rec.ID,
		Description:         tmpl.Description,
		Template:            tmpl.Text,
		ValueScore:          rec.ValueScore,
		CreatedTs:           e.now().Unix(),
	})
	if err != nil {
		e.metrics.RecordPattern(ResultFailed)
		return nil, fmt.Errorf("create pattern for %s: %w", rec.ID, err)
	}

	// A concurrent extraction may have won; re-indexing its id is harmless.
	payload := map[string]any{
		vector.PayloadText:       created.Template,
		vector.PayloadSourceID:   created.SourceInteractionID,
		vector.PayloadValueScore: created.ValueScore,
		vector.PayloadCreatedTs:  created.CreatedTs,
	}
	if err := e.vectors.Upsert(ctx, vector.CollectionPatterns, created.ID, embedding, payload); err != nil {
		e.metrics.RecordPattern(ResultFailed)
		return created, fmt.Errorf("index pattern %s: %w", created.ID, err)
	}

	e.metrics.RecordPattern(ResultCreated)
	e.logger.Info("pattern extracted",
		"interaction_id", rec.ID,
		"pattern_id", created.ID,
		"value_score", rec.ValueScore,
	)
	return created, nil
}
