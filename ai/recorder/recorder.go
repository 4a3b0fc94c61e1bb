// Package recorder persists every completed query off the request path.
//
// Record assigns the interaction id synchronously and writes in a goroutine
// the caller never awaits. Feedback that arrives before the write is merged
// into it; feedback that arrives after triggers a recompute of the value
// score with the same formula.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MasterofNull/hybrid-coordinator/ai/events"
	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/scoring"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

var (
	// ErrRecordingFailed wraps durable write failures. It is logged, never returned to a query.
	ErrRecordingFailed = errors.New("recording failed")
	// ErrInvalidFeedback rejects an unknown outcome or a rating outside -1..1.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// Input is everything known about a completed query.
type Input struct {
	QueryText      string
	ResponseText   string
	Route          store.Route
	ContextIDs     []string
	BackendModelID string
	TokenCost      int64
	Outcome        store.Outcome
	UserFeedback   *int32
	Impact         *float64
	Embedding      []float32
}

// Feedback updates the outcome and rating of a recorded interaction.
// An empty Outcome keeps the current one.
type Feedback struct {
	Outcome      store.Outcome `json:"outcome"`
	UserFeedback *int32        `json:"user_feedback"`
}

// Validate checks outcome and rating ranges.
func (f Feedback) Validate() error {
	if f.Outcome != "" && !f.Outcome.Valid() {
		return fmt.Errorf("%w: outcome %q", ErrInvalidFeedback, f.Outcome)
	}
	if f.UserFeedback != nil && (*f.UserFeedback < -1 || *f.UserFeedback > 1) {
		return fmt.Errorf("%w: user_feedback %d", ErrInvalidFeedback, *f.UserFeedback)
	}
	return nil
}

// merge applies f on top of the given outcome and rating.
func (f Feedback) merge(outcome store.Outcome, rating *int32) (store.Outcome, *int32) {
	if f.Outcome != "" {
		outcome = f.Outcome
	}
	if f.UserFeedback != nil {
		v := *f.UserFeedback
		rating = &v
	}
	return outcome, rating
}

// Config configures the recorder.
type Config struct {
	// Timeout bounds one durable write including scoring.
	Timeout time.Duration
}

// Recorder writes interaction records and publishes completion events.
type Recorder struct {
	store   *store.Store
	scorer  *scoring.Scorer
	vectors vector.Store
	bus     events.Publisher
	metrics *metrics.PrometheusExporter
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
	wg      sync.WaitGroup
}

// pendingWrite holds feedback for a record that is not durable yet.
type pendingWrite struct {
	feedback *Feedback
}

// New creates a recorder.
func New(cfg Config, s *store.Store, scorer *scoring.Scorer, vectors vector.Store, bus events.Publisher, m *metrics.PrometheusExporter) *Recorder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Recorder{
		store:   s,
		scorer:  scorer,
		vectors: vectors,
		bus:     bus,
		metrics: m,
		timeout: cfg.Timeout,
		logger:  slog.Default(),
		now:     time.Now,
		pending: make(map[string]*pendingWrite),
	}
}

// Record returns the new interaction id immediately and persists in the
// background. After Close it still returns an id but writes nothing.
func (r *Recorder) Record(in Input) string {
	id := uuid.NewString()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("recorder closed, interaction not recorded", "interaction_id", id)
		return id
	}
	r.pending[id] = &pendingWrite{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.write(id, in)
	return id
}

func (r *Recorder) write(id string, in Input) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	factors := r.scorer.Factors(ctx, in.QueryText, in.ResponseText, in.Embedding, in.Impact)

	outcome := in.Outcome
	if outcome == "" {
		outcome = store.OutcomeUnknown
	}
	rating := in.UserFeedback

	r.mu.Lock()
	if p := r.pending[id]; p != nil && p.feedback != nil {
		outcome, rating = p.feedback.merge(outcome, rating)
		p.feedback = nil
	}
	r.mu.Unlock()

	now := r.now().Unix()
	rec := &store.InteractionRecord{
		ID:             id,
		QueryText:      in.QueryText,
		ResponseText:   in.ResponseText,
		Route:          in.Route,
		ContextIDs:     in.ContextIDs,
		BackendModelID: in.BackendModelID,
		Outcome:        outcome,
		UserFeedback:   rating,
		Factors:        factors,
		TokenCost:      in.TokenCost,
		CreatedTs:      now,
		UpdatedTs:      now,
	}
	rec.ValueScore = scoring.ScoreRecord(rec)

	created, err := r.store.CreateInteraction(ctx, rec)
	if err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		r.metrics.RecordInteraction(false)
		r.logger.Error("failed to record interaction",
			"interaction_id", id,
			"route", in.Route,
			"error", fmt.Errorf("%w: %w", ErrRecordingFailed, err),
		)
		return
	}
	r.metrics.RecordInteraction(true)

	// Feedback may have landed while the insert was in flight.
	r.mu.Lock()
	late := r.pending[id].feedback
	delete(r.pending, id)
	r.mu.Unlock()

	if len(in.Embedding) > 0 {
		payload := map[string]any{
			vector.PayloadText:       in.QueryText,
			vector.PayloadSourceID:   id,
			vector.PayloadValueScore: created.ValueScore,
			vector.PayloadCreatedTs:  created.CreatedTs,
		}
		if err := r.vectors.Upsert(ctx, vector.CollectionPriorInteractions, id, in.Embedding, payload); err != nil {
			r.logger.Warn("failed to index interaction", "interaction_id", id, "error", err)
		}
	}

	r.logger.Debug("interaction recorded",
		"interaction_id", id,
		"route", created.Route,
		"value_score", created.ValueScore,
	)

	if late != nil {
		if err := r.rescore(ctx, id, *late); err != nil {
			r.logger.Warn("failed to apply late feedback", "interaction_id", id, "error", err)
		}
		return
	}
	r.bus.Publish(events.RecordCompleted{Record: *created})
}

// Feedback records an outcome and rating. Before the record is durable the
// values are merged into the pending write; afterwards the value score is
// recomputed and persisted, and the completion event is emitted again.
func (r *Recorder) Feedback(ctx context.Context, id string, fb Feedback) error {
	if err := fb.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if p, ok := r.pending[id]; ok {
		if p.feedback != nil {
			o, v := fb.merge(p.feedback.Outcome, p.feedback.UserFeedback)
			fb = Feedback{Outcome: o, UserFeedback: v}
		}
		p.feedback = &fb
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return r.rescore(ctx, id, fb)
}

func (r *Recorder) rescore(ctx context.Context, id string, fb Feedback) error {
	rec, err := r.store.GetInteraction(ctx, id)
	if err != nil {
		return fmt.Errorf("load interaction %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("interaction %s: %w", id, store.ErrNotFound)
	}

	rec.Outcome, rec.UserFeedback = fb.merge(rec.Outcome, rec.UserFeedback)
	rec.ValueScore = scoring.ScoreRecord(rec)
	rec.UpdatedTs = r.now().Unix()

	if err := r.store.UpdateInteractionFeedback(ctx, &store.UpdateInteractionFeedback{
		ID:           id,
		Outcome:      rec.Outcome,
		UserFeedback: rec.UserFeedback,
		ValueScore:   rec.ValueScore,
		UpdatedTs:    rec.UpdatedTs,
	}); err != nil {
		return fmt.Errorf("update interaction %s: %w", id, err)
	}

	r.logger.Info("interaction rescored",
		"interaction_id", id,
		"outcome", rec.Outcome,
		"value_score", rec.ValueScore,
	)
	r.bus.Publish(events.RecordCompleted{Record: *rec, Rescored: true})
	return nil
}

// Pending returns the number of writes in flight.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close stops accepting records and waits up to timeout for in-flight writes.
func (r *Recorder) Close(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		r.logger.Warn("recorder shutdown timeout", "pending", r.Pending())
		return context.DeadlineExceeded
	}
}
