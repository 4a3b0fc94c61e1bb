// Package tunables holds the thresholds that can change while the coordinator runs.
//
// Readers take a snapshot with Store.Load and use it for the whole operation;
// a reload swaps the snapshot pointer and never mutates a published value.
package tunables

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Tunables is an immutable snapshot of hot-reloadable settings.
type Tunables struct {
	// Routing
	LocalConfidenceThreshold float64 `mapstructure:"local_confidence_threshold" json:"local_confidence_threshold"`
	SimpleComplexityCutoff   float64 `mapstructure:"simple_complexity_cutoff" json:"simple_complexity_cutoff"`

	// Semantic cache
	SimilarityFloor float64 `mapstructure:"similarity_floor" json:"similarity_floor"`

	// Context augmentation
	ContextTopK         int     `mapstructure:"context_top_k" json:"context_top_k"`
	ContextMinRelevance float64 `mapstructure:"context_min_relevance" json:"context_min_relevance"`

	// Pattern extraction
	ExtractionThreshold float64 `mapstructure:"extraction_threshold" json:"extraction_threshold"`

	// Garbage collection
	RetentionWindowDays  int     `mapstructure:"retention_window_days" json:"retention_window_days"`
	RetentionMinValue    float64 `mapstructure:"retention_min_value" json:"retention_min_value"`
	RetentionKeepRule    string  `mapstructure:"retention_keep_rule" json:"retention_keep_rule"`
	StorageBudgetRecords int64   `mapstructure:"storage_budget_records" json:"storage_budget_records"`
	PruneFraction        float64 `mapstructure:"prune_fraction" json:"prune_fraction"`
	DedupThreshold       float64 `mapstructure:"dedup_threshold" json:"dedup_threshold"`
	CacheMaxAgeHours     int     `mapstructure:"cache_max_age_hours" json:"cache_max_age_hours"`
	CacheMaxEntries      int     `mapstructure:"cache_max_entries" json:"cache_max_entries"`
}

// Default returns the documented defaults.
func Default() Tunables {
	return Tunables{
		LocalConfidenceThreshold: 0.7,
		SimpleComplexityCutoff:   0.4,
		SimilarityFloor:          0.92,
		ContextTopK:              4,
		ContextMinRelevance:      0.5,
		ExtractionThreshold:      0.7,
		RetentionWindowDays:      30,
		RetentionMinValue:        0.5,
		StorageBudgetRecords:     100000,
		PruneFraction:            0.2,
		DedupThreshold:           0.95,
		CacheMaxAgeHours:         168,
		CacheMaxEntries:          10000,
	}
}

// Validate checks ranges. A failing snapshot is never published.
func (t Tunables) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	unit("local_confidence_threshold", t.LocalConfidenceThreshold)
	unit("simple_complexity_cutoff", t.SimpleComplexityCutoff)
	unit("similarity_floor", t.SimilarityFloor)
	unit("context_min_relevance", t.ContextMinRelevance)
	unit("extraction_threshold", t.ExtractionThreshold)
	unit("retention_min_value", t.RetentionMinValue)
	unit("prune_fraction", t.PruneFraction)
	unit("dedup_threshold", t.DedupThreshold)

	if t.ContextTopK < 3 || t.ContextTopK > 5 {
		errs = append(errs, fmt.Errorf("context_top_k must be within [3,5], got %d", t.ContextTopK))
	}
	if t.RetentionWindowDays <= 0 {
		errs = append(errs, errors.New("retention_window_days must be positive"))
	}
	if t.StorageBudgetRecords <= 0 {
		errs = append(errs, errors.New("storage_budget_records must be positive"))
	}
	if t.CacheMaxAgeHours <= 0 || t.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("cache_max_age_hours and cache_max_entries must be positive"))
	}
	return errors.Join(errs...)
}

// Store publishes the current snapshot.
type Store struct {
	current atomic.Pointer[Tunables]
	version atomic.Int64
}

// NewStore creates a store holding initial. It panics if initial is invalid,
// since that is a programming error rather than a bad reload.
func NewStore(initial Tunables) *Store {
	if err := initial.Validate(); err != nil {
		panic(err)
	}
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Load returns the current snapshot. Callers must not modify it.
func (s *Store) Load() *Tunables {
	return s.current.Load()
}

// Version increments on every successful swap.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// Swap validates next and publishes it. On error the previous snapshot stays.
func (s *Store) Swap(next Tunables) error {
	if err := next.Validate(); err != nil {
		return err
	}
	prev := s.current.Swap(&next)
	v := s.version.Add(1)
	slog.Info("tunables reloaded",
		"version", v,
		"local_confidence_threshold", next.LocalConfidenceThreshold,
		"similarity_floor", next.SimilarityFloor,
		"extraction_threshold", next.ExtractionThreshold,
		"storage_budget_records", next.StorageBudgetRecords,
		"previous_similarity_floor", prev.SimilarityFloor,
	)
	return nil
}
