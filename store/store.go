package store

import (
	"context"
	"errors"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
)

// ErrNotFound is returned when an update targets a missing record.
var ErrNotFound = errors.New("not found")

// Store provides database access to interaction and pattern records.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateInteraction(ctx context.Context, create *InteractionRecord) (*InteractionRecord, error) {
	return s.driver.CreateInteraction(ctx, create)
}

// GetInteraction returns nil when no record has the id.
func (s *Store) GetInteraction(ctx context.Context, id string) (*InteractionRecord, error) {
	list, err := s.driver.ListInteractions(ctx, &FindInteraction{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListInteractions(ctx context.Context, find *FindInteraction) ([]*InteractionRecord, error) {
	return s.driver.ListInteractions(ctx, find)
}

func (s *Store) UpdateInteractionFeedback(ctx context.Context, update *UpdateInteractionFeedback) error {
	return s.driver.UpdateInteractionFeedback(ctx, update)
}

func (s *Store) CountInteractions(ctx context.Context) (int64, error) {
	return s.driver.CountInteractions(ctx)
}

func (s *Store) ListInteractionIDs(ctx context.Context) ([]string, error) {
	return s.driver.ListInteractionIDs(ctx)
}

func (s *Store) DeleteInteractions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.driver.DeleteInteractions(ctx, ids)
}

func (s *Store) CreatePattern(ctx context.Context, create *PatternRecord) (*PatternRecord, error) {
	return s.driver.CreatePattern(ctx, create)
}

// GetPatternBySource returns nil when the interaction has no pattern yet.
func (s *Store) GetPatternBySource(ctx context.Context, sourceInteractionID string) (*PatternRecord, error) {
	list, err := s.driver.ListPatterns(ctx, &FindPattern{SourceInteractionID: &sourceInteractionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListPatterns(ctx context.Context, find *FindPattern) ([]*PatternRecord, error) {
	return s.driver.ListPatterns(ctx, find)
}

func (s *Store) ListPatternIDs(ctx context.Context) ([]string, error) {
	return s.driver.ListPatternIDs(ctx)
}

func (s *Store) DeletePatterns(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.driver.DeletePatterns(ctx, ids)
}
