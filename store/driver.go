package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Migrate(ctx context.Context) error
	Close() error

	// InteractionRecord model related methods.
	CreateInteraction(ctx context.Context, create *InteractionRecord) (*InteractionRecord, error)
	ListInteractions(ctx context.Context, find *FindInteraction) ([]*InteractionRecord, error)
	UpdateInteractionFeedback(ctx context.Context, update *UpdateInteractionFeedback) error
	CountInteractions(ctx context.Context) (int64, error)
	ListInteractionIDs(ctx context.Context) ([]string, error)
	DeleteInteractions(ctx context.Context, ids []string) (int64, error)

	// PatternRecord model related methods.
	CreatePattern(ctx context.Context, create *PatternRecord) (*PatternRecord, error)
	ListPatterns(ctx context.Context, find *FindPattern) ([]*PatternRecord, error)
	ListPatternIDs(ctx context.Context) ([]string, error)
	DeletePatterns(ctx context.Context, ids []string) (int64, error)
}
