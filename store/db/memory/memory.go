// Package memory is an ephemeral store driver. Nothing survives a restart;
// it serves throwaway runs and tests.
package memory

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

type DB struct {
	mu           sync.RWMutex
	interactions map[string]*store.InteractionRecord
	patterns     map[string]*store.PatternRecord
}

// NewDB creates an empty in-memory driver.
func NewDB() store.Driver {
	return &DB{
		interactions: make(map[string]*store.InteractionRecord),
		patterns:     make(map[string]*store.PatternRecord),
	}
}

// GetDB returns nil: there is no SQL connection behind this driver.
func (*DB) GetDB() *sql.DB { return nil }

func (*DB) Migrate(context.Context) error { return nil }

func (*DB) Close() error { return nil }

func (d *DB) CreateInteraction(ctx context.Context, create *store.InteractionRecord) (*store.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	create.UpdatedTs = create.CreatedTs

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.interactions[create.ID]; ok {
		return nil, errors.Errorf("interaction record %s already exists", create.ID)
	}
	d.interactions[create.ID] = cloneInteraction(create)
	return create, nil
}

func (d *DB) ListInteractions(ctx context.Context, find *store.FindInteraction) ([]*store.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	list := make([]*store.InteractionRecord, 0)
	for _, r := range d.interactions {
		if find.ID != nil && r.ID != *find.ID {
			continue
		}
		if find.CreatedBefore != nil && r.CreatedTs >= *find.CreatedBefore {
			continue
		}
		if find.MaxValueScore != nil && r.ValueScore >= *find.MaxValueScore {
			continue
		}
		list = append(list, cloneInteraction(r))
	}
	d.mu.RUnlock()

	if find.OrderByValue {
		sort.Slice(list, func(i, j int) bool {
			if list[i].ValueScore != list[j].ValueScore {
				return list[i].ValueScore < list[j].ValueScore
			}
			if list[i].CreatedTs != list[j].CreatedTs {
				return list[i].CreatedTs < list[j].CreatedTs
			}
			return list[i].ID < list[j].ID
		})
	} else {
		sort.Slice(list, func(i, j int) bool {
			if list[i].CreatedTs != list[j].CreatedTs {
				return list[i].CreatedTs > list[j].CreatedTs
			}
			return list[i].ID < list[j].ID
		})
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *DB) UpdateInteractionFeedback(ctx context.Context, update *store.UpdateInteractionFeedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().Unix()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.interactions[update.ID]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "interaction record %s", update.ID)
	}
	r.Outcome = update.Outcome
	r.UserFeedback = cloneFeedback(update.UserFeedback)
	r.ValueScore = update.ValueScore
	r.UpdatedTs = update.UpdatedTs
	return nil
}

func (d *DB) CountInteractions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.interactions)), nil
}

func (d *DB) ListInteractionIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.interactions))
	for id := range d.interactions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (d *DB) DeleteInteractions(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := d.interactions[id]; ok {
			delete(d.interactions, id)
			n++
		}
	}
	return n, nil
}

// CreatePattern keeps at most one pattern per source interaction and
// returns the existing one on a repeat.
func (d *DB) CreatePattern(ctx context.Context, create *store.PatternRecord) (*store.PatternRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.patterns {
		if p.SourceInteractionID == create.SourceInteractionID {
			existing := *p
			return &existing, nil
		}
	}
	if _, ok := d.patterns[create.ID]; ok {
		return nil, errors.Errorf("pattern %s already exists", create.ID)
	}
	p := *create
	d.patterns[create.ID] = &p
	return create, nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.PatternRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	list := make([]*store.PatternRecord, 0)
	for _, p := range d.patterns {
		if find.ID != nil && p.ID != *find.ID {
			continue
		}
		if find.SourceInteractionID != nil && p.SourceInteractionID != *find.SourceInteractionID {
			continue
		}
		c := *p
		list = append(list, &c)
	}
	d.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *DB) ListPatternIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.patterns))
	for id := range d.patterns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (d *DB) DeletePatterns(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := d.patterns[id]; ok {
			delete(d.patterns, id)
			n++
		}
	}
	return n, nil
}

func cloneInteraction(r *store.InteractionRecord) *store.InteractionRecord {
	c := *r
	c.ContextIDs = slices.Clone(r.ContextIDs)
	c.UserFeedback = cloneFeedback(r.UserFeedback)
	return &c
}

func cloneFeedback(v *int32) *int32 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}
