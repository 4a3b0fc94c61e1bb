package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

// CreatePattern inserts a pattern. A second pattern for the same source
// interaction is ignored and the existing row is returned.
func (d *DB) CreatePattern(ctx context.Context, create *store.PatternRecord) (*store.PatternRecord, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	result, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pattern_entry (id, source_interaction_id, description, template, value_score, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		create.ID, create.SourceInteractionID, create.Description, create.Template, create.ValueScore, create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pattern")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		existing, err := d.ListPatterns(ctx, &store.FindPattern{SourceInteractionID: &create.SourceInteractionID, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing[0], nil
		}
	}
	return create, nil
}

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.PatternRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.SourceInteractionID != nil {
		where, args = append(where, "source_interaction_id = ?"), append(args, *find.SourceInteractionID)
	}

	query := `SELECT id, source_interaction_id, description, template, value_score, created_ts
		FROM pattern_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	list := make([]*store.PatternRecord, 0)
	for rows.Next() {
		var p store.PatternRecord
		if err := rows.Scan(&p.ID, &p.SourceInteractionID, &p.Description, &p.Template, &p.ValueScore, &p.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan pattern")
		}
		list = append(list, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate patterns")
	}
	return list, nil
}

func (d *DB) ListPatternIDs(ctx context.Context) ([]string, error) {
	return d.listIDs(ctx, `SELECT id FROM pattern_entry`)
}

func (d *DB) DeletePatterns(ctx context.Context, ids []string) (int64, error) {
	return d.deleteByIDs(ctx, "pattern_entry", ids)
}
