package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

// CreatePattern inserts a pattern. A second pattern for the same source
// interaction is ignored and the existing row is returned.
func (d *DB) CreatePattern(ctx context.Context, create *store.PatternRecord) (*store.PatternRecord, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	stmt := `INSERT INTO pattern_entry (id, source_interaction_id, description, template, value_score, created_ts)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` +
		placeholder(5) + `, ` + placeholder(6) + `)
		ON CONFLICT (source_interaction_id) DO NOTHING`

	result, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.SourceInteractionID, create.Description, create.Template, create.ValueScore, create.CreatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern: %w", err)
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
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.SourceInteractionID != nil {
		where, args = append(where, "source_interaction_id = "+placeholder(len(args)+1)), append(args, *find.SourceInteractionID)
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
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	list := make([]*store.PatternRecord, 0)
	for rows.Next() {
		var p store.PatternRecord
		if err := rows.Scan(&p.ID, &p.SourceInteractionID, &p.Description, &p.Template, &p.ValueScore, &p.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		list = append(list, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return list, nil
}

func (d *DB) ListPatternIDs(ctx context.Context) ([]string, error) {
	return d.listIDs(ctx, `SELECT id FROM pattern_entry`)
}

func (d *DB) DeletePatterns(ctx context.Context, ids []string) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM pattern_entry WHERE id = ANY(`+placeholder(1)+`)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete patterns: %w", err)
	}
	return result.RowsAffected()
}
