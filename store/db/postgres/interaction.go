package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

const interactionColumns = `id, query_text, response_text, route, context_ids, backend_model_id,
	token_cost, outcome, user_feedback, complexity, reusability, novelty, impact,
	value_score, created_ts, updated_ts`

func (d *DB) CreateInteraction(ctx context.Context, create *store.InteractionRecord) (*store.InteractionRecord, error) {
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	create.UpdatedTs = create.CreatedTs

	contextIDs, err := json.Marshal(nonNil(create.ContextIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context ids: %w", err)
	}

	values := make([]string, 16)
	for i := range values {
		values[i] = placeholder(i + 1)
	}
	stmt := `INSERT INTO interaction_record (` + interactionColumns + `)
		VALUES (` + strings.Join(values, ", ") + `)`

	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.QueryText, create.ResponseText, string(create.Route), string(contextIDs),
		create.BackendModelID, create.TokenCost, string(create.Outcome), nullFeedback(create.UserFeedback),
		create.Factors.Complexity, create.Factors.Reusability, create.Factors.Novelty, create.Factors.Impact,
		create.ValueScore, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create interaction record: %w", err)
	}
	return create, nil
}

func (d *DB) ListInteractions(ctx context.Context, find *store.FindInteraction) ([]*store.InteractionRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.CreatedBefore != nil {
		where, args = append(where, "created_ts < "+placeholder(len(args)+1)), append(args, *find.CreatedBefore)
	}
	if find.MaxValueScore != nil {
		where, args = append(where, "value_score < "+placeholder(len(args)+1)), append(args, *find.MaxValueScore)
	}

	order := "created_ts DESC"
	if find.OrderByValue {
		order = "value_score ASC, created_ts ASC"
	}

	query := `SELECT ` + interactionColumns + ` FROM interaction_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + order
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interaction records: %w", err)
	}
	defer rows.Close()

	list := make([]*store.InteractionRecord, 0)
	for rows.Next() {
		record, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction record: %w", err)
		}
		list = append(list, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction records: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateInteractionFeedback(ctx context.Context, update *store.UpdateInteractionFeedback) error {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().Unix()
	}
	stmt := `UPDATE interaction_record SET outcome = ` + placeholder(1) + `, user_feedback = ` + placeholder(2) +
		`, value_score = ` + placeholder(3) + `, updated_ts = ` + placeholder(4) + ` WHERE id = ` + placeholder(5)

	result, err := d.db.ExecContext(ctx, stmt,
		string(update.Outcome), nullFeedback(update.UserFeedback), update.ValueScore, update.UpdatedTs, update.ID)
	if err != nil {
		return fmt.Errorf("failed to update interaction feedback: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interaction record %s: %w", update.ID, store.ErrNotFound)
	}
	return nil
}

func (d *DB) CountInteractions(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interaction_record`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count interaction records: %w", err)
	}
	return count, nil
}

func (d *DB) ListInteractionIDs(ctx context.Context) ([]string, error) {
	return d.listIDs(ctx, `SELECT id FROM interaction_record`)
}

func (d *DB) DeleteInteractions(ctx context.Context, ids []string) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM interaction_record WHERE id = ANY(`+placeholder(1)+`)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete interaction records: %w", err)
	}
	return result.RowsAffected()
}

func (d *DB) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row scanner) (*store.InteractionRecord, error) {
	var (
		record     store.InteractionRecord
		route      string
		outcome    string
		contextIDs []byte
		feedback   sql.NullInt32
	)
	if err := row.Scan(
		&record.ID, &record.QueryText, &record.ResponseText, &route, &contextIDs, &record.BackendModelID,
		&record.TokenCost, &outcome, &feedback,
		&record.Factors.Complexity, &record.Factors.Reusability, &record.Factors.Novelty, &record.Factors.Impact,
		&record.ValueScore, &record.CreatedTs, &record.UpdatedTs,
	); err != nil {
		return nil, err
	}
	record.Route = store.Route(route)
	record.Outcome = store.Outcome(outcome)
	if feedback.Valid {
		v := feedback.Int32
		record.UserFeedback = &v
	}
	if len(contextIDs) > 0 {
		if err := json.Unmarshal(contextIDs, &record.ContextIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context ids: %w", err)
		}
	}
	return &record, nil
}

func nullFeedback(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
