package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

const interactionColumns = `id, query_text, response_text, route, context_ids, backend_model_id,
	token_cost, outcome, user_feedback, complexity, reusability, novelty, impact,
	value_score, created_ts, updated_ts`

func (d *DB) CreateInteraction(ctx context.Context, create *store.InteractionRecord) (*store.InteractionRecord, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	create.UpdatedTs = create.CreatedTs

	ids := create.ContextIDs
	if ids == nil {
		ids = []string{}
	}
	contextIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal context ids")
	}

	stmt := `INSERT INTO interaction_record (` + interactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.QueryText, create.ResponseText, string(create.Route), string(contextIDs),
		create.BackendModelID, create.TokenCost, string(create.Outcome), nullFeedback(create.UserFeedback),
		create.Factors.Complexity, create.Factors.Reusability, create.Factors.Novelty, create.Factors.Impact,
		create.ValueScore, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create interaction record")
	}
	return create, nil
}

func (d *DB) ListInteractions(ctx context.Context, find *store.FindInteraction) ([]*store.InteractionRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.CreatedBefore != nil {
		where, args = append(where, "created_ts < ?"), append(args, *find.CreatedBefore)
	}
	if find.MaxValueScore != nil {
		where, args = append(where, "value_score < ?"), append(args, *find.MaxValueScore)
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
		return nil, errors.Wrap(err, "failed to list interaction records")
	}
	defer rows.Close()

	list := make([]*store.InteractionRecord, 0)
	for rows.Next() {
		var (
			record     store.InteractionRecord
			route      string
			outcome    string
			contextIDs string
			feedback   sql.NullInt32
		)
		if err := rows.Scan(
			&record.ID, &record.QueryText, &record.ResponseText, &route, &contextIDs, &record.BackendModelID,
			&record.TokenCost, &outcome, &feedback,
			&record.Factors.Complexity, &record.Factors.Reusability, &record.Factors.Novelty, &record.Factors.Impact,
			&record.ValueScore, &record.CreatedTs, &record.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan interaction record")
		}
		record.Route = store.Route(route)
		record.Outcome = store.Outcome(outcome)
		if feedback.Valid {
			v := feedback.Int32
			record.UserFeedback = &v
		}
		if contextIDs != "" {
			if err := json.Unmarshal([]byte(contextIDs), &record.ContextIDs); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal context ids")
			}
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate interaction records")
	}
	return list, nil
}

func (d *DB) UpdateInteractionFeedback(ctx context.Context, update *store.UpdateInteractionFeedback) error {
	if update.UpdatedTs == 0 {
		update.UpdatedTs = time.Now().Unix()
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE interaction_record SET outcome = ?, user_feedback = ?, value_score = ?, updated_ts = ? WHERE id = ?`,
		string(update.Outcome), nullFeedback(update.UserFeedback), update.ValueScore, update.UpdatedTs, update.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update interaction feedback")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "interaction record %s", update.ID)
	}
	return nil
}

func (d *DB) CountInteractions(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interaction_record`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count interaction records")
	}
	return count, nil
}

func (d *DB) ListInteractionIDs(ctx context.Context) ([]string, error) {
	return d.listIDs(ctx, `SELECT id FROM interaction_record`)
}

func (d *DB) DeleteInteractions(ctx context.Context, ids []string) (int64, error) {
	return d.deleteByIDs(ctx, "interaction_record", ids)
}

func nullFeedback(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}
