// Package pgvector implements the vector store on PostgreSQL with the vector extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_entry (
  collection TEXT NOT NULL,
  id TEXT NOT NULL,
  embedding vector NOT NULL,
  payload JSONB NOT NULL DEFAULT '{}',
  created_ts BIGINT NOT NULL,
  PRIMARY KEY (collection, id)
);
`

// Store keeps every collection in one table keyed by (collection, id).
type Store struct {
	db *sql.DB
}

var _ vector.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the extension and table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate vector_entry")
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]any) error {
	if len(vec) == 0 {
		return errors.Errorf("upsert %s/%s: empty vector", collection, id)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}
	stmt := `
		INSERT INTO vector_entry (collection, id, embedding, payload, created_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, stmt, collection, id, pgv.NewVector(vec), string(encoded), time.Now().Unix()); err != nil {
		return errors.Wrapf(err, "failed to upsert vector %s/%s", collection, id)
	}
	return nil
}

// Search orders by cosine distance; score is 1 - distance.
func (s *Store) Search(ctx context.Context, collection string, vec []float32, topK int, minScore float32) ([]vector.Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := `
		SELECT id, payload, 1 - (embedding <=> $2) AS score
		FROM vector_entry
		WHERE collection = $1 AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $2
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, collection, pgv.NewVector(vec), len(vec), topK)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s", collection)
	}
	defer rows.Close()

	results := []vector.Result{}
	for rows.Next() {
		var (
			r   vector.Result
			raw []byte
		)
		if err := rows.Scan(&r.ID, &raw, &r.Score); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		if r.Score < minScore {
			continue
		}
		r.Payload = decodePayload(raw)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := `DELETE FROM vector_entry WHERE collection = $1 AND id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, stmt, collection, pq.Array(ids)); err != nil {
		return errors.Wrapf(err, "failed to delete from %s", collection)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string) ([]vector.Record, error) {
	query := `SELECT id, embedding, payload FROM vector_entry WHERE collection = $1 ORDER BY created_ts ASC`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", collection)
	}
	defer rows.Close()

	records := []vector.Record{}
	for rows.Next() {
		var (
			r   vector.Record
			vec pgv.Vector
			raw []byte
		)
		if err := rows.Scan(&r.ID, &vec, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector entry")
		}
		r.Vector = vec.Slice()
		r.Payload = decodePayload(raw)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func decodePayload(raw []byte) map[string]any {
	payload := map[string]any{}
	if len(raw) == 0 {
		return payload
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
