package pgvector

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUpsert(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vector_entry")).
		WithArgs(vector.CollectionPatterns, "p1", sqlmock.AnyArg(), `{"text":"hello"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), vector.CollectionPatterns, "p1", []float32{1, 0}, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyVector(t *testing.T) {
	s, _ := newMock(t)
	err := s.Upsert(context.Background(), vector.CollectionPatterns, "p1", nil, nil)
	assert.Error(t, err)
}

func TestSearchFiltersByMinScore(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "payload", "score"}).
		AddRow("a", []byte(`{"source_id":"src-a"}`), 0.97).
		AddRow("b", []byte(`{}`), 0.40)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, payload, 1 - (embedding <=> $2) AS score")).
		WithArgs(vector.CollectionCodeContext, sqlmock.AnyArg(), 2, 4).
		WillReturnRows(rows)

	results, err := s.Search(context.Background(), vector.CollectionCodeContext, []float32{0.6, 0.8}, 4, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "src-a", vector.PayloadString(results[0].Payload, vector.PayloadSourceID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM vector_entry WHERE collection = $1 AND id = ANY($2)")).
		WithArgs(vector.CollectionQueryCache, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.Delete(context.Background(), vector.CollectionQueryCache, []string{"x", "y"}))
	require.NoError(t, s.Delete(context.Background(), vector.CollectionQueryCache, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "embedding", "payload"}).
		AddRow("a", "[1,0,0]", []byte(`{"text":"t"}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, embedding, payload FROM vector_entry")).
		WithArgs(vector.CollectionPriorInteractions).
		WillReturnRows(rows)

	records, err := s.List(context.Background(), vector.CollectionPriorInteractions)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []float32{1, 0, 0}, records[0].Vector)
	assert.Equal(t, "t", records[0].Payload["text"])
}
