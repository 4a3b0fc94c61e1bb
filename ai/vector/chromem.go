package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const payloadMetadataKey = "payload"

// ChromemStore is an in-process Store over chromem-go.
type ChromemStore struct {
	db   *chromem.DB
	mu   sync.RWMutex
	cols map[string]*chromem.Collection
	dims map[string]int
	// defaultDims applies to collections restored from disk before their
	// first upsert in this process.
	defaultDims int
}

// ChromemOption configures a ChromemStore.
type ChromemOption func(*ChromemStore)

// WithDimensions sets the embedding dimension assumed for restored collections.
func WithDimensions(n int) ChromemOption {
	return func(s *ChromemStore) { s.defaultDims = n }
}

// NewChromemStore creates a store. A non-empty persistDir keeps collections
// on disk across restarts.
func NewChromemStore(persistDir string, opts ...ChromemOption) (*ChromemStore, error) {
	var db *chromem.DB
	if persistDir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", persistDir, err)
		}
	}
	s := &ChromemStore{
		db:   db,
		cols: make(map[string]*chromem.Collection),
		dims: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// collection returns the named collection, creating it when create is set.
func (s *ChromemStore) collection(name string, create bool) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.cols[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.cols[name]; ok {
		return col, nil
	}
	// Collections restored from disk exist in the db but not yet in our map.
	col = s.db.GetCollection(name, nil)
	if col == nil {
		if !create {
			return nil, nil
		}
		var err error
		// No embedding func: every document carries its own embedding.
		col, err = s.db.CreateCollection(name, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
	}
	s.cols[name] = col
	return col, nil
}

// checkDims pins a collection's dimension on first use.
func (s *ChromemStore) checkDims(collection string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dims[collection]; ok && d != n {
		return fmt.Errorf("%w: collection %s has %d, got %d", ErrDimensionMismatch, collection, d, n)
	}
	s.dims[collection] = n
	return nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	if len(vector) == 0 {
		return fmt.Errorf("upsert %s/%s: empty vector", collection, id)
	}
	if err := s.checkDims(collection, len(vector)); err != nil {
		return err
	}
	col, err := s.collection(collection, true)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	content := PayloadString(payload, PayloadText)
	if content == "" {
		content = id
	}
	// chromem normalizes in place; keep the caller's slice intact.
	embedding := append([]float32(nil), vector...)

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  map[string]string{payloadMetadataKey: string(encoded)},
	}); err != nil {
		return fmt.Errorf("add document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float32) ([]Result, error) {
	col, err := s.collection(collection, false)
	if err != nil || col == nil {
		return nil, err
	}
	s.mu.RLock()
	d, ok := s.dims[collection]
	s.mu.RUnlock()
	if ok && d != len(vector) {
		return nil, fmt.Errorf("%w: collection %s has %d, got %d", ErrDimensionMismatch, collection, d, len(vector))
	}

	// chromem requires nResults <= collection size.
	n := min(topK, col.Count())
	if n <= 0 {
		return nil, nil
	}
	docs, err := col.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		if doc.Similarity < minScore {
			continue
		}
		results = append(results, Result{ID: doc.ID, Score: doc.Similarity, Payload: decodePayload(doc.Metadata)})
	}
	return results, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection, false)
	if err != nil || col == nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// List queries with a unit query vector for every document; chromem has no scan API.
func (s *ChromemStore) List(ctx context.Context, collection string) ([]Record, error) {
	col, err := s.collection(collection, false)
	if err != nil || col == nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	s.mu.RLock()
	d := s.dims[collection]
	s.mu.RUnlock()
	if d == 0 {
		d = s.defaultDims
	}
	if d == 0 {
		return nil, fmt.Errorf("list %s: unknown dimension", collection)
	}

	unit := make([]float32, d)
	unit[0] = 1
	docs, err := col.QueryEmbedding(ctx, unit, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, Record{ID: doc.ID, Vector: doc.Embedding, Payload: decodePayload(doc.Metadata)})
	}
	return records, nil
}

func decodePayload(metadata map[string]string) map[string]any {
	raw, ok := metadata[payloadMetadataKey]
	if !ok {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
