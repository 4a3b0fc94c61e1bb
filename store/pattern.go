package store

// PatternRecord is the durable half of a pattern entry. Its embedding lives
// in the vector store under the same id.
type PatternRecord struct {
	ID                  string  `json:"id"`
	SourceInteractionID string  `json:"source_interaction_id"`
	Description         string  `json:"description"`
	Template            string  `json:"reusable_template"`
	ValueScore          float64 `json:"value_score"`
	CreatedTs           int64   `json:"created_ts"`
}

// FindPattern specifies the conditions for listing patterns.
type FindPattern struct {
	ID                  *string
	SourceInteractionID *string
	Limit               int
}
