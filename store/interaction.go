package store

// Route is the execution path that produced an answer.
type Route string

const (
	RouteCache  Route = "cache"
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

// Valid reports whether r is a known route.
func (r Route) Valid() bool {
	switch r {
	case RouteCache, RouteLocal, RouteRemote:
		return true
	}
	return false
}

// Outcome is how well an answer solved the caller's problem.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure, OutcomeUnknown:
		return true
	}
	return false
}

// ScoreFactors are the persisted inputs of the value score.
// Confirmation is not stored: it is derived from Outcome and UserFeedback
// so that feedback recorded later changes the score through the same formula.
type ScoreFactors struct {
	Complexity  float64 `json:"complexity"`
	Reusability float64 `json:"reusability"`
	Novelty     float64 `json:"novelty"`
	Impact      float64 `json:"impact"`
}

// InteractionRecord is one completed query.
type InteractionRecord struct {
	ID             string       `json:"id"`
	QueryText      string       `json:"query_text"`
	ResponseText   string       `json:"response_text"`
	Route          Route        `json:"route_taken"`
	ContextIDs     []string     `json:"context_ids"`
	BackendModelID string       `json:"backend_model_id"`
	Outcome        Outcome      `json:"outcome"`
	UserFeedback   *int32       `json:"user_feedback,omitempty"` // nil means no feedback
	Factors        ScoreFactors `json:"factors"`
	TokenCost      int64        `json:"token_cost"`
	ValueScore     float64      `json:"value_score"`
	CreatedTs      int64        `json:"created_ts"`
	UpdatedTs      int64        `json:"updated_ts"`
}

// FindInteraction specifies the conditions for listing interaction records.
type FindInteraction struct {
	ID            *string
	CreatedBefore *int64
	// MaxValueScore is exclusive.
	MaxValueScore *float64
	// OrderByValue sorts by value_score ascending, oldest first among ties.
	// The default order is created_ts descending.
	OrderByValue bool
	Limit        int
}

// UpdateInteractionFeedback records feedback and the recomputed value score.
type UpdateInteractionFeedback struct {
	ID           string
	Outcome      Outcome
	UserFeedback *int32
	ValueScore   float64
	UpdatedTs    int64
}
