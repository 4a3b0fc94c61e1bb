// Package routing decides, per query, whether the local or remote backend answers.
package routing

import (
	aicontext "github.com/MasterofNull/hybrid-coordinator/ai/context"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// Decision is the per-request routing outcome. It is never persisted; only
// the route reaches the interaction record.
type Decision struct {
	FingerprintKey string      `json:"fingerprint_key"`
	RelevanceScore float64     `json:"relevance_score"`
	Complexity     float64     `json:"complexity"`
	Route          store.Route `json:"route"`
}

// Decide picks local when the context is relevant enough and the query is
// simple enough, remote otherwise. It is pure and never blocks.
func Decide(fingerprintKey, query string, bundle *aicontext.Bundle, hint Hint, t *tunables.Tunables) Decision {
	d := Decision{
		FingerprintKey: fingerprintKey,
		Complexity:     hint.Resolve(query),
		Route:          store.RouteRemote,
	}
	if bundle != nil {
		d.RelevanceScore = bundle.RelevanceScore
	}
	if d.RelevanceScore >= t.LocalConfidenceThreshold && d.Complexity < t.SimpleComplexityCutoff {
		d.Route = store.RouteLocal
	}
	return d
}
