package cache

import "sync/atomic"

// Counters is the running cache telemetry. It is advisory: Rebuild recomputes
// saved tokens from entry hit history if the process lost it.
type Counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	unavailable atomic.Int64
	tokensSpent atomic.Int64
	tokensSaved atomic.Int64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Unavailable  int64   `json:"unavailable"`
	TokensSpent  int64   `json:"tokens_spent"`
	TokensSaved  int64   `json:"tokens_saved"`
	NetTokenCost int64   `json:"net_token_cost"`
	HitRate      float64 `json:"hit_rate"`
}

func (c *Counters) RecordHit(savedTokens int64) {
	c.hits.Add(1)
	c.tokensSaved.Add(savedTokens)
}

func (c *Counters) RecordMiss() {
	c.misses.Add(1)
}

// RecordUnavailable counts a lookup that degraded to a miss.
func (c *Counters) RecordUnavailable() {
	c.unavailable.Add(1)
}

// AddSpent adds tokens paid to a backend.
func (c *Counters) AddSpent(tokens int64) {
	c.tokensSpent.Add(tokens)
}

// NetTokenCost is tokens spent minus tokens saved by hits.
func (c *Counters) NetTokenCost() int64 {
	return c.tokensSpent.Load() - c.tokensSaved.Load()
}

func (c *Counters) Snapshot() CountersSnapshot {
	s := CountersSnapshot{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Unavailable: c.unavailable.Load(),
		TokensSpent: c.tokensSpent.Load(),
		TokensSaved: c.tokensSaved.Load(),
	}
	s.NetTokenCost = s.TokensSpent - s.TokensSaved
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Rebuild recomputes hits and saved tokens from entry history. Merges are
// not hits and add nothing.
func (c *Counters) Rebuild(entries []Entry) {
	var hits, saved int64
	for _, e := range entries {
		hits += e.HitCount
		saved += e.TokensSaved
	}
	c.hits.Store(hits)
	c.tokensSaved.Store(saved)
}

func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.unavailable.Store(0)
	c.tokensSpent.Store(0)
	c.tokensSaved.Store(0)
}
