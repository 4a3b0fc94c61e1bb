package scoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/MasterofNull/hybrid-coordinator/ai/internal/strutil"
	"github.com/MasterofNull/hybrid-coordinator/ai/vector"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// genericPhrases raise reusability: they read like questions others will ask.
var genericPhrases = []string{
	"how do i", "how to", "configure", "enable", "set up", "best way", "what is",
}

var markdown = goldmark.New()

// ComplexityFactor grows with answer length and the number of structural
// steps (list items, code blocks, headings).
func ComplexityFactor(response string) float64 {
	src := []byte(response)
	doc := markdown.Parser().Parse(text.NewReader(src))

	steps := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindListItem, ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHeading:
			steps++
		}
		return ast.WalkContinue, nil
	})

	length := float64(len(strings.TrimSpace(response)))
	return 0.5*min(length/2000, 1) + 0.5*min(float64(steps)/8, 1)
}

// ReusabilityFactor starts at 0.5, rises per generic phrase and falls per
// query-specific literal.
func ReusabilityFactor(query string) float64 {
	lower := strings.ToLower(query)

	v := 0.5
	for _, p := range genericPhrases {
		if strings.Contains(lower, p) {
			v += 0.15
		}
	}
	literals := strutil.CountLiterals(query)
	if strings.Contains(lower, "typo") {
		literals++
	}
	v -= 0.15 * float64(literals)
	return clamp(v)
}

// Scorer derives the persisted factors of a new interaction.
type Scorer struct {
	vectors vector.Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewScorer creates a scorer. Novelty is searched in the patterns collection.
func NewScorer(vectors vector.Store, timeout time.Duration) *Scorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Scorer{vectors: vectors, timeout: timeout, logger: slog.Default()}
}

// Novelty is 1 minus the best similarity to an existing pattern: 1.0 when no
// pattern is near, 0.5 when the search fails or there is no embedding.
func (s *Scorer) Novelty(ctx context.Context, embedding []float32) float64 {
	if len(embedding) == 0 {
		return 0.5
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.vectors.Search(ctx, vector.CollectionPatterns, embedding, 1, 0)
	if err != nil {
		s.logger.Debug("novelty search failed", "error", err)
		return 0.5
	}
	if len(results) == 0 {
		return 1.0
	}
	return clamp(1 - float64(results[0].Score))
}

// Factors computes every stored factor. impact nil means DefaultImpact.
func (s *Scorer) Factors(ctx context.Context, query, response string, embedding []float32, impact *float64) store.ScoreFactors {
	f := store.ScoreFactors{
		Complexity:  ComplexityFactor(response),
		Reusability: ReusabilityFactor(query),
		Novelty:     s.Novelty(ctx, embedding),
		Impact:      DefaultImpact,
	}
	if impact != nil {
		f.Impact = clamp(*impact)
	}
	return f
}
