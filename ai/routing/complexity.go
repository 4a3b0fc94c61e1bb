package routing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Named complexity levels accepted as hints.
const (
	HintLow    = 0.2
	HintMedium = 0.5
	HintHigh   = 0.8
)

// Pre-compiled patterns for the complexity heuristic.
var (
	numberedStepRegex = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)
	wordRegex         = regexp.MustCompile(`\S+`)
)

// multiStepKeywords signal a query that needs planning rather than lookup.
var multiStepKeywords = []string{
	"and then", "after that", "step by step", "steps", "first,", "finally",
	"migrate", "refactor", "architecture", "design a", "compare", "debug",
	"troubleshoot", "multiple", "across", "end-to-end", "pipeline",
}

// Hint is a caller-supplied complexity override. The zero value means absent.
type Hint struct {
	Value float64
	Set   bool
}

// ParseHint accepts "", "low", "medium", "high" or a number in [0,1].
func ParseHint(raw string) (Hint, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return Hint{}, nil
	case "low":
		return Hint{Value: HintLow, Set: true}, nil
	case "medium":
		return Hint{Value: HintMedium, Set: true}, nil
	case "high":
		return Hint{Value: HintHigh, Set: true}, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Hint{}, fmt.Errorf("invalid complexity hint %q", raw)
	}
	if v < 0 || v > 1 {
		return Hint{}, fmt.Errorf("complexity hint %v out of [0,1]", v)
	}
	return Hint{Value: v, Set: true}, nil
}

// UnmarshalJSON accepts a JSON number, a level name, or null.
func (h *Hint) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*h = Hint{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	parsed, err := ParseHint(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Resolve returns the override when set, otherwise the estimate for query.
func (h Hint) Resolve(query string) float64 {
	if h.Set {
		return h.Value
	}
	return EstimateComplexity(query)
}

// EstimateComplexity is a cheap heuristic in [0,1] over word count,
// multi-step keywords, numbered steps and repeated questions.
func EstimateComplexity(query string) float64 {
	lower := strings.ToLower(query)

	words := len(wordRegex.FindAllStringIndex(lower, -1))
	score := 0.4 * min(float64(words)/60, 1)

	keywordHits := 0
	for _, kw := range multiStepKeywords {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	score += min(0.15*float64(keywordHits), 0.45)

	if len(numberedStepRegex.FindAllStringIndex(query, -1)) >= 2 {
		score += 0.2
	}
	if strings.Count(query, "?") >= 2 {
		score += 0.15
	}

	return min(max(score, 0), 1)
}
