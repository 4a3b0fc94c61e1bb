package gc

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

// KeepRule is a CEL expression over an interaction record. Records it
// matches are exempt from age-based expiry, e.g.
//
//	outcome == "success" && has_feedback && user_feedback > 0
type KeepRule struct {
	expr string
	prg  cel.Program
}

var keepRuleEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("route", cel.StringType),
		cel.Variable("outcome", cel.StringType),
		cel.Variable("value_score", cel.DoubleType),
		cel.Variable("token_cost", cel.IntType),
		cel.Variable("age_days", cel.DoubleType),
		cel.Variable("has_feedback", cel.BoolType),
		cel.Variable("user_feedback", cel.IntType),
		cel.Variable("backend_model_id", cel.StringType),
		cel.Variable("query_text", cel.StringType),
		cel.Variable("context_ids", cel.ListType(cel.StringType)),
	)
	if err != nil {
		panic(fmt.Sprintf("keep rule environment: %v", err))
	}
	return env
}()

// CompileKeepRule compiles expr. An empty expression yields a nil rule that
// keeps nothing.
func CompileKeepRule(expr string) (*KeepRule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	ast, issues := keepRuleEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid keep rule %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("keep rule %q must evaluate to a bool, got %s", expr, ast.OutputType())
	}
	prg, err := keepRuleEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("keep rule %q: %w", expr, err)
	}
	return &KeepRule{expr: expr, prg: prg}, nil
}

// Keep reports whether rec is exempt. A nil rule keeps nothing.
func (r *KeepRule) Keep(rec *store.InteractionRecord, now time.Time) (bool, error) {
	if r == nil {
		return false, nil
	}
	var feedback int64
	if rec.UserFeedback != nil {
		feedback = int64(*rec.UserFeedback)
	}
	contextIDs := rec.ContextIDs
	if contextIDs == nil {
		contextIDs = []string{}
	}
	out, _, err := r.prg.Eval(map[string]any{
		"route":            string(rec.Route),
		"outcome":          string(rec.Outcome),
		"value_score":      rec.ValueScore,
		"token_cost":       rec.TokenCost,
		"age_days":         now.Sub(time.Unix(rec.CreatedTs, 0)).Hours() / 24,
		"has_feedback":     rec.UserFeedback != nil,
		"user_feedback":    feedback,
		"backend_model_id": rec.BackendModelID,
		"query_text":       rec.QueryText,
		"context_ids":      contextIDs,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate keep rule %q: %w", r.expr, err)
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("keep rule %q returned %T", r.expr, out.Value())
	}
	return keep, nil
}

// String returns the source expression.
func (r *KeepRule) String() string {
	if r == nil {
		return ""
	}
	return r.expr
}
