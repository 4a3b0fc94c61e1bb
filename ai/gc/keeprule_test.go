package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/store"
)

func TestCompileKeepRule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantNil bool
		wantErr bool
	}{
		{name: "empty keeps nothing", expr: "  ", wantNil: true},
		{name: "valid", expr: `outcome == "success" && has_feedback && user_feedback > 0`},
		{name: "syntax error", expr: `value_score >`, wantErr: true},
		{name: "unknown variable", expr: `owner == "me"`, wantErr: true},
		{name: "not a bool", expr: `value_score * 2.0`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := CompileKeepRule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, rule == nil)
		})
	}
}

func TestKeepRule_Keep(t *testing.T) {
	now := time.Unix(100*86400, 0)
	positive := int32(1)
	rec := &store.InteractionRecord{
		Route:          store.RouteRemote,
		Outcome:        store.OutcomeSuccess,
		UserFeedback:   &positive,
		ValueScore:     0.4,
		TokenCost:      900,
		BackendModelID: "gpt-4o-mini",
		QueryText:      "rotate the nginx logs",
		ContextIDs:     []string{"doc-nginx"},
		CreatedTs:      now.Add(-45 * 24 * time.Hour).Unix(),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{expr: `outcome == "success" && has_feedback && user_feedback > 0`, want: true},
		{expr: `age_days > 60.0`, want: false},
		{expr: `age_days > 44.0 && token_cost >= 500`, want: true},
		{expr: `"doc-nginx" in context_ids`, want: true},
		{expr: `query_text.contains("nginx") && route == "local"`, want: false},
		{expr: `backend_model_id.startsWith("gpt")`, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			rule, err := CompileKeepRule(tt.expr)
			require.NoError(t, err)
			got, err := rule.Keep(rec, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeepRule_NilKeepsNothing(t *testing.T) {
	var rule *KeepRule
	keep, err := rule.Keep(&store.InteractionRecord{}, time.Now())
	require.NoError(t, err)
	assert.False(t, keep)
}
