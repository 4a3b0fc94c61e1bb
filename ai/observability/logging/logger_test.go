package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, "prod", slog.LevelInfo))

	ctx := ToContext(context.Background(), base)
	ctx = With(ctx, "interaction_id", "abc")
	FromContext(ctx).Info("query answered", "route", "local")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc", line["interaction_id"])
	assert.Equal(t, "local", line["route"])
	assert.Equal(t, "query answered", line["msg"])
}

func TestNewHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, "dev", slog.LevelWarn))
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}
