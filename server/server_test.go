package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	apiv1 "github.com/MasterofNull/hybrid-coordinator/server/router/api/v1"
)

func TestServerLifecycle(t *testing.T) {
	p := &profile.Profile{Mode: "dev", Addr: "127.0.0.1", Port: 0}
	svc := apiv1.NewAPIV1Service(p, nil, nil, nil)

	s, err := NewServer(context.Background(), p, svc)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServerWithoutMetrics(t *testing.T) {
	p := &profile.Profile{Mode: "prod"}
	s, err := NewServer(context.Background(), p, apiv1.NewAPIV1Service(p, nil, nil, nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerRequiresService(t *testing.T) {
	_, err := NewServer(context.Background(), &profile.Profile{}, nil)
	assert.Error(t, err)
}
