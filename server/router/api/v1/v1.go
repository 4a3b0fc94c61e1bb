package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MasterofNull/hybrid-coordinator/ai/coordinator"
	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/ai/recorder"
	"github.com/MasterofNull/hybrid-coordinator/internal/profile"
	"github.com/MasterofNull/hybrid-coordinator/server/auth"
)

// Coordinator answers queries and accepts feedback.
type Coordinator interface {
	Query(ctx context.Context, req coordinator.Request) (*coordinator.Response, error)
	Feedback(ctx context.Context, id string, fb recorder.Feedback) error
	Stats() coordinator.Stats
}

// Ingester writes knowledge documents into a context collection.
type Ingester interface {
	Ingest(ctx context.Context, collection string, docs []knowledge.Document) (int, error)
}

type APIV1Service struct {
	Profile     *profile.Profile
	Coordinator Coordinator
	Ingester    Ingester
	// Metrics is optional; /metrics is only mounted when set.
	Metrics       *metrics.PrometheusExporter
	Authenticator *auth.Authenticator
}

func NewAPIV1Service(profile *profile.Profile, coord Coordinator, ingester Ingester, m *metrics.PrometheusExporter) *APIV1Service {
	return &APIV1Service{
		Profile:       profile,
		Coordinator:   coord,
		Ingester:      ingester,
		Metrics:       m,
		Authenticator: auth.NewAuthenticator(profile.JWTSecret),
	}
}

// RegisterRoutes mounts the API under /v1 and the query and feedback
// endpoints at the root as well. Health and metrics stay unauthenticated.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.Healthz)
	if s.Metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	authMiddleware := s.Authenticator.Middleware()
	corsHandler := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	})

	apiGroup := echoServer.Group("/v1", corsHandler, authMiddleware)
	apiGroup.POST("/query", s.Query)
	apiGroup.POST("/interactions/:id/feedback", s.Feedback)
	apiGroup.POST("/collections/:name/documents", s.IngestDocuments)
	apiGroup.GET("/stats", s.GetStats)

	// Root aliases carry the middleware per route so unknown paths still 404.
	echoServer.POST("/query", s.Query, corsHandler, authMiddleware)
	echoServer.POST("/interactions/:id/feedback", s.Feedback, corsHandler, authMiddleware)
	echoServer.GET("/stats", s.GetStats, corsHandler, authMiddleware)
}
