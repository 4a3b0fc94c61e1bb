package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MasterofNull/hybrid-coordinator/internal/version"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`
}

func (s *APIV1Service) Healthz(c echo.Context) error {
	mode := "dev"
	if s.Profile != nil && !s.Profile.IsDev() {
		mode = "prod"
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.String(),
		Mode:    mode,
	})
}

// GetStats returns the coordinator counters.
func (s *APIV1Service) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Coordinator.Stats())
}
