package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MasterofNull/hybrid-coordinator/ai/coordinator"
	"github.com/MasterofNull/hybrid-coordinator/ai/recorder"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// backendErrorResponse is the body of a 503.
type backendErrorResponse struct {
	Error     string   `json:"error"`
	Reason    string   `json:"reason"`
	Attempted []string `json:"attempted"`
}

// Query answers one query.
func (s *APIV1Service) Query(c echo.Context) error {
	var req coordinator.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}

	resp, err := s.Coordinator.Query(c.Request().Context(), req)
	if err != nil {
		var reqErr *coordinator.RequestError
		switch {
		case errors.Is(err, coordinator.ErrEmptyQuery):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.As(err, &reqErr):
			return c.JSON(http.StatusServiceUnavailable, backendErrorResponse{
				Error:     reqErr.Error(),
				Reason:    reqErr.Reason,
				Attempted: reqErr.Attempted(),
			})
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "query failed").SetInternal(err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Feedback records the outcome and rating of an earlier answer.
func (s *APIV1Service) Feedback(c echo.Context) error {
	id := c.Param("id")
	var fb recorder.Feedback
	if err := c.Bind(&fb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}

	if err := s.Coordinator.Feedback(c.Request().Context(), id, fb); err != nil {
		switch {
		case errors.Is(err, recorder.ErrInvalidFeedback):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "interaction not found")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to record feedback").SetInternal(err)
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{"interaction_id": id})
}
