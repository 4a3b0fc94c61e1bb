package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
)

type ingestRequest struct {
	Documents []knowledge.Document `json:"documents"`
}

type ingestResponse struct {
	Collection string `json:"collection"`
	Ingested   int    `json:"ingested"`
}

// IngestDocuments embeds and upserts documents into a context collection.
func (s *APIV1Service) IngestDocuments(c echo.Context) error {
	if s.Ingester == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document ingestion is not configured")
	}
	collection := c.Param("name")
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents are required")
	}

	n, err := s.Ingester.Ingest(c.Request().Context(), collection, req.Documents)
	if err != nil {
		if errors.Is(err, knowledge.ErrInvalidDocument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "failed to ingest documents").SetInternal(err)
	}
	return c.JSON(http.StatusOK, ingestResponse{Collection: collection, Ingested: n})
}
