package projection

import (
	"errors"
	"net/http"

	"github.com/aevon-lab/tally/internal/aggregation"
	httperr "github.com/aevon-lab/tally/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/metrics/:processor/:id", s.HandleQueryMetrics)
}

// HandleQueryMetrics handles GET /v1/metrics/:processor/:id
// Query parameters: timeframe
func (s *Service) HandleQueryMetrics(c *gin.Context) {
	var req MetricsQueryRequest

	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.QueryMetrics(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, aggregation.ErrUnknownProcessor):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpUnknownProcessorError,
				Message:   "Unknown processor",
				Details:   req.Processor,
			})
		case errors.Is(err, ErrInvalidQuery):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidRequestError,
				Message:   "Invalid metrics query",
				Details:   err.Error(),
			})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "No metrics for entity",
				Details:   err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to query metrics",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}
