// Package control exposes the processor orchestrator over HTTP: on-demand
// runs, standalone day decay, rank refreshes and status.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aevon-lab/tally/internal/aggregation"
	v1 "github.com/aevon-lab/tally/internal/api/v1"
	httperr "github.com/aevon-lab/tally/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// Orchestrator is the subset of *aggregation.Engine the handlers drive.
type Orchestrator interface {
	Update(ctx context.Context, name string) (aggregation.RunResult, error)
	ClearDay(ctx context.Context, name string) (int64, error)
	RefreshRanks(ctx context.Context, name string) error
	Status(ctx context.Context) ([]aggregation.ProcessorStatus, error)
}

type Service struct {
	engine Orchestrator
}

func NewService(engine Orchestrator) *Service {
	if engine == nil {
		panic("control: engine must not be nil")
	}
	return &Service{engine: engine}
}

// RegisterRoutes registers the control routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/processors", s.HandleStatus)
	r.POST("/v1/processors/:name/update", s.HandleUpdate)
	r.POST("/v1/processors/:name/clear-day", s.HandleClearDay)
	r.POST("/v1/processors/:name/refresh-ranks", s.HandleRefreshRanks)
}

// HandleUpdate runs one processor synchronously. The run is bound to the
// request: a client that disconnects cancels it and the cursor stays put.
func (s *Service) HandleUpdate(c *gin.Context) {
	name := c.Param("name")

	res, err := s.engine.Update(c.Request.Context(), name)
	if err != nil {
		writeEngineError(c, name, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleClearDay runs the day decay of one processor on its own.
func (s *Service) HandleClearDay(c *gin.Context) {
	name := c.Param("name")

	n, err := s.engine.ClearDay(c.Request.Context(), name)
	if err != nil {
		writeEngineError(c, name, err, nil)
		return
	}
	c.JSON(http.StatusOK, v1.ClearDayResponse{Processor: name, Rows: n})
}

// HandleRefreshRanks recomputes the rank table of one processor.
func (s *Service) HandleRefreshRanks(c *gin.Context) {
	name := c.Param("name")

	if err := s.engine.RefreshRanks(c.Request.Context(), name); err != nil {
		writeEngineError(c, name, err, nil)
		return
	}
	c.JSON(http.StatusOK, v1.RefreshRanksResponse{Processor: name, Status: "refreshed"})
}

// HandleStatus lists every processor with its phase, cursor and last outcome.
func (s *Service) HandleStatus(c *gin.Context) {
	status, err := s.engine.Status(c.Request.Context())
	if err != nil {
		writeEngineError(c, "", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processors": status})
}

// writeEngineError maps the orchestrator's sentinel errors to HTTP responses.
func writeEngineError(c *gin.Context, name string, err error, details interface{}) {
	switch {
	case errors.Is(err, aggregation.ErrUnknownProcessor):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownProcessorError,
			Message:   "Unknown processor",
			Details:   name,
		})
	case errors.Is(err, aggregation.ErrRunInProgress):
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpRunInProgressError,
			Message:   "Processor is already running",
			Details:   name,
		})
	case errors.Is(err, aggregation.ErrCancelled):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpRunCancelledError,
			Message:   "Run cancelled before commit",
			Details:   details,
		})
	default:
		slog.Error("[Control] Request failed", "processor", name, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   err.Error(),
			Details:   details,
		})
	}
}
