package ingestion

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	httperr "github.com/aevon-lab/tally/internal/core/errors"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgEnqueueFailed  = "Failed to enqueue dirty ids"
	msgUnknownEntity  = "Unknown entity type"
)

// ingestionError is a rejected request: status plus the ErrorResponse body.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// EnqueueHandler handles POST /v1/dirty.
func (s *Service) EnqueueHandler(c *gin.Context) {
	req, payloadSize, err := s.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateRequest(req); err != nil {
		writeError(c, err)
		return
	}

	ids := partition.SortUnique(req.IDs)

	slog.Info("[Ingestion] Received dirty ids",
		"entity_type", req.EntityType,
		"ids", len(ids),
		"payload_size", payloadSize)

	if err := s.enqueue(c.Request.Context(), req.EntityType, ids); err != nil {
		writeError(c, err)
		return
	}

	// Queued. The next run of each processor of this entity type picks them up.
	c.JSON(http.StatusAccepted, v1.DirtyResponse{
		Status:     "accepted",
		EntityType: req.EntityType,
		Enqueued:   len(ids),
	})
}

// parseRequest binds the body into a DirtyRequest and returns its size in bytes.
func (s *Service) parseRequest(c *gin.Context) (*v1.DirtyRequest, int, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1)

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req v1.DirtyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return &req, len(bodyBytes), nil
}

// validateRequest runs envelope validation, then checks a processor consumes the entity type.
func (s *Service) validateRequest(req *v1.DirtyRequest) *ingestionError {
	if err := req.Validate(); err != nil {
		slog.Warn("[Ingestion] Request validation failed", "error", err, "entity_type", req.EntityType)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		}
	}

	if !s.entityTypes[req.EntityType] {
		known := make([]string, 0, len(s.entityTypes))
		for t := range s.entityTypes {
			known = append(known, t)
		}
		sort.Strings(known)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpUnknownEntityError,
			message:    msgUnknownEntity,
			details: map[string]interface{}{
				"entity_type": req.EntityType,
				"known":       known,
			},
		}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, entityType string, ids []int64) *ingestionError {
	if err := s.queue.Enqueue(ctx, entityType, ids); err != nil {
		slog.Error("[Ingestion] Failed to enqueue dirty ids", "error", err, "entity_type", entityType)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgEnqueueFailed,
		}
	}
	return nil
}

func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
