package ingestion

import (
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/gin-gonic/gin"
)

// Service accepts dirty-entity notifications from producers and queues them
// for the next run of the matching processors.
type Service struct {
	queue            storage.DirtyQueue
	entityTypes      map[string]bool
	maxBodySizeBytes int
}

func NewService(queue storage.DirtyQueue, entityTypes []string, maxBodySizeMB int) *Service {
	if queue == nil {
		panic("ingestion: dirty queue must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	known := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		known[t] = true
	}
	return &Service{
		queue:            queue,
		entityTypes:      known,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/dirty", s.EnqueueHandler)
}
