package v1

import "fmt"

// MaxDirtyIDs bounds a single enqueue request.
const MaxDirtyIDs = 10000

// DirtyRequest marks entities for recomputation on the next run of every
// processor of that entity type. Producers send it when they change data the
// signals cannot see, e.g. a bulk import or a moderation action.
type DirtyRequest struct {
	EntityType string  `json:"entity_type"`
	IDs        []int64 `json:"ids"`
}

// Validate checks the envelope. Entity type membership is checked by the service.
func (r *DirtyRequest) Validate() error {
	if r.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if len(r.IDs) == 0 {
		return fmt.Errorf("ids must not be empty")
	}
	if len(r.IDs) > MaxDirtyIDs {
		return fmt.Errorf("ids must not exceed %d entries", MaxDirtyIDs)
	}
	for _, id := range r.IDs {
		if id <= 0 {
			return fmt.Errorf("ids must be positive, got %d", id)
		}
	}
	return nil
}

// DirtyResponse acknowledges an enqueue.
type DirtyResponse struct {
	Status     string `json:"status"`
	EntityType string `json:"entity_type"`
	Enqueued   int    `json:"enqueued"`
}
