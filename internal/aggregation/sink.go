package aggregation

import (
	"context"
	"log/slog"

	"github.com/aevon-lab/tally/internal/core/storage"
)

// LogSink reports affected ids to the log only. Used when no stream is configured.
type LogSink struct{}

var _ storage.AffectedSink = LogSink{}

func (LogSink) Report(_ context.Context, processor, entityType string, ids []int64) error {
	slog.Info("[AffectedSink] Entities changed", "processor", processor, "entity_type", entityType, "count", len(ids))
	return nil
}
