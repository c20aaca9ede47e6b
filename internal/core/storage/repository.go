package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
)

// ErrNoDefinition is returned when a store is asked about a processor it was not built with.
var ErrNoDefinition = errors.New("no definition for processor")

// CursorStore persists the last successful run time of each processor.
type CursorStore interface {
	// ReadCursor returns the zero time if the processor never committed.
	ReadCursor(ctx context.Context, processor string) (time.Time, error)
	WriteCursor(ctx context.Context, processor string, lastUpdate time.Time) error
	ListCursors(ctx context.Context) (map[string]time.Time, error)
}

// DirtyBatch is a snapshot of queued ids. Cutoff is the newest enqueue time
// included, so entries re-enqueued after the snapshot survive Ack.
type DirtyBatch struct {
	IDs    []int64
	Cutoff time.Time
}

// Empty reports whether the batch holds no ids.
func (b DirtyBatch) Empty() bool { return len(b.IDs) == 0 }

// DirtyQueue is the durable queue of ids known to need recomputation.
type DirtyQueue interface {
	Enqueue(ctx context.Context, entityType string, ids []int64) error
	Peek(ctx context.Context, entityType string) (DirtyBatch, error)
	Ack(ctx context.Context, entityType string, batch DirtyBatch) error
}

// SignalSource resolves the ids changed since a cursor for one processor.
// Implementations return one id slice per signal so callers can run them concurrently.
type SignalSource interface {
	Signals(processor string) []string
	ResolveSignal(ctx context.Context, processor, signal string, cursor time.Time) ([]int64, error)
}

// FamilySource computes the long-form counter rows of one aggregation family for a batch.
type FamilySource interface {
	Families(processor string) []string
	ComputeFamily(ctx context.Context, processor, family string, batch partition.Batch, bounds metric.WindowBounds) ([]metric.WindowRow, error)
}

// MetricStore owns the metric and rank tables.
type MetricStore interface {
	// Upsert overwrites every counter of the given rows in a single statement.
	Upsert(ctx context.Context, processor string, records []metric.Record, bounds metric.WindowBounds) (int64, error)
	// DecayDay reclassifies aged rows and zeroes the Day counters of rows leaving the Day group.
	DecayDay(ctx context.Context, processor string, bounds metric.WindowBounds) (int64, error)
	// RefreshRanks fully recomputes the rank table.
	RefreshRanks(ctx context.Context, processor string, refreshedAt time.Time) (int64, error)
	// ReadMetrics returns the stored rows of one entity.
	ReadMetrics(ctx context.Context, processor string, entityID int64) ([]metric.Record, error)
}

// AffectedSink receives the ids a committed run changed, e.g. for search-index requeue.
type AffectedSink interface {
	Report(ctx context.Context, processor, entityType string, ids []int64) error
}

// LagProbe reports the replication lag of the replica the engine reads from.
type LagProbe interface {
	ReplicationLag(ctx context.Context) (time.Duration, error)
}
