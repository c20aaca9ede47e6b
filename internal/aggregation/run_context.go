package aggregation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/storage"
)

// RunContext is the state of one processor run. It is created by the engine,
// passed to every stage and discarded when the run ends.
type RunContext struct {
	ID         string
	Processor  string
	EntityType string

	// Cursor is the last committed run time; signals look for changes after it.
	Cursor time.Time
	// StartedAt anchors the timeframe bounds.
	StartedAt time.Time
	// Watermark becomes the new cursor on commit: StartedAt moved back by the
	// replica lag and the signal overlap, never before Cursor.
	Watermark time.Time
	// Dirty is the dirty-queue snapshot taken at run start, acked at commit.
	Dirty storage.DirtyBatch

	Token *Token

	affected *xsync.Map[int64, struct{}]
}

func newRunContext(def metric.Definition, cursor, startedAt time.Time, dirty storage.DirtyBatch, token *Token) *RunContext {
	return &RunContext{
		ID:         uuid.NewString(),
		Processor:  def.Name,
		EntityType: def.EntityType,
		Cursor:     cursor,
		StartedAt:  startedAt,
		Watermark:  startedAt,
		Dirty:      dirty,
		Token:      token,
		affected:   xsync.NewMap[int64, struct{}](),
	}
}

// Context is the run's cancellable context.
func (rc *RunContext) Context() context.Context {
	return rc.Token.Context()
}

// MarkAffected adds ids to the affected set. Safe for concurrent use.
func (rc *RunContext) MarkAffected(ids []int64) {
	for _, id := range ids {
		rc.affected.Store(id, struct{}{})
	}
}

// AffectedCount returns the number of distinct affected ids.
func (rc *RunContext) AffectedCount() int {
	return rc.affected.Size()
}

// Affected returns the affected set sorted ascending.
func (rc *RunContext) Affected() []int64 {
	ids := make([]int64, 0, rc.affected.Size())
	rc.affected.Range(func(id int64, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
