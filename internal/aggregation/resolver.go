package aggregation

import (
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"

	"github.com/aevon-lab/tally/internal/core/storage"
)

// Resolver builds the affected set of a run: the dirty-queue snapshot plus the
// ids every signal saw change since the cursor. Signals run concurrently on
// the shared pool.
type Resolver struct {
	pool    pond.Pool
	sources []storage.SignalSource
}

// NewResolver creates a resolver over the given signal sources.
func NewResolver(pool pond.Pool, sources ...storage.SignalSource) *Resolver {
	return &Resolver{pool: pool, sources: sources}
}

// Resolve fills rc's affected set and returns it sorted ascending.
func (r *Resolver) Resolve(rc *RunContext) ([]int64, error) {
	rc.MarkAffected(rc.Dirty.IDs)

	group := r.pool.NewGroupContext(rc.Context())
	groupCtx := group.Context()

	for _, src := range r.sources {
		for _, signal := range src.Signals(rc.Processor) {
			group.SubmitErr(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				ids, err := src.ResolveSignal(groupCtx, rc.Processor, signal, rc.Cursor)
				if err != nil {
					return err
				}
				rc.MarkAffected(ids)
				slog.Debug("[Resolver] Signal resolved",
					"processor", rc.Processor,
					"signal", signal,
					"ids", len(ids),
					"run_id", rc.ID,
				)
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		if rc.Token.Stopped() {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("resolve affected set: %w", err)
	}
	return rc.Affected(), nil
}
