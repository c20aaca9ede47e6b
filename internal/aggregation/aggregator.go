package aggregation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/aevon-lab/tally/internal/core/storage"
)

type familyRef struct {
	source storage.FamilySource
	name   string
}

// Aggregator recomputes the metric rows of one processor for a batch of ids.
// Families run concurrently; their rows are merged by (entity, timeframe) and
// written in one upsert that overwrites every counter.
type Aggregator struct {
	def      metric.Definition
	store    storage.MetricStore
	families []familyRef
}

// NewAggregator collects the processor's families from every source.
func NewAggregator(def metric.Definition, store storage.MetricStore, sources ...storage.FamilySource) *Aggregator {
	a := &Aggregator{def: def, store: store}
	for _, src := range sources {
		for _, name := range src.Families(def.Name) {
			a.families = append(a.families, familyRef{source: src, name: name})
		}
	}
	return a
}

// Compute runs every family over the batch and merges the results.
// Dense processors get a zero row for every id and timeframe; sparse ones
// keep only rows with a non-zero counter.
func (a *Aggregator) Compute(ctx context.Context, batch partition.Batch, bounds metric.WindowBounds) (metric.Snapshot, error) {
	results := make([][]metric.WindowRow, len(a.families))

	g, gctx := errgroup.WithContext(ctx)
	for i, fam := range a.families {
		g.Go(func() error {
			rows, err := fam.source.ComputeFamily(gctx, a.def.Name, fam.name, batch, bounds)
			if err != nil {
				return fmt.Errorf("family %s: %w", fam.name, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := make(metric.Snapshot, len(batch.IDs)*len(metric.Timeframes))
	for _, rows := range results {
		snap.Merge(rows)
	}
	if a.def.Sparse {
		snap.DropZero()
	} else {
		snap.Densify(batch.IDs, a.def.Counters)
	}
	return snap, nil
}

// Run computes and upserts one batch, returning the number of rows written.
func (a *Aggregator) Run(ctx context.Context, batch partition.Batch, bounds metric.WindowBounds) (int64, error) {
	snap, err := a.Compute(ctx, batch, bounds)
	if err != nil {
		return 0, err
	}
	records := snap.Records(a.def.Counters, bounds.Now)
	if len(records) == 0 {
		return 0, nil
	}
	n, err := a.store.Upsert(ctx, a.def.Name, records, bounds)
	if err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return n, nil
}
