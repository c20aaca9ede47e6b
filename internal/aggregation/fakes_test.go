package aggregation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/aevon-lab/tally/internal/core/storage"
)

var errNoRows = errors.New("no rows")

func testDefinition(name string) metric.Definition {
	return metric.Definition{
		Name:                name,
		EntityType:          name,
		MetricTable:         name + "_metrics",
		EntityTable:         name + "s",
		EntityCreatedColumn: "created_at",
		Counters:            []string{"likes"},
		Signals:             []metric.Signal{{Name: "reactions"}},
		Families:            []metric.Family{{Name: "reactions"}},
	}
}

type fakeCursorStore struct {
	mu      sync.Mutex
	cursors map[string]time.Time
	writes  int
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{cursors: make(map[string]time.Time)}
}

func (f *fakeCursorStore) ReadCursor(_ context.Context, processor string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[processor], nil
}

func (f *fakeCursorStore) WriteCursor(_ context.Context, processor string, lastUpdate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[processor] = lastUpdate
	f.writes++
	return nil
}

func (f *fakeCursorStore) ListCursors(_ context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.cursors))
	for k, v := range f.cursors {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCursorStore) get(processor string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[processor]
}

// fakeDirtyQueue stamps entries with a logical clock so Ack honours the cutoff.
type fakeDirtyQueue struct {
	mu      sync.Mutex
	clock   int64
	entries map[string]map[int64]int64
	acks    int
}

func newFakeDirtyQueue() *fakeDirtyQueue {
	return &fakeDirtyQueue{entries: make(map[string]map[int64]int64)}
}

func (f *fakeDirtyQueue) Enqueue(_ context.Context, entityType string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock++
	if f.entries[entityType] == nil {
		f.entries[entityType] = make(map[int64]int64)
	}
	for _, id := range ids {
		f.entries[entityType][id] = f.clock
	}
	return nil
}

func (f *fakeDirtyQueue) Peek(_ context.Context, entityType string) (storage.DirtyBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		batch  storage.DirtyBatch
		newest int64
	)
	for id, stamp := range f.entries[entityType] {
		batch.IDs = append(batch.IDs, id)
		if stamp > newest {
			newest = stamp
		}
	}
	sort.Slice(batch.IDs, func(i, j int) bool { return batch.IDs[i] < batch.IDs[j] })
	if len(batch.IDs) > 0 {
		batch.Cutoff = time.Unix(newest, 0)
	}
	return batch, nil
}

func (f *fakeDirtyQueue) Ack(_ context.Context, entityType string, batch storage.DirtyBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	for _, id := range batch.IDs {
		if stamp, ok := f.entries[entityType][id]; ok && stamp <= batch.Cutoff.Unix() {
			delete(f.entries[entityType], id)
		}
	}
	return nil
}

func (f *fakeDirtyQueue) pending(entityType string) []int64 {
	batch, _ := f.Peek(context.Background(), entityType)
	return batch.IDs
}

type fakeSignals struct {
	mu  sync.Mutex
	ids map[string]map[string][]int64
	err error
	// cursors records the cursor each signal was resolved against.
	cursors []time.Time
}

func (f *fakeSignals) Signals(processor string) []string {
	names := make([]string, 0, len(f.ids[processor]))
	for name := range f.ids[processor] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *fakeSignals) ResolveSignal(_ context.Context, processor, signal string, cursor time.Time) ([]int64, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.ids[processor][signal], nil
}

// fakeFamilies counts "likes" events per timeframe, like a windowed family query.
type fakeFamilies struct {
	mu         sync.Mutex
	processors map[string]bool
	events     map[int64][]time.Time
	err        error
	hook       func(ctx context.Context, batch partition.Batch) error
	batches    []partition.Batch
}

func (f *fakeFamilies) Families(processor string) []string {
	if !f.processors[processor] {
		return nil
	}
	return []string{"reactions"}
}

func (f *fakeFamilies) ComputeFamily(
	ctx context.Context,
	_ string,
	_ string,
	batch partition.Batch,
	bounds metric.WindowBounds,
) ([]metric.WindowRow, error) {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, batch); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	var rows []metric.WindowRow
	for _, id := range batch.IDs {
		events, ok := f.events[id]
		if !ok {
			continue
		}
		values := make(map[metric.Timeframe]int64, len(metric.Timeframes))
		for _, tf := range metric.Timeframes {
			for _, at := range events {
				if tf.Contains(at, bounds.Now) {
					values[tf]++
				}
			}
		}
		rows = append(rows, metric.WindowRow{EntityID: id, Counter: "likes", Values: values})
	}
	return rows, nil
}

type fakeMetricStore struct {
	mu          sync.Mutex
	rows        map[metric.Key]metric.Record
	upserts     [][]metric.Record
	decayBounds []metric.WindowBounds
	rankCalls   int
	afterUpsert func(n int)
	err         error
}

func newFakeMetricStore() *fakeMetricStore {
	return &fakeMetricStore{rows: make(map[metric.Key]metric.Record)}
}

func (f *fakeMetricStore) Upsert(_ context.Context, _ string, records []metric.Record, _ metric.WindowBounds) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	for _, r := range records {
		f.rows[metric.Key{EntityID: r.EntityID, Timeframe: r.Timeframe}] = r
	}
	f.upserts = append(f.upserts, records)
	n := len(f.upserts)
	f.mu.Unlock()

	if f.afterUpsert != nil {
		f.afterUpsert(n)
	}
	return int64(len(records)), nil
}

func (f *fakeMetricStore) DecayDay(_ context.Context, _ string, bounds metric.WindowBounds) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayBounds = append(f.decayBounds, bounds)
	return 0, nil
}

func (f *fakeMetricStore) RefreshRanks(_ context.Context, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankCalls++
	return 0, nil
}

func (f *fakeMetricStore) ReadMetrics(_ context.Context, _ string, entityID int64) ([]metric.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []metric.Record
	for _, tf := range metric.Timeframes {
		if r, ok := f.rows[metric.Key{EntityID: entityID, Timeframe: tf}]; ok {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, errNoRows
	}
	return out, nil
}

func (f *fakeMetricStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeMetricStore) value(id int64, tf metric.Timeframe, counter string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[metric.Key{EntityID: id, Timeframe: tf}].Counters[counter]
}

type fakeSink struct {
	mu       sync.Mutex
	reported map[string][]int64
}

func (f *fakeSink) Report(_ context.Context, processor, _ string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reported == nil {
		f.reported = make(map[string][]int64)
	}
	f.reported[processor] = append(f.reported[processor], ids...)
	return nil
}

type fakeLagProbe struct {
	mu      sync.Mutex
	calls   int
	lags    []time.Duration
	err     error
	release chan struct{}
}

func (f *fakeLagProbe) ReplicationLag(_ context.Context) (time.Duration, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return 0, f.err
	}
	if len(f.lags) == 0 {
		return 0, nil
	}
	if call > len(f.lags) {
		return f.lags[len(f.lags)-1], nil
	}
	return f.lags[call-1], nil
}

func (f *fakeLagProbe) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
