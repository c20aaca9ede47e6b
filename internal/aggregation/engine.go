package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/aevon-lab/tally/internal/core/metric"
	"github.com/aevon-lab/tally/internal/core/partition"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/aevon-lab/tally/internal/telemetry"
)

const (
	defaultBatchSize         = 500
	defaultSignalConcurrency = 8
)

// Phase is where a processor is in its run cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhaseCommitting Phase = "committing"
)

// ProcessorOptions tunes one processor's runs.
type ProcessorOptions struct {
	BatchSize         int
	Concurrency       int
	ThrottlePerSecond float64
}

func (o ProcessorOptions) normalized() ProcessorOptions {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.Concurrency <= 0 {
		n.Concurrency = defaultConcurrency
	}
	return n
}

// Stores are the collaborators the engine reads from and writes to.
type Stores struct {
	Cursors  storage.CursorStore
	Dirty    storage.DirtyQueue
	Metrics  storage.MetricStore
	Signals  []storage.SignalSource
	Families []storage.FamilySource
	// Sink is optional.
	Sink storage.AffectedSink
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	SignalConcurrency int
	// SignalOverlap is subtracted from every committed cursor so rows that
	// reach a source after their change timestamp are still seen by the next run.
	SignalOverlap time.Duration
	Processors    map[string]ProcessorOptions
	// Gate is optional.
	Gate    *LagGate
	Metrics *telemetry.Manager
}

// RunResult summarises one Update call.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Processor  string    `json:"processor"`
	Outcome    string    `json:"outcome"`
	FromCursor time.Time `json:"from_cursor"`
	ToCursor   time.Time `json:"to_cursor"`
	Affected   int       `json:"affected"`
	Batches    int       `json:"batches"`
	Upserted   int64     `json:"upserted"`
	Decayed    int64     `json:"decayed"`
	DurationMs int64     `json:"duration_ms"`
}

// ProcessorStatus is the externally visible state of one processor.
type ProcessorStatus struct {
	Name         string    `json:"name"`
	EntityType   string    `json:"entity_type"`
	Phase        Phase     `json:"phase"`
	RunID        string    `json:"run_id,omitempty"`
	Cursor       time.Time `json:"cursor"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	LastRunAt    time.Time `json:"last_run_at"`
	LastError    string    `json:"last_error,omitempty"`
	LastAffected int       `json:"last_affected"`
}

type processorState struct {
	mu           sync.Mutex
	phase        Phase
	runID        string
	lastOutcome  string
	lastRunAt    time.Time
	lastError    string
	lastAffected int
}

func (s *processorState) begin(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return false
	}
	s.phase = PhaseRunning
	s.runID = runID
	return true
}

func (s *processorState) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *processorState) finish(res RunResult, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.runID = ""
	s.lastOutcome = res.Outcome
	s.lastRunAt = at
	s.lastAffected = res.Affected
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

func (s *processorState) snapshot() ProcessorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ProcessorStatus{
		Phase:        s.phase,
		RunID:        s.runID,
		LastOutcome:  s.lastOutcome,
		LastRunAt:    s.lastRunAt,
		LastError:    s.lastError,
		LastAffected: s.lastAffected,
	}
}

// Engine is the processor registry and orchestrator. Different processors may
// run concurrently; a processor never overlaps with itself.
type Engine struct {
	stores      Stores
	defs        map[string]metric.Definition
	names       []string
	opts        map[string]ProcessorOptions
	aggregators map[string]*Aggregator
	resolver    *Resolver
	pool        pond.Pool
	gate        *LagGate
	overlap     time.Duration
	metrics     *telemetry.Manager
	// root is cancelled by Close and fans out to every in-flight run.
	root *Token

	states      *xsync.Map[string, *processorState]
	rankRunning *xsync.Map[string, struct{}]

	now func() time.Time
}

// NewEngine validates the definitions and wires one aggregator per processor.
func NewEngine(defs []metric.Definition, stores Stores, cfg EngineConfig) (*Engine, error) {
	if stores.Cursors == nil || stores.Dirty == nil || stores.Metrics == nil {
		return nil, fmt.Errorf("engine: cursor, dirty queue and metric stores are required")
	}

	signalConcurrency := cfg.SignalConcurrency
	if signalConcurrency <= 0 {
		signalConcurrency = defaultSignalConcurrency
	}
	pool := pond.NewPool(signalConcurrency)

	e := &Engine{
		stores:      stores,
		defs:        make(map[string]metric.Definition, len(defs)),
		opts:        make(map[string]ProcessorOptions, len(defs)),
		aggregators: make(map[string]*Aggregator, len(defs)),
		resolver:    NewResolver(pool, stores.Signals...),
		pool:        pool,
		gate:        cfg.Gate,
		overlap:     cfg.SignalOverlap,
		metrics:     cfg.Metrics,
		root:        NewToken(context.Background()),
		states:      xsync.NewMap[string, *processorState](),
		rankRunning: xsync.NewMap[string, struct{}](),
		now:         time.Now,
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			pool.StopAndWait()
			return nil, fmt.Errorf("engine: %w", err)
		}
		if _, dup := e.defs[def.Name]; dup {
			pool.StopAndWait()
			return nil, fmt.Errorf("engine: duplicate processor %q", def.Name)
		}
		e.defs[def.Name] = def
		e.names = append(e.names, def.Name)
		e.opts[def.Name] = cfg.Processors[def.Name].normalized()
		e.aggregators[def.Name] = NewAggregator(def, stores.Metrics, stores.Families...)
		e.states.Store(def.Name, &processorState{phase: PhaseIdle})
	}
	sort.Strings(e.names)

	slog.Info("[Engine] Processors registered", "processors", e.names, "signal_concurrency", signalConcurrency)
	return e, nil
}

// Processors returns the registered processor names, sorted.
func (e *Engine) Processors() []string {
	return append([]string(nil), e.names...)
}

// Definition returns the definition of a registered processor.
func (e *Engine) Definition(name string) (metric.Definition, error) {
	def, ok := e.defs[name]
	if !ok {
		return metric.Definition{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}
	return def, nil
}

// Close cancels in-flight runs and rank refreshes, then stops the signal pool.
// Cancelled runs do not commit.
func (e *Engine) Close() {
	e.root.Cancel()
	e.pool.StopAndWait()
}

// Update runs one processor: resolve the affected set, aggregate it in bounded
// batches, then commit the cursor, ack the dirty snapshot, report the affected
// ids and apply the day decay. Cancelling ctx stops the run without a commit.
func (e *Engine) Update(ctx context.Context, name string) (RunResult, error) {
	def, err := e.Definition(name)
	if err != nil {
		return RunResult{}, err
	}
	opts := e.opts[name]
	state, _ := e.states.Load(name)

	token := NewToken(ctx)
	defer token.Cancel()
	detach := e.root.RegisterCleanup(token.Cancel)
	defer detach()

	began := time.Now()
	startedAt := e.now().UTC()
	rc := newRunContext(def, time.Time{}, startedAt, storage.DirtyBatch{}, token)
	res := RunResult{RunID: rc.ID, Processor: name}

	if !state.begin(rc.ID) {
		return res, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}

	res, err = e.run(rc, def, opts, state)
	elapsed := time.Since(began)
	res.DurationMs = elapsed.Milliseconds()
	state.finish(res, err, startedAt)
	e.metrics.RecordRun(name, res.Outcome, elapsed)

	switch {
	case errors.Is(err, ErrCancelled):
		slog.Info("[Engine] Run cancelled, cursor unchanged", "processor", name, "run_id", rc.ID)
	case err != nil:
		slog.Error("[Engine] Run failed, cursor unchanged", "processor", name, "run_id", rc.ID, "error", err)
	}
	return res, err
}

func (e *Engine) run(rc *RunContext, def metric.Definition, opts ProcessorOptions, state *processorState) (RunResult, error) {
	res := RunResult{RunID: rc.ID, Processor: def.Name, Outcome: telemetry.OutcomeFailed}
	ctx := rc.Context()

	cursor, err := e.stores.Cursors.ReadCursor(ctx, def.Name)
	if err != nil {
		return e.abort(rc, res, fmt.Errorf("read cursor: %w", err))
	}
	rc.Cursor = cursor
	res.FromCursor = cursor

	dirty, err := e.stores.Dirty.Peek(ctx, def.EntityType)
	if err != nil {
		return e.abort(rc, res, fmt.Errorf("peek dirty queue: %w", err))
	}
	rc.Dirty = dirty

	lag, err := e.settle(ctx)
	if err != nil {
		return e.abort(rc, res, err)
	}
	rc.Watermark = watermark(rc.StartedAt, cursor, lag+e.overlap)

	slog.Info("[Engine] Run started",
		"processor", def.Name,
		"run_id", rc.ID,
		"cursor", cursor,
		"watermark", rc.Watermark,
		"dirty", len(dirty.IDs),
	)

	ids, err := e.resolver.Resolve(rc)
	if err != nil {
		return e.abort(rc, res, err)
	}
	res.Affected = len(ids)
	e.metrics.SetAffected(def.Name, len(ids))

	batches := partition.Chunk(ids, opts.BatchSize)
	res.Batches = len(batches)

	slog.Info("[Engine] Affected set resolved",
		"processor", def.Name,
		"run_id", rc.ID,
		"affected", len(ids),
		"batches", len(batches),
		"batch_size", opts.BatchSize,
		"concurrency", opts.Concurrency,
	)

	bounds := metric.BoundsAt(rc.StartedAt)
	agg := e.aggregators[def.Name]
	var upserted atomic.Int64

	tasks := make([]Task, len(batches))
	for i, batch := range batches {
		tasks[i] = func(ctx context.Context) error {
			n, err := agg.Run(ctx, batch, bounds)
			if err != nil {
				return fmt.Errorf("batch %d [%d..%d]: %w", i+1, batch.Min, batch.Max, err)
			}
			upserted.Add(n)
			e.metrics.AddBatch(def.Name, n)
			return nil
		}
	}

	err = RunTasks(rc.Token, tasks, TaskOptions{
		Concurrency: opts.Concurrency,
		Between:     e.between(opts),
	})
	res.Upserted = upserted.Load()
	if err != nil {
		return e.abort(rc, res, err)
	}
	if rc.Token.Stopped() {
		return e.abort(rc, res, ErrCancelled)
	}

	state.setPhase(PhaseCommitting)
	return e.commit(rc, def, res)
}

// commit is not interrupted by cancellation once started.
func (e *Engine) commit(rc *RunContext, def metric.Definition, res RunResult) (RunResult, error) {
	ctx := context.WithoutCancel(rc.Context())

	if err := e.stores.Cursors.WriteCursor(ctx, def.Name, rc.Watermark); err != nil {
		return res, fmt.Errorf("write cursor: %w", err)
	}
	res.Outcome = telemetry.OutcomeCommitted
	res.ToCursor = rc.Watermark

	slog.Info("[Engine] Run committed",
		"processor", def.Name,
		"run_id", rc.ID,
		"cursor_advanced", fmt.Sprintf("%s -> %s", rc.Cursor.Format(time.RFC3339), rc.Watermark.Format(time.RFC3339)),
		"affected", res.Affected,
		"upserted", res.Upserted,
	)

	if err := e.stores.Dirty.Ack(ctx, def.EntityType, rc.Dirty); err != nil {
		slog.Warn("[Engine] Dirty queue ack failed, ids will be reprocessed", "processor", def.Name, "error", err)
	}

	if e.stores.Sink != nil && res.Affected > 0 {
		if err := e.stores.Sink.Report(ctx, def.Name, def.EntityType, rc.Affected()); err != nil {
			slog.Warn("[Engine] Affected report failed", "processor", def.Name, "error", err)
		}
	}

	decayed, err := e.decay(ctx, def.Name, e.now().UTC())
	if err != nil {
		slog.Error("[Engine] Day decay failed after commit", "processor", def.Name, "error", err)
	}
	res.Decayed = decayed
	return res, nil
}

// settle holds the run until the replica is under the gate threshold and
// returns the lag it was left with. Without a gate the lag is taken as zero.
func (e *Engine) settle(ctx context.Context) (time.Duration, error) {
	if e.gate == nil {
		return 0, nil
	}
	lag, err := e.gate.Settle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ErrCancelled
		}
		return 0, fmt.Errorf("lag gate: %w", err)
	}
	return lag, nil
}

// watermark is the cursor a run commits. Changes stamped within margin of
// startedAt may not be visible yet, so they are read again by the next run.
func watermark(startedAt, cursor time.Time, margin time.Duration) time.Time {
	w := startedAt.Add(-margin)
	if w.Before(cursor) {
		return cursor
	}
	return w
}

func (e *Engine) abort(rc *RunContext, res RunResult, err error) (RunResult, error) {
	if errors.Is(err, ErrCancelled) || rc.Token.Stopped() {
		res.Outcome = telemetry.OutcomeCancelled
		return res, ErrCancelled
	}
	res.Outcome = telemetry.OutcomeFailed
	return res, err
}

func (e *Engine) between(opts ProcessorOptions) []BetweenFunc {
	var hooks []BetweenFunc
	if e.gate != nil {
		hooks = append(hooks, e.gate.Between())
	}
	if throttle := Throttle(opts.ThrottlePerSecond); throttle != nil {
		hooks = append(hooks, throttle)
	}
	return hooks
}

// ClearDay runs the day decay for one processor on its own.
func (e *Engine) ClearDay(ctx context.Context, name string) (int64, error) {
	if _, err := e.Definition(name); err != nil {
		return 0, err
	}
	return e.decay(ctx, name, e.now().UTC())
}

func (e *Engine) decay(ctx context.Context, name string, now time.Time) (int64, error) {
	n, err := e.stores.Metrics.DecayDay(ctx, name, metric.BoundsAt(now))
	if err != nil {
		return 0, fmt.Errorf("day decay %s: %w", name, err)
	}
	e.metrics.AddDecayRows(name, n)
	return n, nil
}

// RefreshRanks fully recomputes the rank table of one processor.
// Processors without rank columns are a no-op.
func (e *Engine) RefreshRanks(ctx context.Context, name string) error {
	def, err := e.Definition(name)
	if err != nil {
		return err
	}
	if len(def.Ranks) == 0 {
		return nil
	}
	if _, running := e.rankRunning.LoadOrStore(name, struct{}{}); running {
		return fmt.Errorf("%w: ranks of %s", ErrRunInProgress, name)
	}
	defer e.rankRunning.Delete(name)

	token := e.root.Child()
	defer token.Cancel()
	detach := context.AfterFunc(ctx, token.Cancel)
	defer detach()

	started := time.Now()
	n, err := e.stores.Metrics.RefreshRanks(token.Context(), name, e.now().UTC())
	if err != nil {
		e.metrics.RecordRankRefresh(name, telemetry.OutcomeFailed)
		return fmt.Errorf("refresh ranks %s: %w", name, err)
	}
	e.metrics.RecordRankRefresh(name, telemetry.OutcomeCommitted)

	slog.Info("[Engine] Ranks refreshed", "processor", name, "rows", n, "took", time.Since(started).Round(time.Millisecond))
	return nil
}

// Status reports every processor's phase, cursor and last outcome.
func (e *Engine) Status(ctx context.Context) ([]ProcessorStatus, error) {
	cursors, err := e.stores.Cursors.ListCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	out := make([]ProcessorStatus, 0, len(e.names))
	for _, name := range e.names {
		state, _ := e.states.Load(name)
		st := state.snapshot()
		st.Name = name
		st.EntityType = e.defs[name].EntityType
		st.Cursor = cursors[name]
		out = append(out, st)
	}
	return out, nil
}
