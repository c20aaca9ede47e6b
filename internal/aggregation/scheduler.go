package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type updater interface {
	Update(ctx context.Context, name string) (RunResult, error)
}

type rankRefresher interface {
	RefreshRanks(ctx context.Context, name string) error
}

// Scheduler runs Update for each processor on its own interval.
type Scheduler struct {
	engine    updater
	intervals map[string]time.Duration
}

// NewScheduler creates a scheduler. Processors with a non-positive interval
// are only run on demand.
func NewScheduler(engine updater, intervals map[string]time.Duration) *Scheduler {
	return &Scheduler{engine: engine, intervals: intervals}
}

// Start runs every processor once, then on each tick, until ctx is cancelled.
// Cancelling ctx also cancels in-flight runs, which then do not commit.
func (s *Scheduler) Start(ctx context.Context) error {
	names := make([]string, 0, len(s.intervals))
	for name, interval := range s.intervals {
		if interval > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var g errgroup.Group
	for _, name := range names {
		interval := s.intervals[name]
		g.Go(func() error {
			s.loop(ctx, name, interval)
			return nil
		})
	}

	slog.Info("[Scheduler] Started", "processors", names)
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting processor loop", "processor", name, "interval", interval)

	s.tick(ctx, name)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, name)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)", "processor", name)
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, name string) {
	res, err := s.engine.Update(ctx, name)
	switch {
	case err == nil:
		slog.Debug("[Scheduler] Run complete", "processor", name, "affected", res.Affected, "duration_ms", res.DurationMs)
	case errors.Is(err, ErrRunInProgress):
		slog.Debug("[Scheduler] Previous run still in progress, skipping tick", "processor", name)
	case errors.Is(err, ErrCancelled):
		// shutdown
	default:
		// The cursor did not move; the next tick retries the same window.
		slog.Warn("[Scheduler] Run failed", "processor", name, "error", err)
	}
}

// RankScheduler refreshes rank tables on cron schedules, independent of Update.
type RankScheduler struct {
	cron      *cron.Cron
	refresher rankRefresher
	ctx       context.Context
	entries   map[string]cron.EntryID
}

// NewRankScheduler registers one cron job per processor with a non-empty spec.
func NewRankScheduler(refresher rankRefresher, schedules map[string]string) (*RankScheduler, error) {
	logger := cronLogger{}
	s := &RankScheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		refresher: refresher,
		ctx:       context.Background(),
		entries:   make(map[string]cron.EntryID),
	}

	for name, spec := range schedules {
		if spec == "" {
			continue
		}
		id, err := s.cron.AddFunc(spec, func() { s.refresh(name) })
		if err != nil {
			return nil, fmt.Errorf("rank schedule %s: %w", name, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

// Scheduled returns the processors with a rank job.
func (s *RankScheduler) Scheduled() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs the cron until ctx is cancelled, then waits for running jobs.
func (s *RankScheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	slog.Info("[RankScheduler] Started", "processors", s.Scheduled())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("[RankScheduler] Stopped")
	return nil
}

func (s *RankScheduler) refresh(name string) {
	if err := s.refresher.RefreshRanks(s.ctx, name); err != nil {
		slog.Warn("[RankScheduler] Rank refresh failed", "processor", name, "error", err)
	}
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("[RankScheduler] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("[RankScheduler] "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
