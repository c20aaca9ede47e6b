package aggregation

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 1

// Task is one unit of scheduled work, typically the aggregation of one batch.
type Task func(ctx context.Context) error

// BetweenFunc is awaited before each task is scheduled. It may block, e.g.
// while a replica catches up. An error stops scheduling.
type BetweenFunc func(ctx context.Context) error

// TaskOptions bounds a RunTasks call.
type TaskOptions struct {
	Concurrency int
	Between     []BetweenFunc
}

// RunTasks starts tasks in order with at most opts.Concurrency in flight.
//
// A task that starts after the token was cancelled, or after a sibling failed,
// returns immediately without running. RunTasks waits for every started task
// before returning. It returns ErrCancelled if the token was cancelled,
// otherwise the first task error, otherwise the error of a between hook.
func RunTasks(token *Token, tasks []Task, opts TaskOptions) error {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	var (
		g       errgroup.Group
		failed  atomic.Bool
		gateErr error
	)
	g.SetLimit(limit)
	ctx := token.Context()

schedule:
	for _, task := range tasks {
		if token.Stopped() || failed.Load() {
			break
		}
		for _, between := range opts.Between {
			if err := between(ctx); err != nil {
				gateErr = fmt.Errorf("between tasks: %w", err)
				break schedule
			}
		}

		g.Go(func() error {
			if token.Stopped() || failed.Load() {
				return nil
			}
			if err := task(ctx); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if token.Stopped() {
		return ErrCancelled
	}
	if err != nil {
		return err
	}
	return gateErr
}
