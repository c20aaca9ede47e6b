package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/aevon-lab/tally/internal/telemetry"
)

const (
	lagProbeKey     = "replication_lag"
	lagProbeTimeout = 5 * time.Second
)

// LagGateConfig configures a LagGate.
type LagGateConfig struct {
	Threshold       time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// LagGate holds back new batches while the replica the engine reads from lags
// behind. It is shared by every run; at most one probe is in flight and
// concurrent callers share its result.
type LagGate struct {
	probe   storage.LagProbe
	cfg     LagGateConfig
	group   singleflight.Group
	metrics *telemetry.Manager
}

// NewLagGate creates a gate. Zero intervals default to 1s initial and 30s max.
func NewLagGate(probe storage.LagProbe, cfg LagGateConfig, metrics *telemetry.Manager) *LagGate {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &LagGate{probe: probe, cfg: cfg, metrics: metrics}
}

// Lag returns the current replication lag, joining a probe already in flight.
// The probe itself is not cancelled when one caller gives up.
func (g *LagGate) Lag(ctx context.Context) (time.Duration, error) {
	ch := g.group.DoChan(lagProbeKey, func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(context.Background(), lagProbeTimeout)
		defer cancel()
		return g.probe.ReplicationLag(probeCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(time.Duration), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type lagExceededError struct {
	lag time.Duration
}

func (e *lagExceededError) Error() string {
	return fmt.Sprintf("replication lag %s", e.lag)
}

// Wait blocks until the lag is at or below the threshold. Stalls are logged
// on every re-probe. A failing probe ends the wait with its error.
func (g *LagGate) Wait(ctx context.Context) error {
	_, err := g.Settle(ctx)
	return err
}

// Settle is Wait that also returns the last measured lag, so a run can move
// its cursor back by what the replica had not replayed yet.
func (g *LagGate) Settle(ctx context.Context) (time.Duration, error) {
	started := time.Now()
	var last time.Duration

	op := func() error {
		lag, err := g.Lag(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(fmt.Errorf("probe replication lag: %w", err))
		}
		last = lag
		if lag > g.cfg.Threshold {
			return &lagExceededError{lag: lag}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxInterval = g.cfg.MaxInterval
	b.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		slog.Warn("[LagGate] Replica lagging, holding new batches",
			"reason", err.Error(),
			"threshold", g.cfg.Threshold,
			"retry_in", next,
			"waited", time.Since(started).Round(time.Millisecond),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if waited := time.Since(started); waited > g.cfg.InitialInterval {
		g.metrics.ObserveLagWait(waited)
	}
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Between adapts the gate to a task scheduler hook.
func (g *LagGate) Between() BetweenFunc {
	return g.Wait
}
