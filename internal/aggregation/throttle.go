package aggregation

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle returns a hook that spaces task starts to perSecond, or nil when
// perSecond is not positive.
func Throttle(perSecond float64) BetweenFunc {
	if perSecond <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	return func(ctx context.Context) error {
		return limiter.Wait(ctx)
	}
}
