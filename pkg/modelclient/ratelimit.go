package modelclient

import (
	"context"

	"golang.org/x/time/rate"
)

// newCallLimiter builds a token-bucket limiter pacing outbound model calls
// (including retries) to requestsPerMinute. A requestsPerMinute of 0 means
// unlimited: callers get a nil limiter and waitForSlot becomes a no-op.
func newCallLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	r := rate.Limit(float64(requestsPerMinute) / 60.0)
	return rate.NewLimiter(r, requestsPerMinute)
}

// waitForSlot blocks until limiter admits the next call, or ctx is done.
// A nil limiter (unlimited pacing) returns immediately.
func waitForSlot(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
