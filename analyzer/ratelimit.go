package analyzer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited caps calls to the wrapped analyzer. Waiting counts against the
// caller's deadline, so a saturated limiter ends in the same timeout path.
type RateLimited struct {
	next    ImageAnalyzer
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls with a burst of the same size.
// perMinute <= 0 returns next unchanged.
func NewRateLimited(next ImageAnalyzer, perMinute int) ImageAnalyzer {
	if perMinute <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *RateLimited) Analyze(ctx context.Context, req Request) (*Output, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Analyze(ctx, req)
}
