package notification

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so sends wait for a token. perSecond <= 0 returns p
// unchanged.
func WithRateLimit(p Provider, perSecond float64, burst int) Provider {
	if perSecond <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *rateLimitedProvider) Send(ctx context.Context, destination string, msg *Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", r.Name(), err)
	}
	return r.Provider.Send(ctx, destination, msg)
}
