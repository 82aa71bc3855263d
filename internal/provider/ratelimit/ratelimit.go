package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"swapfeed/internal/provider"
)

// Source wraps a provider.Source and gates calls using a token bucket.
// Calls wait for a token or return early if the context is canceled.
type Source struct {
	S provider.Source
	L *rate.Limiter
}

// PerMinute allows requestsPerMinute calls with the given burst.
// The bucket starts full to allow an initial burst.
func PerMinute(s provider.Source, requestsPerMinute, burst int) *Source {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(float64(requestsPerMinute) / 60.0)
	if requestsPerMinute <= 0 {
		limit = rate.Inf
	}
	return &Source{S: s, L: rate.NewLimiter(limit, burst)}
}

// MinInterval enforces at least interval between consecutive calls.
func MinInterval(s provider.Source, interval time.Duration) *Source {
	if interval <= 0 {
		return &Source{S: s, L: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Source{S: s, L: rate.NewLimiter(rate.Every(interval), 1)}
}

func (r *Source) Name() string { return r.S.Name() }

func (r *Source) Fetch(ctx context.Context) ([]provider.PriceRecord, error) {
	if r.L != nil {
		if err := r.L.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.S.Fetch(ctx)
}
