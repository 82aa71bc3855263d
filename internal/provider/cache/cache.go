package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"swapfeed/internal/provider"
)

// Source caches the full price list of the wrapped source for a TTL.
// Concurrent misses are coalesced into a single upstream request.
type Source struct {
	S   provider.Source
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	mu        sync.RWMutex
	records   []provider.PriceRecord
	expiresAt time.Time

	sf singleflight.Group
}

var _ provider.Invalidator = (*Source)(nil)

func (c *Source) Name() string { return c.S.Name() }

// Fetch returns the cached list while it is fresh, otherwise refetches.
// Upstream errors are returned as-is; an expired list is never served in their place,
// so the caller still sees the outage.
func (c *Source) Fetch(ctx context.Context) ([]provider.PriceRecord, error) {
	if c.TTL <= 0 {
		return c.S.Fetch(ctx)
	}

	now := c.now()
	c.mu.RLock()
	if c.records != nil && now.Before(c.expiresAt) {
		out := slices.Clone(c.records)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("prices", func() (any, error) {
		records, err := c.S.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.records = records
		c.expiresAt = c.now().Add(c.TTL)
		c.mu.Unlock()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]provider.PriceRecord)), nil
}

// Invalidate drops the cached list so the next Fetch goes upstream.
func (c *Source) Invalidate() {
	c.mu.Lock()
	c.records = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Source) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
