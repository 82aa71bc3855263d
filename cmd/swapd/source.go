package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"swapfeed/internal/config"
	"swapfeed/internal/feed"
	"swapfeed/internal/httpx"
	"swapfeed/internal/provider"
	"swapfeed/internal/provider/cache"
	"swapfeed/internal/provider/ratelimit"
	"swapfeed/internal/provider/switcheo"
)

// newSource builds the price list client wrapped in rate limiting and caching as configured.
func newSource(fc config.Feed, requestTimeout time.Duration) (provider.Source, error) {
	client, err := switcheo.NewClient(
		switcheo.WithEndpoint(fc.Endpoint),
		switcheo.WithHTTPClient(httpx.New(requestTimeout)),
		// Manual refreshes must not be answered by an intermediate cache.
		switcheo.WithHeader(http.Header{"Cache-Control": []string{"no-cache"}}),
	)
	if err != nil {
		return nil, fmt.Errorf("price client: %w", err)
	}

	var src provider.Source = client
	// Prefer token bucket with burst if RPM is set, otherwise use min-interval.
	if fc.MaxRequestsPerMinute > 0 {
		src = ratelimit.PerMinute(src, fc.MaxRequestsPerMinute, fc.Burst)
	} else if fc.MinRequestInterval > 0 {
		src = ratelimit.MinInterval(src, fc.MinRequestInterval)
	}
	if fc.CacheTTL > 0 {
		src = &cache.Source{S: src, TTL: fc.CacheTTL}
	}
	return src, nil
}

func newController(c config.Config) (*feed.Controller, error) {
	src, err := newSource(c.Feed, c.Server.RequestTimeout)
	if err != nil {
		return nil, err
	}
	opts := feed.Options{
		Source:       src,
		IconBase:     c.Feed.IconBaseURL,
		FetchTimeout: c.Feed.FetchTimeout,
	}
	// A nil *logrus.Logger must not reach the FieldLogger interface.
	if logger != nil {
		opts.Logger = logger
	} else {
		opts.Logger = logrus.StandardLogger()
	}
	return feed.New(opts), nil
}
