package apikey

import (
	"context"
	"fmt"
	"time"

	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
	"ragcore/internal/storage/redisx"
)

// RateLimiter enforces a true sliding window request cap per API key: every
// call records an event and evicts events older than windowSize, instead of
// truncating into fixed buckets that let a caller burst across a boundary.
type RateLimiter struct {
	cache      storage.Cache
	windowSize time.Duration
}

// NewRateLimiter creates a RateLimiter over a rolling window of windowSize.
func NewRateLimiter(cache storage.Cache, windowSize time.Duration) *RateLimiter {
	return &RateLimiter{cache: cache, windowSize: windowSize}
}

// Result carries the sliding-window counters a caller needs to set the
// standard X-RateLimit-* response headers.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Allow records one request for keyID and returns ragerr.RateLimited once
// the rolling window's count exceeds limit. The returned Result is valid on
// both the allow and deny path, so callers can set response headers either
// way.
func (r *RateLimiter) Allow(ctx context.Context, keyID string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Limit: limit}, nil
	}

	now := time.Now().UTC()
	cacheKey := redisx.RateLimitKey(keyID)

	count, reset, err := r.cache.SlidingWindowHit(ctx, cacheKey, now, r.windowSize)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.CacheError, "rate_limit_incr", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Limit: limit, Remaining: remaining, Reset: reset}

	if count > int64(limit) {
		return res, ragerr.New(ragerr.RateLimited, "rate_limit_exceeded", fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, r.windowSize))
	}
	return res, nil
}
