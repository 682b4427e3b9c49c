package vinylauth

import (
	"context"
	"time"
)

// RateLimiter throttles attempts per key. Implementations live in the
// ratelimit package.
type RateLimiter interface {
	// Allow records an attempt and reports whether it is within limit for
	// the sliding window. remaining is how many attempts are left.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}
