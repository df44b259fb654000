package ratelimit

import "context"

// RateLimiter bounds request throughput per scope, typically a principal.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
}
