// Package cache provides the small in-process memoization cache the
// resolver uses to avoid re-invoking the fallback phonemizer for a word
// it has already resolved within the memo TTL.
package cache

import (
	"context"
	"time"
)

// Cache is the narrow interface the resolver's fallback memo needs: get
// a previously memoized phoneme string, or set one with an expiration.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// LocalConfig controls the in-process go-cache instance backing the memo.
type LocalConfig struct {
	MaxSize           int
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
}
