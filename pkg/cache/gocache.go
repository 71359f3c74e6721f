package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheWrapper adapts go-cache to the Cache interface.
type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewGoCache creates a local cache based on the go-cache package.
func NewGoCache(config LocalConfig) Cache {
	c := gocache.New(config.DefaultExpiration, config.CleanupInterval)
	return &goCacheWrapper{cache: c}
}

func (gc *goCacheWrapper) Get(ctx context.Context, key string) (interface{}, bool) {
	return gc.cache.Get(key)
}

func (gc *goCacheWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	gc.cache.Set(key, value, expiration)
	return nil
}
