package cache

import (
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// CacheService represents a generic cache service. The watcher uses it to
// remember rate-limit cooldowns per source across runs.
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// CooldownKey is the cache key that blocks requests to a source.
func CooldownKey(sourceID string) string {
	return "noticewatcher:cooldown:" + sourceID
}
