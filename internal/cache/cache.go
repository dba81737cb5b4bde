// Package cache defines the key-value cache used for conversation summaries
// and its adapters.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is the minimal contract the summary index needs. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with the given TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, as opposed to a transport failure.
var ErrMiss = errors.New("cache: miss")
