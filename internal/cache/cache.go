// Package cache abstracts the shared key/value cache the host application and
// every exporter worker see. Coordination flags and live streaming state both
// live there, so the exporter treats the cache as its cross-process bus.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the read/write surface the exporter needs from the shared cache.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the string value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key without an expiry.
	Set(ctx context.Context, key, value string) error
	// Delete removes the supplied keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Scan returns every key matching the glob-style pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// HGetAll returns all fields of the hash at key; empty when missing.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// SCard returns the cardinality of the set at key; zero when missing.
	SCard(ctx context.Context, key string) (int64, error)
	// SMembers returns the members of the set at key; empty when missing.
	SMembers(ctx context.Context, key string) ([]string, error)
	// Ping verifies the cache is reachable.
	Ping(ctx context.Context) error
	// Close releases client resources.
	Close() error
}
