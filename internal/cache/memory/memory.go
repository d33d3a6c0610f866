// Package memory implements cache.Cache in process memory; intended for
// tests and local development.
package memory

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/dispatcharr/exporter/internal/cache"
)

// Cache is an in-memory cache.Cache. The zero value is not usable; call New.
type Cache struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
}

// New returns an empty in-memory cache.
func New() *Cache {
	return &Cache{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
	}
}

// Get returns the string value stored under key, or cache.ErrNotFound.
func (c *Cache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.strings[key]
	if !ok {
		return "", cache.ErrNotFound
	}
	return val, nil
}

// Set stores value under key.
func (c *Cache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = value
	return nil
}

// Delete removes the supplied keys across all value types.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.strings, key)
		delete(c.hashes, key)
		delete(c.sets, key)
	}
	return nil
}

// Scan returns every key matching the glob-style pattern, sorted for
// deterministic iteration in tests.
func (c *Cache) Scan(_ context.Context, pattern string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	appendMatches := func(key string) {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			keys = append(keys, key)
		}
	}
	for key := range c.strings {
		appendMatches(key)
	}
	for key := range c.hashes {
		appendMatches(key)
	}
	for key := range c.sets {
		appendMatches(key)
	}
	sort.Strings(keys)
	return keys, nil
}

// HGetAll returns a copy of the hash at key; empty when missing.
func (c *Cache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields := make(map[string]string, len(c.hashes[key]))
	for name, val := range c.hashes[key] {
		fields[name] = val
	}
	return fields, nil
}

// HSet stores hash fields under key, creating the hash when missing.
func (c *Cache) HSet(_ context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := c.hashes[key]
	if hash == nil {
		hash = make(map[string]string, len(fields))
		c.hashes[key] = hash
	}
	for name, val := range fields {
		hash[name] = val
	}
	return nil
}

// SCard returns the cardinality of the set at key.
func (c *Cache) SCard(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.sets[key])), nil
}

// SMembers returns the members of the set at key, sorted.
func (c *Cache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := make([]string, 0, len(c.sets[key]))
	for member := range c.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// SAdd inserts members into the set at key, creating it when missing.
func (c *Cache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.sets[key]
	if set == nil {
		set = make(map[string]struct{}, len(members))
		c.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// Ping always succeeds for the in-memory cache.
func (c *Cache) Ping(context.Context) error {
	return nil
}

// Close satisfies cache.Cache but requires no action.
func (c *Cache) Close() error {
	return nil
}
