// Package accesscache maintains a TTL-bounded memoization of which users
// have a mounted view containing a given storage path, backed by a
// relational database loader.
package accesscache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/user"
)

// TTL is the lifetime of a cache entry once installed.
const TTL = 5 * time.Minute

const shardCount = 8

// UserStorageAccess records that User has read access to any path beginning
// with Root (byte-wise prefix, no path-segment awareness — see cache.go's
// matching logic and SPEC_FULL.md §9 for why this is intentional).
type UserStorageAccess struct {
	User user.ID
	Root string
}

// Loader loads the current access rows for a storage id from the
// authoritative store (the Nextcloud database, in production).
type Loader interface {
	Load(ctx context.Context, storage uint32) ([]UserStorageAccess, error)
}

type cacheEntry struct {
	access    []UserStorageAccess
	validTill time.Time
}

// isValid reports whether the entry is still usable at now. The reference
// implementation this is ported from defined this as `valid_till < now`,
// which is inverted — it only treated an entry as valid once it had already
// expired. This is corrected here: an entry is valid strictly before its
// valid_till, and expires at the instant now reaches valid_till.
func (e *cacheEntry) isValid(now time.Time) bool {
	return now.Before(e.validTill)
}

type shard struct {
	mu      sync.Mutex
	entries map[uint32]*cacheEntry
}

// Cache maps a storage id to its current UserStorageAccess rows, reloading
// from Loader on miss or expiry.
type Cache struct {
	shards  [shardCount]*shard
	loader  Loader
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithClock overrides the cache's time source, for deterministic TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics attaches Prometheus counters to the cache.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New constructs a Cache backed by loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader: loader,
		ttl:    TTL,
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uint32]*cacheEntry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(storage uint32) *shard {
	return c.shards[storage%shardCount]
}

// GetUsersForStoragePath returns every user with read access to path under
// storage, resolved from the cache (reloading on miss/expiry). Duplicates
// are preserved: a user mounting the same storage at multiple roots appears
// once per matching root.
func (c *Cache) GetUsersForStoragePath(ctx context.Context, storage uint32, path string) ([]user.ID, error) {
	s := c.shardFor(storage)
	now := c.now()

	s.mu.Lock()
	entry, ok := s.entries[storage]
	hit := ok && entry.isValid(now)
	if hit {
		access := entry.access
		s.mu.Unlock()
		if c.metrics != nil {
			c.metrics.MappingCacheHits.Inc()
		}
		return matchingUsers(access, path), nil
	}
	s.mu.Unlock()

	if c.metrics != nil {
		c.metrics.MappingCacheMisses.Inc()
	}

	access, err := c.loader.Load(ctx, storage)
	if err != nil {
		return nil, &MappingLoadError{Storage: storage, Cause: err}
	}

	fresh := &cacheEntry{access: access, validTill: c.now().Add(c.ttl)}
	s.mu.Lock()
	s.entries[storage] = fresh
	s.mu.Unlock()

	return matchingUsers(access, path), nil
}

// CachedCount returns the number of access rows currently cached or loaded
// for storage, used by the /mapping_test aux endpoint.
func (c *Cache) CachedCount(ctx context.Context, storage uint32) (int, error) {
	// The lookup installs or refreshes the entry; every row counts, whatever
	// its root.
	if _, err := c.GetUsersForStoragePath(ctx, storage, ""); err != nil {
		return 0, err
	}
	s := c.shardFor(storage)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[storage].access), nil
}

func matchingUsers(access []UserStorageAccess, path string) []user.ID {
	matched := make([]user.ID, 0, len(access))
	for _, a := range access {
		if strings.HasPrefix(path, a.Root) {
			matched = append(matched, a.User)
		}
	}
	return matched
}

// MappingLoadError wraps a database error encountered while loading a
// storage's access rows. No negative caching occurs: the next event for the
// same storage retries the load.
type MappingLoadError struct {
	Storage uint32
	Cause   error
}

func (e *MappingLoadError) Error() string {
	return "load storage mapping: " + e.Cause.Error()
}

func (e *MappingLoadError) Unwrap() error {
	return e.Cause
}
