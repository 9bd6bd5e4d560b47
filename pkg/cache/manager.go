package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Options controls entry lifetimes.
type Options struct {
	// TTL is how long an entry is served without contacting the server.
	TTL time.Duration

	// StaleTTL is how much longer a stale entry is kept for revalidation.
	StaleTTL time.Duration
}

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis *redis.Client
	opts  Options
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts Options) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
		opts:  opts,
	}
}

// TTL returns the freshness lifetime given to new entries.
func (m *Manager) TTL() time.Duration {
	return m.opts.TTL
}

// Get retrieves a cache entry by key. Stale entries are returned too; the
// caller checks IsFresh. Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) Get(ctx context.Context, key PageKey) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsFresh() {
		CacheHits.WithLabelValues("fresh").Inc()
	} else {
		CacheHits.WithLabelValues("stale").Inc()
	}
	return &entry, nil
}

// Set stores a cache entry. Redis expires it once the stale window is over.
func (m *Manager) Set(ctx context.Context, key PageKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := time.Until(entry.FreshUntil) + m.opts.StaleTTL
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Refresh marks entry fresh again after a 304 Not Modified and re-saves it.
func (m *Manager) Refresh(ctx context.Context, key PageKey, entry *Entry) error {
	entry.FreshUntil = time.Now().Add(m.opts.TTL)
	NotModifiedResponses.Inc()
	return m.Set(ctx, key, entry)
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key PageKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
