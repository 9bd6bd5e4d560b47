// Package cache keeps fetched page bodies in Redis so repeated runs, and
// several ingestion processes, do not refetch unchanged pages.
//
// Entries have two lifetimes:
//
//   - fresh (Options.TTL): served as-is, no request is made
//   - stale (Options.StaleTTL on top): kept so the client can revalidate with
//     If-None-Match / If-Modified-Since; a 304 Not Modified refreshes the entry
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.Options{
//		TTL:      time.Hour,
//		StaleTTL: 24 * time.Hour,
//	})
//
//	key := cache.PageKey{URL: "https://data.example/api/v1/items/2020/"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch, then manager.Set(ctx, key, cache.NewEntry(body, resp.Header, manager.TTL()))
//	}
//
// Keys are deterministic: query parameters are sorted, so the same page
// requested with reordered parameters shares one entry.
package cache
