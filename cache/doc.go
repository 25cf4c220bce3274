// Package cache implements a two-tier caching engine: a bounded in-process
// L1 tier in front of a shared Redis-backed L2 tier.
//
// This package wraps battle-tested libraries:
//   - github.com/go-redis/redis/v8 for the distributed L2 tier
//   - golang.org/x/sync for warmup batching and refresh coalescing
//   - github.com/robfig/cron/v3 for recurring warmup schedules
//
// The Coordinator is the single entry point for application code:
//
//   - Get: read-through L1→L2; an L2 hit is backfilled into L1 with a
//     shorter, locally-chosen TTL
//   - Set: write-through L1-then-L2; an L2 failure never rolls back L1
//   - InvalidateByTags: bulk removal of every entry sharing a tag, served by
//     a tag→keys index in both tiers rather than a keyspace scan
//   - Warmup: batched, concurrency-bounded preload, idempotent against
//     already-warm keys
//   - Refresh: explicit reload through the caller's loader, coalesced so
//     concurrent refreshes of one key trigger a single loader call
//
// L1 combines its entry map, LRU recency list, and tag index behind one
// mutex. Expired entries are dropped lazily on read and actively by a
// background sweep owned by the Coordinator. L2 errors degrade to cache
// misses and are logged; they never reach the request path.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	coordinator, err := cache.New(cache.Options{Redis: client})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer coordinator.Close()
//
//	coordinator.Set(ctx, "product:1", product,
//		cache.WithTTL(10*time.Minute),
//		cache.WithTags("product:1", "product-list"),
//	)
//	value, found := coordinator.Get(ctx, "product:1")
//
//	// Invalidate everything tagged product-list on a domain event.
//	coordinator.InvalidateByTags(ctx, "product-list")
package cache
