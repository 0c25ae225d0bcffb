// Package cache provides a generic, sharded, bounded TTL cache for upstream
// provider responses, with usage-weighted eviction and per-provider
// statistics.
//
// # Design
//
//   - Concurrency: the cache is split into shards, each protected by an
//     RWMutex. The default shard count is chosen by a heuristic
//     (ReasonableShardCount) and is a power of two. Operations on different
//     keys are independent; operations on the same key are last-write-wins.
//     No lock is ever held across I/O — the cache has none.
//
//   - Storage: each shard keeps a map[K]*entry. There is no access-ordered
//     list; reads are a map lookup plus a counter increment.
//
//   - TTL: an entry is live while now - cachedAt < TTL. Liveness is checked
//     lazily on read and proactively by sweeps; no background timer thread
//     force-expires entries.
//
//   - Eviction: when a Store finds the cache at MaxEntries it removes the
//     entry with the smallest effective time, where effective time is
//     cachedAt biased forward one millisecond per recorded access (capped by
//     AccessAgingCap). This approximates LRU while rewarding hot entries,
//     at the cost of an O(n) scan that only runs at the capacity boundary.
//     At 90% of capacity, Store instead sweeps expired entries so routine
//     expiry churn rarely reaches the hard cap.
//
//   - Absence caching: Store accepts a hasData flag, so "upstream confirmed
//     there is no data" is a cacheable result distinct from a miss.
//
//   - Statistics: hits/misses/stores/evictions/expired are atomic counters,
//     with a small per-provider breakdown; derived rates are computed fresh
//     by every Stats() call. Options.Metrics mirrors the same signals to an
//     observability backend (see metrics/prom for the Prometheus adapter).
//
// # Basic usage
//
//	c := cache.New[string, string](cache.Options[string]{
//	    TTL:        time.Hour,
//	    MaxEntries: 10_000,
//	})
//	c.Store("k", "v", true, "moralis")
//	if v, hasData, hit := c.Get("k"); hit && hasData {
//	    _ = v
//	}
//
// Caching a confirmed-absent result:
//
//	c.Store("gone", "", false, "pinax")
//	_, hasData, hit := c.Get("gone") // hit == true, hasData == false
package cache
