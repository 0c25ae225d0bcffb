package cache

import (
	"sync"
	"time"

	"github.com/nftguard/nftguard/internal/util"
)

// Cache is a sharded, bounded, time-expiring KV store with usage-weighted
// eviction and per-provider statistics. All methods are safe for concurrent
// use by multiple goroutines and never block on I/O; one instance is created
// per data domain (contract metadata, spam predictions) and lives for the
// process lifetime.
//
// A cached value carries a hasData flag so that "upstream confirmed no data
// exists" is itself cacheable, distinct from a miss.
type Cache[K comparable, V any] struct {
	shards  []*shard[K, V]
	hash    util.Hasher[K]
	opt     Options[K]
	sweepAt int // 90% of MaxEntries; proactive expired sweep threshold

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_         util.CacheLinePad
	hits      util.PaddedAtomicUint64
	misses    util.PaddedAtomicUint64
	stores    util.PaddedAtomicUint64
	evictions util.PaddedAtomicUint64
	expired   util.PaddedAtomicUint64

	prov providerCounters
}

// shard is an independent partition of the cache with its own lock and map.
// There is no access-ordered list: eviction ranks entries by a scan over
// effective times, so reads only touch the entry itself.
type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]*entry[V]
}

// New constructs a Cache with the provided Options. See Options for the
// defaults applied to zero fields.
func New[K comparable, V any](opt Options[K]) *Cache[K, V] {
	if opt.TTL <= 0 {
		opt.TTL = DefaultTTL
	}
	if opt.MaxEntries <= 0 {
		opt.MaxEntries = DefaultMaxEntries
	}
	if opt.AccessAgingCap == 0 {
		opt.AccessAgingCap = DefaultAccessAgingCap
	}
	if opt.Hasher == nil {
		opt.Hasher = util.DefaultHasher[K]
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	shards := make([]*shard[K, V], sh)
	for i := range shards {
		shards[i] = &shard[K, V]{m: make(map[K]*entry[V])}
	}

	return &Cache[K, V]{
		shards:  shards,
		hash:    opt.Hasher,
		opt:     opt,
		sweepAt: opt.MaxEntries * 9 / 10,
	}
}

// Get returns the cached value for key.
//
// hit=false means a miss (absent or expired). On hit, hasData=false means the
// cached result is "upstream confirmed no data". A hit increments the entry's
// access count and the hit counters; an expired entry is removed, counted as
// expired, and then falls through to a miss.
func (c *Cache[K, V]) Get(key K) (val V, hasData bool, hit bool) {
	s := c.shard(key)

	s.mu.Lock()
	e, ok := s.m[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return val, false, false
	}
	if e.expired(c.now(), c.opt.TTL) {
		delete(s.m, key)
		s.mu.Unlock()

		c.expired.Add(1)
		c.prov.get(e.provider).expired.Add(1)
		c.opt.Metrics.Evict(EvictTTL, e.provider)
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		return val, false, false
	}
	e.access++
	val, hasData = e.val, e.hasData
	p := e.provider
	s.mu.Unlock()

	c.hits.Add(1)
	c.prov.get(p).hits.Add(1)
	c.opt.Metrics.Hit(p)
	return val, hasData, true
}

// Store inserts or overwrites the entry for key with a fresh timestamp and a
// zero access count. Before inserting, the capacity bound is enforced: at or
// over MaxEntries one entry is evicted by the usage-weighted scan; at or over
// 90% of MaxEntries all expired entries are swept instead, a cheap amortized
// cleanup that keeps normal expiry churn away from the hard cap.
//
// The capacity check and the insert are not atomic with respect to concurrent
// Stores; the count may transiently overshoot MaxEntries by a small bounded
// amount until the next Store corrects it.
func (c *Cache[K, V]) Store(key K, val V, hasData bool, p ProviderID) {
	if n := c.Len(); n >= c.opt.MaxEntries {
		c.evictOne()
	} else if n >= c.sweepAt {
		c.sweepExpired()
	}

	s := c.shard(key)
	s.mu.Lock()
	s.m[key] = &entry[V]{val: val, hasData: hasData, cachedAt: c.now(), provider: p}
	s.mu.Unlock()

	c.stores.Add(1)
	c.prov.get(p).stores.Add(1)
	c.opt.Metrics.Store(p)
	c.opt.Metrics.Size(c.Len())
}

// CleanupExpired removes every expired entry and returns the count removed.
// Safe to call concurrently with Get/Store; intended as an operator-invoked
// or scheduled maintenance hook.
func (c *Cache[K, V]) CleanupExpired() int {
	return c.sweepExpired()
}

// Len returns the number of resident entries across all shards.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// ClearAll removes every entry and resets all statistics counters.
func (c *Cache[K, V]) ClearAll() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.m = make(map[K]*entry[V])
		s.mu.Unlock()
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.stores.Store(0)
	c.evictions.Store(0)
	c.expired.Store(0)
	c.prov.reset()
	c.opt.Metrics.Size(0)
}

// Stats returns a snapshot of counters and freshly derived metrics.
func (c *Cache[K, V]) Stats() Stats {
	entries := 0
	var accessSum uint64
	for _, s := range c.shards {
		s.mu.RLock()
		entries += len(s.m)
		for _, e := range s.m {
			accessSum += e.access
		}
		s.mu.RUnlock()
	}

	hits := c.hits.Load()
	misses := c.misses.Load()

	st := Stats{
		EntryCount:  entries,
		Hits:        hits,
		Misses:      misses,
		Stores:      c.stores.Load(),
		Evictions:   c.evictions.Load(),
		Expired:     c.expired.Load(),
		MaxCapacity: c.opt.MaxEntries,
		TTLSeconds:  uint64(c.opt.TTL / time.Second),
		Providers:   c.prov.snapshot(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	if c.opt.MaxEntries > 0 {
		st.UtilizationRate = float64(entries) / float64(c.opt.MaxEntries)
	}
	if entries > 0 {
		st.AvgAccessCount = float64(accessSum) / float64(entries)
	}
	return st
}

// -------------------- internals --------------------

// shard picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *Cache[K, V]) shard(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}

func (c *Cache[K, V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// evictOne removes the entry with the smallest effective time (ties broken by
// smaller access count). The scan is O(n) but runs only at the hard capacity
// boundary, which is rare relative to reads and writes.
//
// The scan and the removal are two phases: shards are read-locked one at a
// time while ranking, then only the victim's shard is write-locked. A racing
// Store may replace the victim between phases; removing the replacement is an
// accepted approximation.
func (c *Cache[K, V]) evictOne() {
	var (
		victimShard *shard[K, V]
		victimKey   K
		bestTime    int64
		bestAccess  uint64
		found       bool
	)

	for _, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.m {
			et := e.effectiveTime(c.opt.AccessAgingCap)
			if !found || et < bestTime || (et == bestTime && e.access < bestAccess) {
				victimShard, victimKey = s, k
				bestTime, bestAccess = et, e.access
				found = true
			}
		}
		s.mu.RUnlock()
	}
	if !found {
		return
	}

	victimShard.mu.Lock()
	e, ok := victimShard.m[victimKey]
	if ok {
		delete(victimShard.m, victimKey)
	}
	victimShard.mu.Unlock()
	if !ok {
		return
	}

	c.evictions.Add(1)
	c.prov.get(e.provider).evictions.Add(1)
	c.opt.Metrics.Evict(EvictCapacity, e.provider)
}

// sweepExpired removes all expired entries shard by shard and returns the
// total removed.
func (c *Cache[K, V]) sweepExpired() int {
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.m {
			if e.expired(now, c.opt.TTL) {
				delete(s.m, k)
				removed++
				c.expired.Add(1)
				c.prov.get(e.provider).expired.Add(1)
				c.opt.Metrics.Evict(EvictTTL, e.provider)
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.opt.Metrics.Size(c.Len())
	}
	return removed
}
