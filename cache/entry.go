package cache

import "time"

// entry is the per-key bookkeeping record owned by a shard.
// A cached "confirmed absent" result is an entry with hasData=false,
// distinct from the key not being present at all.
type entry[V any] struct {
	val     V
	hasData bool

	// cachedAt is the insertion timestamp in UnixNano; never mutated.
	cachedAt int64

	// access counts successful reads; its contribution to eviction
	// ordering is capped, so overflow is a non-issue in practice.
	access uint64

	// provider identifies the upstream that produced the value.
	provider ProviderID
}

// expired reports whether the entry's age has reached ttl at time now.
func (e *entry[V]) expired(now int64, ttl time.Duration) bool {
	return now-e.cachedAt >= int64(ttl)
}

// effectiveTime is the usage-weighted eviction rank: insertion time biased
// forward by one millisecond per access, capped at agingCap milliseconds.
// A just-inserted-but-hot entry thereby outranks an old cold one without
// the cache maintaining an access-ordered list.
func (e *entry[V]) effectiveTime(agingCap uint64) int64 {
	bias := e.access
	if bias > agingCap {
		bias = agingCap
	}
	return e.cachedAt + int64(bias)*int64(time.Millisecond)
}
