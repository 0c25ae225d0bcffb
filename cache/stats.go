package cache

import (
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of cache counters and derived metrics.
// All derived fields are computed fresh on every Stats() call.
type Stats struct {
	EntryCount int    `json:"entry_count"`
	Hits       uint64 `json:"cache_hits"`
	Misses     uint64 `json:"cache_misses"`
	Stores     uint64 `json:"cache_stores"`
	Evictions  uint64 `json:"cache_evictions"`
	Expired    uint64 `json:"cache_expired"`

	// HitRate is hits/(hits+misses), 0.0 before the first request.
	HitRate float64 `json:"hit_rate"`
	// UtilizationRate is entryCount/maxCapacity.
	UtilizationRate float64 `json:"utilization_rate"`
	// AvgAccessCount is the mean access count across resident entries.
	AvgAccessCount float64 `json:"avg_access_count"`

	MaxCapacity int    `json:"max_capacity"`
	TTLSeconds  uint64 `json:"ttl_seconds"`

	// Providers holds per-upstream counters, keyed by provider ID.
	Providers map[ProviderID]ProviderStats `json:"providers"`
}

// ProviderStats holds the per-upstream share of the cache counters.
type ProviderStats struct {
	Hits      uint64 `json:"hits"`
	Stores    uint64 `json:"stores"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// providerCounter is the live (atomic) form of ProviderStats.
type providerCounter struct {
	hits      atomic.Uint64
	stores    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

// providerCounters is a small map of counters keyed by provider ID.
// The map is bounded by the number of distinct providers ever stored,
// a handful in practice, so it never grows unbounded the way free-form
// string-keyed counters would.
type providerCounters struct {
	mu sync.RWMutex
	m  map[ProviderID]*providerCounter
}

// get returns the counter for p, creating it on first use.
func (pc *providerCounters) get(p ProviderID) *providerCounter {
	pc.mu.RLock()
	c, ok := pc.m[p]
	pc.mu.RUnlock()
	if ok {
		return c
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if c, ok = pc.m[p]; ok {
		return c
	}
	if pc.m == nil {
		pc.m = make(map[ProviderID]*providerCounter, 4)
	}
	c = &providerCounter{}
	pc.m[p] = c
	return c
}

// snapshot copies all per-provider counters into plain structs.
func (pc *providerCounters) snapshot() map[ProviderID]ProviderStats {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make(map[ProviderID]ProviderStats, len(pc.m))
	for p, c := range pc.m {
		out[p] = ProviderStats{
			Hits:      c.hits.Load(),
			Stores:    c.stores.Load(),
			Evictions: c.evictions.Load(),
			Expired:   c.expired.Load(),
		}
	}
	return out
}

// reset drops all per-provider counters.
func (pc *providerCounters) reset() {
	pc.mu.Lock()
	pc.m = nil
	pc.mu.Unlock()
}
