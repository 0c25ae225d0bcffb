package cache

import (
	"time"

	"github.com/nftguard/nftguard/internal/util"
)

// Default settings match the production deployment profile for contract
// metadata: long-lived entries, tens of thousands of contracts resident.
const (
	DefaultTTL            = 6 * time.Hour
	DefaultMaxEntries     = 50_000
	DefaultAccessAgingCap = 1000
)

// ProviderID tags a cache entry with the upstream that produced it.
// Used only for per-provider statistics and metrics labels.
type ProviderID string

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity — removed by the usage-weighted scan to satisfy MaxEntries.
	EvictCapacity EvictReason = iota
	// EvictTTL — expired by TTL (lazy removal on read or during a sweep).
	EvictTTL
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit(p ProviderID)
	Miss()
	Store(p ProviderID)
	Evict(r EvictReason, p ProviderID)
	Size(entries int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Zero values are safe;
// sane defaults are applied in New():
//   - TTL <= 0            => DefaultTTL
//   - MaxEntries <= 0     => DefaultMaxEntries
//   - AccessAgingCap == 0 => DefaultAccessAgingCap
//   - Shards <= 0         => auto (rounded up to power of two)
//   - nil Hasher          => util.DefaultHasher (scalar keys only)
//   - nil Metrics         => NoopMetrics
type Options[K comparable] struct {
	// TTL is the maximum entry age; liveness is evaluated lazily on read and
	// during sweeps, never by a background timer.
	TTL time.Duration

	// MaxEntries is the capacity bound enforced after every Store.
	MaxEntries int

	// AccessAgingCap bounds the eviction bias, in milliseconds: an entry's
	// effective time is cachedAt + min(accessCount, AccessAgingCap)ms.
	// Capping keeps a very hot entry from skewing the ordering forever.
	AccessAgingCap uint64

	// Shards defines the number of shards. If 0, an automatic value is chosen
	// (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Hasher maps keys to shards. Composite domain keys supply their own.
	Hasher util.Hasher[K]

	// Metrics receives hit/miss/store/evict/size signals.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit(ProviderID)                {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Store(ProviderID)              {}
func (NoopMetrics) Evict(EvictReason, ProviderID) {}
func (NoopMetrics) Size(int)                      {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
