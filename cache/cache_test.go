package cache

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t }
func (f *fakeClock) add(d time.Duration) { f.t += int64(d) }

// Uses a fake clock to avoid timing flakiness.
// An entry is live strictly while now - cachedAt < TTL.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, string](Options[string]{TTL: 100 * time.Millisecond, MaxEntries: 4, Clock: clk})

	c.Store("x", "v", true, "moralis")
	if _, _, hit := c.Get("x"); !hit {
		t.Fatal("fresh miss")
	}

	clk.add(99 * time.Millisecond)
	if _, _, hit := c.Get("x"); !hit {
		t.Fatal("miss just before the deadline")
	}

	clk.add(1 * time.Millisecond) // age == TTL: expired
	if _, _, hit := c.Get("x"); hit {
		t.Fatal("expired hit")
	}

	st := c.Stats()
	if st.Expired != 1 {
		t.Fatalf("expired counter want 1, got %d", st.Expired)
	}
	if st.Providers["moralis"].Expired != 1 {
		t.Fatalf("per-provider expired want 1, got %d", st.Providers["moralis"].Expired)
	}
}

// Wall-clock variant of TTL expiry.
func TestCache_TTL_RealClock(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string]{TTL: 10 * time.Millisecond, MaxEntries: 4})

	c.Store("x", 1, true, "pinax")
	if _, _, hit := c.Get("x"); !hit {
		t.Fatal("fresh miss")
	}
	time.Sleep(15 * time.Millisecond)
	if _, _, hit := c.Get("x"); hit {
		t.Fatal("expired hit")
	}
}

// A stored "no data" result is a hit with hasData=false,
// distinct from a true miss.
func TestCache_AbsenceIsCacheable(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string]{TTL: time.Hour, MaxEntries: 4})

	if _, _, hit := c.Get("gone"); hit {
		t.Fatal("expected a true miss before storing")
	}

	c.Store("gone", "", false, "moralis")

	val, hasData, hit := c.Get("gone")
	if !hit {
		t.Fatal("cached absence must be a hit")
	}
	if hasData {
		t.Fatalf("hasData must be false, got value %q", val)
	}
}

// After every completed Store the entry count never exceeds MaxEntries.
func TestCache_CapacityBound(t *testing.T) {
	t.Parallel()

	const capEntries = 8
	c := New[string, int](Options[string]{TTL: time.Hour, MaxEntries: capEntries})

	for i := 0; i < 100; i++ {
		c.Store(fmt.Sprintf("k:%d", i), i, true, "moralis")
		if n := c.Len(); n > capEntries {
			t.Fatalf("after store %d: len=%d exceeds cap %d", i, n, capEntries)
		}
	}
	if st := c.Stats(); st.Evictions == 0 {
		t.Fatal("expected evictions at capacity")
	}
}

// Usage-weighted eviction: the older-but-hotter entry survives,
// the newer-but-colder one is removed.
func TestCache_EvictionPrefersCold(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{TTL: time.Hour, MaxEntries: 2, Clock: clk})

	c.Store("a", 1, true, "moralis")
	c.Get("a") // access = 1
	c.Get("a") // access = 2
	c.Get("a") // access = 3

	c.Store("b", 2, true, "pinax")
	c.Get("b") // access = 1

	c.Store("c", 3, true, "moralis") // at capacity: evict b (effective time 1ms < a's 3ms)

	if _, _, hit := c.Get("a"); !hit {
		t.Fatal("a must survive (higher access bias)")
	}
	if _, _, hit := c.Get("b"); hit {
		t.Fatal("b must be evicted")
	}
	if _, _, hit := c.Get("c"); !hit {
		t.Fatal("c must be resident")
	}

	st := c.Stats()
	if st.Evictions != 1 {
		t.Fatalf("evictions want 1, got %d", st.Evictions)
	}
	if st.Providers["pinax"].Evictions != 1 {
		t.Fatalf("pinax evictions want 1, got %d", st.Providers["pinax"].Evictions)
	}
}

// Equal effective times are broken by the smaller access count.
func TestCache_EvictionTieBreak(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{TTL: time.Hour, MaxEntries: 2, Clock: clk})

	c.Store("a", 1, true, "moralis") // cachedAt = 0
	c.Get("a")
	c.Get("a") // effective time = 2ms, access = 2

	clk.add(time.Millisecond)
	c.Store("b", 2, true, "moralis") // cachedAt = 1ms
	c.Get("b")                       // effective time = 2ms, access = 1

	c.Store("c", 3, true, "moralis") // tie at 2ms: evict b (access 1 < 2)

	if _, _, hit := c.Get("a"); !hit {
		t.Fatal("a must survive the tie")
	}
	if _, _, hit := c.Get("b"); hit {
		t.Fatal("b must lose the tie")
	}
}

// The aging bias is capped: a very hot old entry still loses to a fresh one
// once its bias saturates.
func TestCache_AccessAgingCap(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{
		TTL:            time.Hour,
		MaxEntries:     2,
		AccessAgingCap: 2, // bias saturates at 2ms
		Clock:          clk,
	})

	c.Store("hot", 1, true, "moralis")
	for i := 0; i < 10; i++ {
		c.Get("hot") // effective time capped at 2ms
	}

	clk.add(5 * time.Millisecond)
	c.Store("fresh", 2, true, "moralis") // effective time 5ms

	c.Store("next", 3, true, "moralis") // evicts hot: 2ms < 5ms despite 10 accesses

	if _, _, hit := c.Get("hot"); hit {
		t.Fatal("hot must be evicted once its bias saturates")
	}
	if _, _, hit := c.Get("fresh"); !hit {
		t.Fatal("fresh must survive")
	}
}

// One miss, then a store-then-hit: hits=1, misses=1, hit rate 0.5.
func TestCache_HitRateAccounting(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string]{TTL: time.Hour, MaxEntries: 4})

	if st := c.Stats(); st.HitRate != 0 {
		t.Fatalf("fresh store hit rate want 0, got %v", st.HitRate)
	}

	c.Get("k")                     // miss
	c.Store("k", 1, true, "pinax") // store
	c.Get("k")                     // hit

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Stores != 1 {
		t.Fatalf("counters want 1/1/1, got hits=%d misses=%d stores=%d", st.Hits, st.Misses, st.Stores)
	}
	if st.HitRate != 0.5 {
		t.Fatalf("hit rate want 0.5, got %v", st.HitRate)
	}
	if st.Providers["pinax"].Hits != 1 {
		t.Fatalf("pinax hits want 1, got %d", st.Providers["pinax"].Hits)
	}
}

// Derived metrics are recomputed per call.
func TestCache_StatsDerived(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string]{TTL: 90 * time.Second, MaxEntries: 10})

	c.Store("a", 1, true, "moralis")
	c.Store("b", 2, true, "moralis")
	c.Get("a")
	c.Get("a")

	st := c.Stats()
	if st.EntryCount != 2 {
		t.Fatalf("entry count want 2, got %d", st.EntryCount)
	}
	if st.UtilizationRate != 0.2 {
		t.Fatalf("utilization want 0.2, got %v", st.UtilizationRate)
	}
	if st.AvgAccessCount != 1.0 { // (2+0)/2
		t.Fatalf("avg access want 1.0, got %v", st.AvgAccessCount)
	}
	if st.MaxCapacity != 10 || st.TTLSeconds != 90 {
		t.Fatalf("config echo wrong: %+v", st)
	}
}

// Overwriting a key refreshes cachedAt and resets the access count.
func TestCache_OverwriteResets(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{TTL: 100 * time.Millisecond, MaxEntries: 4, Clock: clk})

	c.Store("k", 1, true, "moralis")
	c.Get("k")
	c.Get("k")

	clk.add(90 * time.Millisecond)
	c.Store("k", 2, true, "pinax") // refresh

	clk.add(90 * time.Millisecond) // 180ms after first store, 90ms after refresh
	v, _, hit := c.Get("k")
	if !hit || v != 2 {
		t.Fatalf("refreshed entry must be live with new value, got v=%d hit=%v", v, hit)
	}

	st := c.Stats()
	if st.Stores != 2 {
		t.Fatalf("stores want 2, got %d", st.Stores)
	}
	if st.AvgAccessCount != 1.0 { // reset to 0 by refresh, then one Get
		t.Fatalf("avg access want 1.0 after refresh+get, got %v", st.AvgAccessCount)
	}
}

// CleanupExpired removes exactly the expired entries and reports the count.
func TestCache_CleanupExpired(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{TTL: 50 * time.Millisecond, MaxEntries: 10, Clock: clk})

	c.Store("a", 1, true, "moralis")
	c.Store("b", 2, true, "pinax")
	clk.add(30 * time.Millisecond)
	c.Store("c", 3, true, "moralis")

	clk.add(30 * time.Millisecond) // a, b expired (60ms); c live (30ms)

	if removed := c.CleanupExpired(); removed != 2 {
		t.Fatalf("removed want 2, got %d", removed)
	}
	if n := c.Len(); n != 1 {
		t.Fatalf("len want 1, got %d", n)
	}
	if removed := c.CleanupExpired(); removed != 0 {
		t.Fatalf("second cleanup want 0, got %d", removed)
	}
	if st := c.Stats(); st.Expired != 2 {
		t.Fatalf("expired counter want 2, got %d", st.Expired)
	}
}

// Near the capacity threshold, Store sweeps expired entries instead of
// evicting live ones.
func TestCache_ProactiveSweepNearCapacity(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := New[string, int](Options[string]{TTL: 50 * time.Millisecond, MaxEntries: 10, Clock: clk})

	for i := 0; i < 9; i++ { // fill to the 90% threshold
		c.Store(fmt.Sprintf("old:%d", i), i, true, "moralis")
	}
	clk.add(60 * time.Millisecond) // all expired

	c.Store("new", 1, true, "pinax") // triggers the sweep, not an eviction

	if n := c.Len(); n != 1 {
		t.Fatalf("len want 1 after sweep, got %d", n)
	}
	st := c.Stats()
	if st.Evictions != 0 {
		t.Fatalf("no capacity evictions expected, got %d", st.Evictions)
	}
	if st.Expired != 9 {
		t.Fatalf("expired want 9, got %d", st.Expired)
	}
}

// ClearAll drops entries and statistics.
func TestCache_ClearAll(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string]{TTL: time.Hour, MaxEntries: 4})

	c.Store("a", 1, true, "moralis")
	c.Get("a")
	c.Get("zzz")

	c.ClearAll()

	st := c.Stats()
	if st.EntryCount != 0 || st.Hits != 0 || st.Misses != 0 || st.Stores != 0 {
		t.Fatalf("stats not reset: %+v", st)
	}
	if len(st.Providers) != 0 {
		t.Fatalf("provider counters not reset: %+v", st.Providers)
	}
}

// Composite struct keys work with a custom hasher.
func TestCache_CustomHasher(t *testing.T) {
	t.Parallel()

	type key struct {
		a string
		b uint64
	}
	c := New[key, string](Options[key]{
		TTL:        time.Hour,
		MaxEntries: 16,
		Hasher: func(k key) uint64 {
			return k.b ^ uint64(len(k.a))
		},
	})

	k := key{a: "x", b: 7}
	c.Store(k, "v", true, "pinax")
	if v, _, hit := c.Get(k); !hit || v != "v" {
		t.Fatalf("want hit with v, got %q hit=%v", v, hit)
	}
	if _, _, hit := c.Get(key{a: "x", b: 8}); hit {
		t.Fatal("distinct key must miss")
	}
}
