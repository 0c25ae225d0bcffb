package server

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nftguard/nftguard/config"
)

// ipLimiter rate-limits requests per client IP with a token bucket each.
// The bucket refills at the configured per-minute rate and allows a burst of
// one minute's quota, approximating the fixed window the limit is expressed
// in.
//
// The client map is bounded: past maxEntries the least-recently-seen half is
// dropped, so an address-spraying client can't grow it without limit.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	limit      rate.Limit
	burst      int
	maxEntries int
	enabled    bool

	now func() time.Time // test hook
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(cfg config.RateLimit) *ipLimiter {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &ipLimiter{
		clients:    make(map[string]*clientBucket),
		limit:      rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:      cfg.RequestsPerMinute,
		maxEntries: maxEntries,
		enabled:    cfg.Enabled,
		now:        time.Now,
	}
}

// Allow reports whether a request from ip may proceed.
func (l *ipLimiter) Allow(ip string) bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	cb, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= l.maxEntries {
			l.evictOldestLocked()
		}
		cb = &clientBucket{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cb
	}
	cb.lastSeen = l.now()
	l.mu.Unlock()

	return cb.bucket.Allow()
}

// evictOldestLocked drops the least-recently-seen half of the client map.
// Called with mu held when the map is full.
func (l *ipLimiter) evictOldestLocked() {
	type seen struct {
		ip string
		at time.Time
	}
	entries := make([]seen, 0, len(l.clients))
	for ip, cb := range l.clients {
		entries = append(entries, seen{ip: ip, at: cb.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	for _, e := range entries[:len(entries)/2] {
		delete(l.clients, e.ip)
	}
}

// size returns the tracked client count.
func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
