// Package singleflight coalesces concurrent lookups for the same key so an
// upstream fetch runs at most once while duplicates wait for the shared
// result.
package singleflight

import (
	"context"
	"sync"
)

// Group deduplicates in-flight work by key. The first caller for a key
// becomes the leader and runs fn; later callers for the same key block until
// the leader publishes its result.
//
// A follower's ctx cancels only that follower's wait, never the leader's fn.
// Cancellation of the work itself must be threaded through fn.
type Group[K comparable, V any] struct {
	mu       sync.Mutex
	inflight map[K]*flight[V]
}

type flight[V any] struct {
	done chan struct{} // closed after val/err are set
	val  V
	err  error
}

// Do executes fn once per key among concurrent callers and returns the
// shared (V, error). Publishing happens-before close(done), so followers
// reading after <-done observe the final values.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (V, error) {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[K]*flight[V])
	}
	if f, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	f := &flight[V]{done: make(chan struct{})}
	g.inflight[key] = f
	g.mu.Unlock()

	// Leader path. fn runs outside the group lock.
	f.val, f.err = fn(ctx)
	close(f.done)

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()

	return f.val, f.err
}
