package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrNoProviders is returned by Fetch when the registry is empty. This is a
// configuration-time condition, not retryable.
var ErrNoProviders = errors.New("no providers registered")

// ErrNoHealthyProviders is returned by Fetch when every provider reported
// Down from its health probe, so no fetch was attempted and no error was
// recorded. Distinct from AllFailedError, which requires at least one
// recorded failure.
var ErrNoHealthyProviders = errors.New("no healthy providers")

// AllFailedError reports that every provider either failed its probe or
// erred on fetch. Failures carries each provider's error, tagged by name,
// so a single error summarizes every upstream failure.
type AllFailedError struct {
	Failures *multierror.Error
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all providers failed: %v", e.Failures)
}

func (e *AllFailedError) Unwrap() error { return e.Failures }

// Registry routes fetches across an ordered, immutable list of providers.
// Health is probed fresh on every call; nothing sticks between calls.
type Registry[K any, V any] struct {
	providers []Provider[K, V]
	log       *slog.Logger
}

// NewRegistry builds a registry trying providers in the given order.
// A nil logger falls back to slog.Default().
func NewRegistry[K any, V any](log *slog.Logger, providers ...Provider[K, V]) *Registry[K, V] {
	if log == nil {
		log = slog.Default()
	}
	return &Registry[K, V]{
		providers: providers,
		log:       log,
	}
}

// Len returns the number of registered providers.
func (r *Registry[K, V]) Len() int { return len(r.providers) }

// Names returns provider names in registration (i.e. priority) order.
func (r *Registry[K, V]) Names() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Fetch tries each provider in order until one returns data.
//
// Per provider: the health probe runs first. A probe error is recorded and
// the provider skipped; Down skips silently; Up or Degraded proceeds to the
// fetch. A fetch returning data short-circuits the whole call. A fetch
// confirming no-data moves on to the next provider, since another source
// may still have the key. A fetch error is recorded, tagged with the
// provider name, and iteration continues.
//
// After exhausting all providers: any recorded error yields AllFailedError
// carrying all of them; otherwise a confirmed no-data from at least one
// tried provider yields (zero, false, nil); otherwise every provider was
// Down and the result is ErrNoHealthyProviders.
func (r *Registry[K, V]) Fetch(ctx context.Context, key K) (V, bool, error) {
	val, _, ok, err := r.FetchWithSource(ctx, key)
	return val, ok, err
}

// FetchWithSource is Fetch plus the name of the provider that settled the
// call: the one that returned data, or the first to confirm absence. Callers
// caching the result use it to attribute the entry. Empty on error.
func (r *Registry[K, V]) FetchWithSource(ctx context.Context, key K) (V, string, bool, error) {
	var zero V
	if len(r.providers) == 0 {
		return zero, "", false, ErrNoProviders
	}

	var (
		failures     *multierror.Error
		noDataSource string
	)
	for _, p := range r.providers {
		h, err := p.HealthCheck(ctx)
		if err != nil {
			r.log.Warn("provider health check failed",
				"provider", p.Name(), "error", err)
			failures = multierror.Append(failures,
				fmt.Errorf("%s: health check failed: %w", p.Name(), err))
			continue
		}
		if !h.Available() {
			r.log.Debug("provider down, skipping",
				"provider", p.Name(), "reason", h.Reason)
			continue
		}
		if h.Status == StatusDegraded {
			r.log.Debug("provider degraded, trying anyway",
				"provider", p.Name(), "reason", h.Reason)
		}

		val, ok, err := p.Fetch(ctx, key)
		if err != nil {
			r.log.Warn("provider fetch failed",
				"provider", p.Name(), "error", err)
			failures = multierror.Append(failures,
				fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if ok {
			return val, p.Name(), true, nil
		}
		if noDataSource == "" {
			noDataSource = p.Name()
		}
	}

	if failures != nil {
		return zero, "", false, &AllFailedError{Failures: failures}
	}
	if noDataSource != "" {
		return zero, noDataSource, false, nil
	}
	return zero, "", false, ErrNoHealthyProviders
}

// OverallHealth probes every provider concurrently and returns a name-keyed
// snapshot. Latency is bounded by the slowest probe, not the sum. A probe
// that itself errors is reported as Down rather than omitted, and a failing
// probe never cancels its siblings.
func (r *Registry[K, V]) OverallHealth(ctx context.Context) map[string]Health {
	out := make(map[string]Health, len(r.providers))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, p := range r.providers {
		p := p
		g.Go(func() error {
			h, err := p.HealthCheck(ctx)
			if err != nil {
				h = Down(fmt.Sprintf("health check failed: %v", err))
			}
			mu.Lock()
			out[p.Name()] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
