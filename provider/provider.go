// Package provider defines the upstream data-source contract and a failover
// registry that routes fetches across an ordered list of providers.
package provider

import "context"

// Provider is anything that can report its own health and fetch a value for
// a key. HTTP clients to external APIs implement this.
//
// Fetch returns (value, true, nil) on data, (zero, false, nil) when the
// provider authoritatively confirms there is no data for the key, and a
// non-nil error on failure. Confirmed absence is not an error.
//
// HealthCheck must not block indefinitely; implementations are expected to
// enforce their own timeouts.
type Provider[K any, V any] interface {
	// Name is a stable identifier used in stats, logs and health maps.
	Name() string

	HealthCheck(ctx context.Context) (Health, error)

	Fetch(ctx context.Context, key K) (V, bool, error)
}
