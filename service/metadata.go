// Package service composes the cache, provider registry and predictor into
// the operations the HTTP layer serves.
package service

import (
	"context"
	"log/slog"

	"github.com/nftguard/nftguard/cache"
	"github.com/nftguard/nftguard/internal/singleflight"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/provider"
)

// Metadata serves contract metadata lookups: cache first, then the failover
// registry, with concurrent lookups for the same key coalesced into one
// upstream flight.
type Metadata struct {
	cache    *cache.Cache[metadata.Key, *metadata.ContractMetadata]
	registry *provider.Registry[metadata.Key, *metadata.ContractMetadata]
	group    singleflight.Group[metadata.Key, lookup]
	log      *slog.Logger
}

type lookup struct {
	meta    *metadata.ContractMetadata
	hasData bool
}

// NewMetadata builds the metadata service. A nil logger falls back to
// slog.Default().
func NewMetadata(
	c *cache.Cache[metadata.Key, *metadata.ContractMetadata],
	r *provider.Registry[metadata.Key, *metadata.ContractMetadata],
	log *slog.Logger,
) *Metadata {
	if log == nil {
		log = slog.Default()
	}
	return &Metadata{cache: c, registry: r, log: log}
}

// Lookup returns the contract's metadata, or (nil, false, nil) when the
// providers confirmed there is none. Cached results — including confirmed
// absence — are served without touching upstream. Registry errors are not
// cached, so the next call retries.
func (s *Metadata) Lookup(ctx context.Context, key metadata.Key) (*metadata.ContractMetadata, bool, error) {
	if m, hasData, hit := s.cache.Get(key); hit {
		return m, hasData, nil
	}

	res, err := s.group.Do(ctx, key, func(ctx context.Context) (lookup, error) {
		// A just-finished flight may have filled the cache between our miss
		// and becoming leader.
		if m, hasData, hit := s.cache.Get(key); hit {
			return lookup{meta: m, hasData: hasData}, nil
		}

		m, source, hasData, err := s.registry.FetchWithSource(ctx, key)
		if err != nil {
			return lookup{}, err
		}
		s.cache.Store(key, m, hasData, cache.ProviderID(source))
		s.log.Debug("metadata fetched",
			"address", key.Address, "chain", key.Chain,
			"source", source, "has_data", hasData)
		return lookup{meta: m, hasData: hasData}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.meta, res.hasData, nil
}

// ProviderHealth probes all registered providers concurrently.
func (s *Metadata) ProviderHealth(ctx context.Context) map[string]provider.Health {
	return s.registry.OverallHealth(ctx)
}

// CacheStats exposes the metadata cache counters.
func (s *Metadata) CacheStats() cache.Stats { return s.cache.Stats() }

// CleanupCache removes expired metadata entries and returns the count
// removed.
func (s *Metadata) CleanupCache() int { return s.cache.CleanupExpired() }
