// Command nftguard serves the contract spam guard: cached metadata lookups
// over a failover provider registry, AI spam classification, and the HTTP
// API in front of both.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nftguard/nftguard/cache"
	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/config"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/metadata/moralis"
	"github.com/nftguard/nftguard/metadata/pinax"
	"github.com/nftguard/nftguard/metrics/prom"
	"github.com/nftguard/nftguard/predictor"
	"github.com/nftguard/nftguard/provider"
	"github.com/nftguard/nftguard/server"
	"github.com/nftguard/nftguard/service"
)

const cleanupInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := cfg.Logging.Logger()
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metadataCache := cache.New[metadata.Key, *metadata.ContractMetadata](cache.Options[metadata.Key]{
		TTL:            cfg.Metadata.TTL,
		MaxEntries:     cfg.Metadata.MaxEntries,
		AccessAgingCap: cfg.Metadata.AccessAgingCap,
		Hasher:         metadata.HashKey,
		Metrics:        prom.New(reg, "nftguard", "metadata_cache", nil),
	})
	predictionCache := cache.New[predictor.Key, predictor.Classification](cache.Options[predictor.Key]{
		TTL:            cfg.Predictions.TTL,
		MaxEntries:     cfg.Predictions.MaxEntries,
		AccessAgingCap: cfg.Predictions.AccessAgingCap,
		Hasher:         predictor.HashKey,
		Metrics:        prom.New(reg, "nftguard", "prediction_cache", nil),
	})

	providers, err := buildProviders(cfg, log)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry(log.With("component", "registry"), providers...)
	log.Info("providers registered", "providers", registry.Names())

	openaiClient, err := predictor.NewOpenAIClient(predictor.OpenAIConfig{
		BaseURL:       cfg.OpenAI.BaseURL,
		APIKey:        cfg.OpenAI.APIKey,
		Organization:  cfg.OpenAI.Organization,
		Timeout:       cfg.OpenAI.Timeout,
		HealthTimeout: cfg.OpenAI.HealthTimeout,
		MaxRetries:    cfg.OpenAI.MaxRetries,
	}, log.With("component", "openai"))
	if err != nil {
		return err
	}
	pred, err := predictor.New(predictor.Config{
		ModelType:     cfg.Predictor.ModelType,
		ModelVersion:  cfg.Predictor.ModelVersion,
		PromptVersion: cfg.Predictor.PromptVersion,
		Models:        cfg.Predictor.Models,
		Prompts:       cfg.Predictor.Prompts,
	}, openaiClient, predictionCache, log.With("component", "predictor"))
	if err != nil {
		return err
	}

	meta := service.NewMetadata(metadataCache, registry, log.With("component", "metadata"))
	status := service.NewStatus(meta, pred, log.With("component", "status"))

	srv := server.New(server.Options{
		Config:          cfg.Server,
		Status:          status,
		Metadata:        meta,
		PredictionStats: pred.CacheStats,
		Registry:        reg,
		Log:             log.With("component", "server"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		janitor(ctx, log, meta, pred)
		return nil
	})
	return g.Wait()
}

// buildProviders constructs the enabled metadata clients in failover order:
// Moralis first, Pinax as the fallback.
func buildProviders(cfg config.Config, log *slog.Logger) ([]provider.Provider[metadata.Key, *metadata.ContractMetadata], error) {
	var providers []provider.Provider[metadata.Key, *metadata.ContractMetadata]

	if cfg.Moralis.Enabled {
		c, err := moralis.New(moralis.Config{
			BaseURL:        cfg.Moralis.BaseURL,
			APIKey:         cfg.Moralis.APIKey,
			Timeout:        cfg.Moralis.Timeout,
			HealthTimeout:  cfg.Moralis.HealthTimeout,
			MaxRetries:     cfg.Moralis.MaxRetries,
			ChainOverrides: moralisOverrides(cfg.Moralis.ChainOverrides),
		}, log.With("component", "moralis"))
		if err != nil {
			return nil, fmt.Errorf("building moralis client: %w", err)
		}
		providers = append(providers, c)
	}
	if cfg.Pinax.Enabled {
		c, err := pinax.New(pinax.Config{
			Endpoint:       cfg.Pinax.Endpoint,
			User:           cfg.Pinax.User,
			Password:       cfg.Pinax.Password,
			DBName:         cfg.Pinax.DBName,
			Timeout:        cfg.Pinax.Timeout,
			HealthTimeout:  cfg.Pinax.HealthTimeout,
			MaxRetries:     cfg.Pinax.MaxRetries,
			ChainOverrides: pinaxOverrides(cfg.Pinax.ChainOverrides),
		}, log.With("component", "pinax"))
		if err != nil {
			return nil, fmt.Errorf("building pinax client: %w", err)
		}
		providers = append(providers, c)
	}
	return providers, nil
}

func moralisOverrides(in map[string]config.ChainOverride) map[chain.ID]moralis.ChainOverride {
	parsed := config.ParseChainOverrides(in)
	if len(parsed) == 0 {
		return nil
	}
	out := make(map[chain.ID]moralis.ChainOverride, len(parsed))
	for id, o := range parsed {
		out[id] = moralis.ChainOverride{BaseURL: o.BaseURL, Timeout: o.Timeout}
	}
	return out
}

func pinaxOverrides(in map[string]config.ChainOverride) map[chain.ID]pinax.ChainOverride {
	parsed := config.ParseChainOverrides(in)
	if len(parsed) == 0 {
		return nil
	}
	out := make(map[chain.ID]pinax.ChainOverride, len(parsed))
	for id, o := range parsed {
		out[id] = pinax.ChainOverride{DBName: o.DBName, Timeout: o.Timeout}
	}
	return out
}

// janitor sweeps expired entries out of both caches so memory tracks the
// live working set between organic evictions.
func janitor(ctx context.Context, log *slog.Logger, meta *service.Metadata, pred *predictor.Predictor) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := meta.CleanupCache() + pred.CleanupCache()
			if removed > 0 {
				log.Debug("cache cleanup", "removed", removed)
			}
		}
	}
}
