// Package config loads, defaults and validates the service configuration.
//
// Configuration comes from a YAML file, with environment variables
// overriding the secret-bearing fields so credentials stay out of config
// files. Validation collects every problem instead of stopping at the
// first.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/predictor"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "NFTGUARD_"

// Config is the root configuration.
type Config struct {
	Server      Server    `yaml:"server"`
	Logging     Logging   `yaml:"logging"`
	Metadata    CacheSpec `yaml:"metadata_cache"`
	Predictions CacheSpec `yaml:"prediction_cache"`
	Moralis     Moralis   `yaml:"moralis"`
	Pinax       Pinax     `yaml:"pinax"`
	OpenAI      OpenAI    `yaml:"openai"`
	Predictor   Predictor `yaml:"predictor"`
}

// Server configures the HTTP listener.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
}

// Addr returns the host:port bind address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimit configures the per-client request limiter.
type RateLimit struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	MaxEntries        int  `yaml:"max_entries"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Logger builds the slog.Logger the configuration describes.
func (l Logging) Logger() *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// CacheSpec sizes one cache domain.
type CacheSpec struct {
	TTL            time.Duration `yaml:"ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	AccessAgingCap uint64        `yaml:"access_aging_cap"`
}

// ChainOverride carries per-chain client deviations, keyed by chain name or
// numeric ID in YAML.
type ChainOverride struct {
	BaseURL string        `yaml:"base_url"`
	DBName  string        `yaml:"db_name"`
	Timeout time.Duration `yaml:"timeout"`
}

// Moralis configures the Moralis provider.
type Moralis struct {
	Enabled        bool                     `yaml:"enabled"`
	BaseURL        string                   `yaml:"base_url"`
	APIKey         string                   `yaml:"api_key"`
	Timeout        time.Duration            `yaml:"timeout"`
	HealthTimeout  time.Duration            `yaml:"health_timeout"`
	MaxRetries     int                      `yaml:"max_retries"`
	ChainOverrides map[string]ChainOverride `yaml:"chain_overrides"`
}

// Pinax configures the Pinax provider.
type Pinax struct {
	Enabled        bool                     `yaml:"enabled"`
	Endpoint       string                   `yaml:"endpoint"`
	User           string                   `yaml:"user"`
	Password       string                   `yaml:"password"`
	DBName         string                   `yaml:"db_name"`
	Timeout        time.Duration            `yaml:"timeout"`
	HealthTimeout  time.Duration            `yaml:"health_timeout"`
	MaxRetries     int                      `yaml:"max_retries"`
	ChainOverrides map[string]ChainOverride `yaml:"chain_overrides"`
}

// OpenAI configures the classification backend.
type OpenAI struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Organization  string        `yaml:"organization"`
	Timeout       time.Duration `yaml:"timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// Predictor selects the classification model and prompt and embeds their
// registries.
type Predictor struct {
	ModelType     string                   `yaml:"model_type"`
	ModelVersion  string                   `yaml:"model_version"`
	PromptVersion string                   `yaml:"prompt_version"`
	Models        predictor.ModelRegistry  `yaml:"models"`
	Prompts       predictor.PromptRegistry `yaml:"prompts"`
}

// Default returns the development defaults. Credentials are intentionally
// empty; they come from the file or the environment.
func Default() Config {
	return Config{
		Server: Server{
			Host:            "127.0.0.1",
			Port:            3000,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimit{
				Enabled:           true,
				RequestsPerMinute: 60,
				MaxEntries:        10_000,
			},
		},
		Logging: Logging{Level: "info", Format: "text"},
		Metadata: CacheSpec{
			TTL:        6 * time.Hour,
			MaxEntries: 50_000,
		},
		Predictions: CacheSpec{
			TTL:        24 * time.Hour,
			MaxEntries: 100_000,
		},
		Moralis: Moralis{
			Enabled: true,
			BaseURL: "https://deep-index.moralis.io/api/v2.2",
		},
		Pinax: Pinax{
			Enabled:  true,
			Endpoint: "https://api.pinax.network/sql",
			DBName:   "mainnet:evm-nft-tokens@v0.6.2",
		},
		OpenAI: OpenAI{
			BaseURL: "https://api.openai.com/v1",
		},
		Predictor: Predictor{
			ModelType:    "spam_classification",
			ModelVersion: "latest",
		},
	}
}

// Load reads the YAML file at path (optional: an empty path skips the
// file), applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides the secret-bearing and deployment-specific fields from
// the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "MORALIS_API_KEY"); v != "" {
		c.Moralis.APIKey = v
	}
	if v := os.Getenv(EnvPrefix + "PINAX_USER"); v != "" {
		c.Pinax.User = v
	}
	if v := os.Getenv(EnvPrefix + "PINAX_PASSWORD"); v != "" {
		c.Pinax.Password = v
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
}

// Validate collects every configuration problem into one error.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout <= 0 || c.Server.RequestTimeout > 5*time.Minute {
		errs = multierror.Append(errs, fmt.Errorf("server.request_timeout %s out of range (0, 5m]", c.Server.RequestTimeout))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("server.rate_limit.requests_per_minute must be positive when enabled"))
	}

	for name, spec := range map[string]CacheSpec{
		"metadata_cache":   c.Metadata,
		"prediction_cache": c.Predictions,
	} {
		if spec.TTL <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s.ttl must be positive", name))
		}
		if spec.MaxEntries <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s.max_entries must be positive", name))
		}
	}

	if !c.Moralis.Enabled && !c.Pinax.Enabled {
		errs = multierror.Append(errs, fmt.Errorf("at least one metadata provider must be enabled"))
	}
	if c.Moralis.Enabled && c.Moralis.APIKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("moralis.api_key required (or %sMORALIS_API_KEY)", EnvPrefix))
	}
	if c.Pinax.Enabled {
		if c.Pinax.User == "" {
			errs = multierror.Append(errs, fmt.Errorf("pinax.user required (or %sPINAX_USER)", EnvPrefix))
		}
		if c.Pinax.Password == "" {
			errs = multierror.Append(errs, fmt.Errorf("pinax.password required (or %sPINAX_PASSWORD)", EnvPrefix))
		}
		if c.Pinax.DBName == "" {
			errs = multierror.Append(errs, fmt.Errorf("pinax.db_name required"))
		}
	}
	if c.OpenAI.APIKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("openai.api_key required (or %sOPENAI_API_KEY)", EnvPrefix))
	}

	if len(c.Predictor.Models) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("predictor.models must not be empty"))
	}
	if len(c.Predictor.Prompts.Versions) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("predictor.prompts must define at least one version"))
	}

	for name, overrides := range map[string]map[string]ChainOverride{
		"moralis": c.Moralis.ChainOverrides,
		"pinax":   c.Pinax.ChainOverrides,
	} {
		for key := range overrides {
			if _, err := chain.Parse(key); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s.chain_overrides: %w", name, err))
			}
		}
	}

	return errs.ErrorOrNil()
}

// ParseChainOverrides resolves the string-keyed YAML overrides into
// chain-keyed form. Keys are validated by Validate, so this only returns
// entries that parse.
func ParseChainOverrides(in map[string]ChainOverride) map[chain.ID]ChainOverride {
	if len(in) == 0 {
		return nil
	}
	out := make(map[chain.ID]ChainOverride, len(in))
	for key, o := range in {
		id, err := chain.Parse(key)
		if err != nil {
			continue
		}
		out[id] = o
	}
	return out
}
