// Package moralis implements the provider contract against the Moralis NFT
// API.
package moralis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/provider"
)

// Name is the stable provider identifier used in stats and health maps.
const Name = "moralis"

const (
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultMaxRetries    = 3
)

var (
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("moralis: authentication failed")
	// ErrRateLimited means the API throttled us after retries.
	ErrRateLimited = errors.New("moralis: rate limited")
)

// StatusError is an unexpected upstream HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("moralis: unexpected status %d: %s", e.StatusCode, e.Body)
}

// ChainOverride carries per-chain deviations from the base config. Zero
// fields fall back to the base values.
type ChainOverride struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config configures the Moralis client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	HealthTimeout  time.Duration
	MaxRetries     int
	ChainOverrides map[chain.ID]ChainOverride
}

// Client talks to the Moralis NFT API and implements
// provider.Provider[metadata.Key, *metadata.ContractMetadata].
//
// Fetches go through a retrying HTTP client (backoff on 429/5xx); the health
// probe uses a plain client with its own shorter timeout so a probe never
// sits in a retry loop.
type Client struct {
	cfg   Config
	http  *http.Client // retrying, for fetches
	probe *http.Client // plain, for health checks
	log   *slog.Logger
}

// New validates cfg and builds a client. A nil logger falls back to
// slog.Default().
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("moralis: base URL required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("moralis: API key required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// Retry only transport errors and 5xx. 401/404/429 carry meaning for the
	// caller and must surface on the first response.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode >= http.StatusInternalServerError, nil
	}

	return &Client{
		cfg:   cfg,
		http:  rc.StandardClient(),
		probe: &http.Client{Timeout: cfg.HealthTimeout},
		log:   log.With("provider", Name),
	}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return Name }

// chainSlug maps a chain to Moralis's chain query parameter.
func chainSlug(id chain.ID) (string, error) {
	switch id {
	case chain.Ethereum:
		return "eth", nil
	case chain.Polygon:
		return "polygon", nil
	case chain.Base:
		return "base", nil
	case chain.Arbitrum:
		return "arbitrum", nil
	case chain.Avalanche:
		return "avalanche", nil
	}
	return "", fmt.Errorf("moralis: %w: %d", chain.ErrUnsupported, uint64(id))
}

// effective resolves the base URL and timeout for a chain, applying any
// per-chain override.
func (c *Client) effective(id chain.ID) (baseURL string, timeout time.Duration) {
	baseURL, timeout = c.cfg.BaseURL, c.cfg.Timeout
	if o, ok := c.cfg.ChainOverrides[id]; ok {
		if o.BaseURL != "" {
			baseURL = o.BaseURL
		}
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
	}
	return baseURL, timeout
}

// HealthCheck probes the endpointWeights endpoint. Status mapping: 200 up,
// 401 down (bad key won't heal on its own), 429 and everything else
// degraded (the API is alive, just complaining).
func (c *Client) HealthCheck(ctx context.Context) (provider.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/info/endpointWeights", nil)
	if err != nil {
		return provider.Health{}, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.probe.Do(req)
	if err != nil {
		return provider.Health{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		c.log.Debug("health check passed", "elapsed", time.Since(start))
		return provider.Up(), nil
	case http.StatusUnauthorized:
		return provider.Down("Authentication failed"), nil
	case http.StatusTooManyRequests:
		return provider.Degraded("Rate limited"), nil
	default:
		return provider.Degraded(fmt.Sprintf("API returned status %d", resp.StatusCode)), nil
	}
}

// nftsResponse is the contract NFTs endpoint payload.
type nftsResponse struct {
	Result []nftItem `json:"result"`
}

type nftItem struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	ContractType string `json:"contract_type"`
	TokenHash    string `json:"token_hash"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
}

// Fetch retrieves contract metadata via the contract NFTs endpoint. A 404 or
// an empty result set is a confirmed no-data, not an error.
func (c *Client) Fetch(ctx context.Context, key metadata.Key) (*metadata.ContractMetadata, bool, error) {
	slug, err := chainSlug(key.Chain)
	if err != nil {
		return nil, false, err
	}
	baseURL, timeout := c.effective(key.Chain)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("chain", slug)
	q.Set("format", "decimal")
	q.Set("limit", "1")
	q.Set("normalizeMetadata", "true")
	u := fmt.Sprintf("%s/nft/%s?%s", baseURL, key.Address.Hex(), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out nftsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, false, fmt.Errorf("moralis: decoding response: %w", err)
		}
		if len(out.Result) == 0 {
			c.log.Debug("no NFTs for contract", "address", key.Address, "chain", key.Chain)
			return nil, false, nil
		}
		return c.convert(key, out.Result[0]), true, nil
	case http.StatusNotFound:
		return nil, false, nil
	case http.StatusUnauthorized:
		return nil, false, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, false, ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// convert maps a Moralis NFT item onto the normalized metadata model.
func (c *Client) convert(key metadata.Key, item nftItem) *metadata.ContractMetadata {
	m := &metadata.ContractMetadata{
		Address: key.Address,
		Chain:   key.Chain,
		Name:    item.Name,
		Symbol:  item.Symbol,
	}
	if item.ContractType != "" {
		m.ContractType = metadata.ParseContractType(item.ContractType)
		m.Extra = map[string]any{"contract_type": item.ContractType}
	}
	if item.TokenHash != "" {
		if m.Extra == nil {
			m.Extra = map[string]any{}
		}
		m.Extra["token_hash"] = item.TokenHash
	}
	return m
}

var _ provider.Provider[metadata.Key, *metadata.ContractMetadata] = (*Client)(nil)
