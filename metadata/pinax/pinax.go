// Package pinax implements the provider contract against the Pinax token
// analytics API, which serves blockchain data through SQL-over-HTTP.
package pinax

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/provider"
)

// Name is the stable provider identifier used in stats and health maps.
const Name = "pinax"

const (
	DefaultTimeout       = 20 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultMaxRetries    = 3
)

// ErrUnauthorized means the basic-auth credentials were rejected.
var ErrUnauthorized = errors.New("pinax: authentication failed")

// QueryError is an error reported inside an otherwise-successful SQL
// response body.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return "pinax: query error: " + e.Message
}

// StatusError is an unexpected upstream HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pinax: unexpected status %d: %s", e.StatusCode, e.Body)
}

// ChainOverride carries per-chain deviations from the base config. Pinax
// serves each chain out of its own database, so DBName is the common
// override.
type ChainOverride struct {
	DBName  string        `yaml:"db_name"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config configures the Pinax client.
type Config struct {
	Endpoint       string
	User           string
	Password       string
	DBName         string
	Timeout        time.Duration
	HealthTimeout  time.Duration
	MaxRetries     int
	ChainOverrides map[chain.ID]ChainOverride
}

// Client talks to the Pinax SQL endpoint and implements
// provider.Provider[metadata.Key, *metadata.ContractMetadata].
type Client struct {
	cfg   Config
	http  *http.Client // retrying, for queries
	probe *http.Client // plain, for health checks
	log   *slog.Logger
}

// New validates cfg and builds a client. A nil logger falls back to
// slog.Default().
func New(cfg Config, log *slog.Logger) (*Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, errors.New("pinax: endpoint required")
	case cfg.User == "":
		return nil, errors.New("pinax: user required")
	case cfg.Password == "":
		return nil, errors.New("pinax: password required")
	case cfg.DBName == "":
		return nil, errors.New("pinax: database name required")
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
	// Retry only transport errors and 5xx; 401 and SQL errors must surface
	// on the first response.
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

// effective resolves the database name and timeout for a chain.
func (c *Client) effective(id chain.ID) (dbName string, timeout time.Duration) {
	dbName, timeout = c.cfg.DBName, c.cfg.Timeout
	if o, ok := c.cfg.ChainOverrides[id]; ok {
		if o.DBName != "" {
			dbName = o.DBName
		}
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
	}
	return dbName, timeout
}

func (c *Client) query(ctx context.Context, httpc *http.Client, sql string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint,
		strings.NewReader(sql))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("Content-Type", "text/plain")
	return httpc.Do(req)
}

// HealthCheck runs a trivial SELECT. Status mapping: 200 up, 401 down (bad
// credentials won't heal on their own), anything else degraded.
func (c *Client) HealthCheck(ctx context.Context) (provider.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.query(ctx, c.probe, "SELECT 1 FORMAT JSON")
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
	default:
		return provider.Degraded(fmt.Sprintf("API returned status %d", resp.StatusCode)), nil
	}
}

// row is one record from the metadata query.
type row struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// sqlResponse is the FORMAT JSON envelope.
type sqlResponse struct {
	Data  []row  `json:"data"`
	Error string `json:"error"`
}

// Fetch looks the contract up in the chain's ERC-721 and ERC-1155 metadata
// tables. An empty result set is a confirmed no-data.
func (c *Client) Fetch(ctx context.Context, key metadata.Key) (*metadata.ContractMetadata, bool, error) {
	if !key.Chain.Valid() {
		return nil, false, fmt.Errorf("pinax: %w: %d", chain.ErrUnsupported, uint64(key.Chain))
	}
	dbName, timeout := c.effective(key.Chain)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := strings.ToLower(key.Address.Hex())
	sql := fmt.Sprintf(`
WITH contract_metadata AS (
    SELECT symbol, name, contract FROM `+"`%s`"+`.erc1155_metadata_by_contract
    WHERE contract = '%s'

    UNION ALL

    SELECT symbol, name, contract FROM `+"`%s`"+`.erc721_metadata_by_contract
    WHERE contract = '%s'
)
SELECT
    cm.symbol,
    cm.name,
    nm.description
FROM contract_metadata cm
LEFT JOIN `+"`%s`"+`.nft_metadata nm
ON cm.contract = nm.contract
LIMIT 1
FORMAT JSON
`, dbName, addr, dbName, addr, dbName)

	c.log.Debug("executing metadata query",
		"address", addr, "chain", key.Chain, "db", dbName)

	resp, err := c.query(ctx, c.http, sql)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out sqlResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, false, fmt.Errorf("pinax: decoding response: %w", err)
		}
		if out.Error != "" {
			return nil, false, &QueryError{Message: out.Error}
		}
		if len(out.Data) == 0 {
			c.log.Debug("no metadata for contract", "address", addr, "chain", key.Chain)
			return nil, false, nil
		}
		return c.convert(key, out.Data[0]), true, nil
	case http.StatusUnauthorized:
		return nil, false, ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// convert maps a query row onto the normalized metadata model. The metadata
// tables don't distinguish the token standard, so ContractType stays
// unknown.
func (c *Client) convert(key metadata.Key, r row) *metadata.ContractMetadata {
	return &metadata.ContractMetadata{
		Address:      key.Address,
		Chain:        key.Chain,
		Name:         r.Name,
		Symbol:       r.Symbol,
		Description:  r.Description,
		ContractType: metadata.TypeUnknown,
	}
}

var _ provider.Provider[metadata.Key, *metadata.ContractMetadata] = (*Client)(nil)
