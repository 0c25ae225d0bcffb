package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nftguard/nftguard/provider"
)

const (
	// ProviderName tags predictions in cache stats and logs.
	ProviderName = "openai"

	DefaultOpenAITimeout       = 30 * time.Second
	DefaultOpenAIHealthTimeout = 5 * time.Second
	DefaultOpenAIMaxRetries    = 3

	// Classification responses are a single token; anything longer is the
	// model rambling.
	defaultMaxTokens   = 10
	defaultTemperature = 0.0
)

var (
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("openai: authentication failed")
	// ErrRateLimited means the API throttled us after retries.
	ErrRateLimited = errors.New("openai: rate limited")
	// ErrEmptyCompletion means the API returned no choices.
	ErrEmptyCompletion = errors.New("openai: empty completion")
)

// StatusError is an unexpected upstream HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Body)
}

// OpenAIConfig configures the chat-completion client.
type OpenAIConfig struct {
	BaseURL       string
	APIKey        string
	Organization  string
	Timeout       time.Duration
	HealthTimeout time.Duration
	MaxRetries    int
}

// OpenAIClient calls the chat-completions endpoint with a fine-tuned
// classification model.
type OpenAIClient struct {
	cfg   OpenAIConfig
	http  *http.Client // retrying, for completions
	probe *http.Client // plain, for health checks
	log   *slog.Logger
}

// NewOpenAIClient validates cfg and builds a client. A nil logger falls back
// to slog.Default().
func NewOpenAIClient(cfg OpenAIConfig, log *slog.Logger) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAITimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultOpenAIHealthTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultOpenAIMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// 401/429 carry meaning for the caller; retry only transport errors and
	// 5xx.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode >= http.StatusInternalServerError, nil
	}

	return &OpenAIClient{
		cfg:   cfg,
		http:  rc.StandardClient(),
		probe: &http.Client{Timeout: cfg.HealthTimeout},
		log:   log.With("provider", ProviderName),
	}, nil
}

func (c *OpenAIClient) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", c.cfg.Organization)
	}
}

// HealthCheck probes the models endpoint. 200 up, 401 down, 429 degraded,
// everything else degraded with the status attached.
func (c *OpenAIClient) HealthCheck(ctx context.Context) (provider.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return provider.Health{}, err
	}
	c.auth(req)

	resp, err := c.probe.Do(req)
	if err != nil {
		return provider.Health{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return provider.Up(), nil
	case http.StatusUnauthorized:
		return provider.Down("Authentication failed"), nil
	case http.StatusTooManyRequests:
		return provider.Degraded("Rate limited"), nil
	default:
		return provider.Degraded(fmt.Sprintf("API returned status %d", resp.StatusCode)), nil
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Classify sends the system prompt and contract payload to the model and
// parses the verdict. An unparseable answer is Inconclusive, not an error.
func (c *OpenAIClient) Classify(ctx context.Context, modelID, systemPrompt, input string) (Classification, error) {
	reqID := uuid.NewString()

	body, err := json.Marshal(chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: input},
		},
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return Inconclusive, fmt.Errorf("openai: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Inconclusive, err
	}
	c.auth(req)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Inconclusive, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Inconclusive, ErrUnauthorized
	case http.StatusTooManyRequests:
		return Inconclusive, ErrRateLimited
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Inconclusive, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Inconclusive, fmt.Errorf("openai: decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Inconclusive, ErrEmptyCompletion
	}

	raw := out.Choices[0].Message.Content
	verdict := parseVerdict(raw)
	c.log.Debug("classification completed",
		"request_id", reqID,
		"model", modelID,
		"verdict", verdict,
		"raw", strings.TrimSpace(raw),
		"elapsed", time.Since(start))
	return verdict, nil
}

// parseVerdict maps the model's free-text answer to a Classification. The
// fine-tuned models answer "true"/"false", but older prompt versions produce
// sentences, so a few common phrasings are recognized too.
func parseVerdict(raw string) Classification {
	s := strings.ToLower(strings.TrimSpace(raw))

	switch s {
	case "true", "yes", "spam":
		return Spam
	case "false", "no", "not spam", "legitimate":
		return Legitimate
	}

	switch {
	case strings.Contains(s, "not spam"),
		strings.Contains(s, "spam: false"),
		strings.Contains(s, `"spam": false`),
		strings.Contains(s, "classification: legitimate"):
		return Legitimate
	case strings.Contains(s, "is spam"),
		strings.Contains(s, "spam: true"),
		strings.Contains(s, `"spam": true`),
		strings.Contains(s, "classification: spam"):
		return Spam
	}
	return Inconclusive
}
