package predictor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/nftguard/nftguard/cache"
	"github.com/nftguard/nftguard/metadata"
)

// Classifier is the model backend. OpenAIClient implements it; tests
// substitute a scripted one.
type Classifier interface {
	Classify(ctx context.Context, modelID, systemPrompt, input string) (Classification, error)
}

// Config selects the model and prompt a Predictor runs with.
type Config struct {
	// ModelType and ModelVersion select the entry in Models.
	ModelType    string
	ModelVersion string
	// PromptVersion selects the entry in Prompts; empty means current.
	PromptVersion string

	Models  ModelRegistry
	Prompts PromptRegistry
}

// Predictor composes the prediction cache with the model backend. Verdicts
// are cached by metadata fingerprint; Spam/Legitimate as data, Inconclusive
// as a cached absence so it is remembered without being mistaken for a
// verdict.
type Predictor struct {
	client  Classifier
	cache   *cache.Cache[Key, Classification]
	modelID string
	prompt  Prompt
	log     *slog.Logger
}

// New resolves the configured model and prompt and builds a Predictor. The
// prediction cache is supplied by the caller so its metrics and sizing are
// wired alongside the other caches.
func New(cfg Config, client Classifier, c *cache.Cache[Key, Classification], log *slog.Logger) (*Predictor, error) {
	if cfg.ModelType == "" {
		cfg.ModelType = "spam_classification"
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = "latest"
	}
	modelID, err := cfg.Models.Resolve(cfg.ModelType, cfg.ModelVersion)
	if err != nil {
		return nil, err
	}
	prompt, err := cfg.Prompts.Get(cfg.PromptVersion)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Predictor{
		client:  client,
		cache:   c,
		modelID: modelID,
		prompt:  prompt,
		log:     log,
	}, nil
}

// payload is the classification-relevant projection of contract metadata
// sent to the model.
type payload struct {
	Address      string         `json:"address"`
	Chain        string         `json:"chain"`
	Name         string         `json:"name,omitempty"`
	Symbol       string         `json:"symbol,omitempty"`
	Description  string         `json:"description,omitempty"`
	ContractType string         `json:"contract_type,omitempty"`
	TotalSupply  string         `json:"total_supply,omitempty"`
	Verified     *bool          `json:"verified,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

func contractPayload(m *metadata.ContractMetadata) (string, error) {
	b, err := json.Marshal(payload{
		Address:      m.Address.Hex(),
		Chain:        m.Chain.Name(),
		Name:         m.Name,
		Symbol:       m.Symbol,
		Description:  m.Description,
		ContractType: string(m.ContractType),
		TotalSupply:  m.TotalSupply,
		Verified:     m.Verified,
		Extra:        m.Extra,
	})
	if err != nil {
		return "", fmt.Errorf("predictor: encoding contract payload: %w", err)
	}
	return string(b), nil
}

// key builds the prediction cache key for a contract under the current
// model and prompt.
func (p *Predictor) key(m *metadata.ContractMetadata) Key {
	return Key{
		Fingerprint:   m.Fingerprint(),
		ModelID:       p.modelID,
		PromptVersion: p.prompt.Version,
	}
}

// Predict returns the model's verdict for the contract, consulting the
// prediction cache first. Errors are returned to the caller undecided; the
// caller owns the not-spam fallback policy.
func (p *Predictor) Predict(ctx context.Context, m *metadata.ContractMetadata) (Classification, error) {
	k := p.key(m)
	if verdict, hasData, hit := p.cache.Get(k); hit {
		if !hasData {
			return Inconclusive, nil
		}
		return verdict, nil
	}

	input, err := contractPayload(m)
	if err != nil {
		return Inconclusive, err
	}

	verdict, err := p.client.Classify(ctx, p.modelID, p.prompt.SystemMessage, input)
	if err != nil {
		return Inconclusive, err
	}

	if verdict == Inconclusive {
		p.cache.Store(k, Legitimate, false, ProviderName)
	} else {
		p.cache.Store(k, verdict, true, ProviderName)
	}
	p.log.Debug("prediction stored",
		"address", m.Address, "chain", m.Chain, "verdict", verdict)
	return verdict, nil
}

// CacheStats exposes the prediction cache counters.
func (p *Predictor) CacheStats() cache.Stats { return p.cache.Stats() }

// CleanupCache removes expired predictions and returns the count removed.
func (p *Predictor) CleanupCache() int { return p.cache.CleanupExpired() }
