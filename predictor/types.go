// Package predictor classifies contracts as spam or legitimate with a
// fine-tuned chat-completion model, caching predictions per metadata
// fingerprint so a metadata change re-triggers classification.
package predictor

import (
	"fmt"

	"github.com/nftguard/nftguard/internal/util"
)

// Classification is the model's verdict on a contract.
type Classification uint8

const (
	// Legitimate is the zero value so an absent cached prediction decodes
	// safely.
	Legitimate Classification = iota
	Spam
	Inconclusive
)

func (c Classification) String() string {
	switch c {
	case Spam:
		return "spam"
	case Legitimate:
		return "legitimate"
	default:
		return "inconclusive"
	}
}

// Key identifies a prediction: the contract's metadata fingerprint plus the
// exact model and prompt that produced it. Any of the three changing
// invalidates the cached verdict.
type Key struct {
	Fingerprint   uint64
	ModelID       string
	PromptVersion string
}

// HashKey is the shard hasher for Key.
func HashKey(k Key) uint64 {
	h := util.Fnv64aUint64(k.Fingerprint)
	h = util.Fnv64aMixBytes(h, []byte(k.ModelID))
	h = util.Fnv64aMixBytes(h, []byte(k.PromptVersion))
	return h
}

// ModelRegistry maps model type -> version -> concrete model identifier
// (e.g. a fine-tune ID). Loaded from configuration.
type ModelRegistry map[string]map[string]string

// Resolve looks up the model identifier for a type/version pair.
func (r ModelRegistry) Resolve(modelType, version string) (string, error) {
	versions, ok := r[modelType]
	if !ok {
		return "", fmt.Errorf("predictor: unknown model type %q", modelType)
	}
	id, ok := versions[version]
	if !ok {
		return "", fmt.Errorf("predictor: unknown version %q for model type %q", version, modelType)
	}
	return id, nil
}

// Prompt is one versioned system message.
type Prompt struct {
	Version       string `yaml:"version" json:"version"`
	Date          string `yaml:"date" json:"date"`
	Description   string `yaml:"description" json:"description"`
	SystemMessage string `yaml:"system_message" json:"system_message"`
}

// PromptRegistry holds the versioned prompts and which one is current.
type PromptRegistry struct {
	CurrentVersion string   `yaml:"current_version" json:"current_version"`
	Versions       []Prompt `yaml:"versions" json:"versions"`
}

// Get resolves a prompt by version; the empty string and "current" resolve
// to the registry's current version.
func (r PromptRegistry) Get(version string) (Prompt, error) {
	if version == "" || version == "current" {
		version = r.CurrentVersion
	}
	for _, p := range r.Versions {
		if p.Version == version {
			return p, nil
		}
	}
	return Prompt{}, fmt.Errorf("predictor: unknown prompt version %q", version)
}
