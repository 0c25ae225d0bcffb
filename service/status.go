package service

import (
	"context"
	"log/slog"

	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/predictor"
)

// ContractStatus is the outward classification of a contract.
type ContractStatus string

const (
	StatusSpam         ContractStatus = "spam"
	StatusLegitimate   ContractStatus = "legitimate"
	StatusInconclusive ContractStatus = "inconclusive"
	StatusNoData       ContractStatus = "no_data"
	StatusError        ContractStatus = "error"
)

// IsSpam reports whether the status marks the contract as spam. Every other
// status, including error and inconclusive, is treated as not-spam: the
// fail-open policy keeps an upstream outage from flagging legitimate
// contracts.
func (s ContractStatus) IsSpam() bool { return s == StatusSpam }

// Message returns the human-readable explanation for the status.
func (s ContractStatus) Message() string {
	switch s {
	case StatusSpam:
		return "AI analysis classified as spam"
	case StatusLegitimate:
		return "AI analysis classified as legitimate"
	case StatusInconclusive:
		return "AI analysis was inconclusive, defaulting to not spam"
	case StatusNoData:
		return "no data found for the contract"
	default:
		return "unable to retrieve contract data from external services"
	}
}

// Verdict is the result of a contract status check.
type Verdict struct {
	Key     metadata.Key
	Status  ContractStatus
	Spam    bool
	Message string
}

// Status runs contract checks: metadata lookup through the resilient
// pipeline, then spam classification.
type Status struct {
	metadata  *Metadata
	predictor *predictor.Predictor
	log       *slog.Logger
}

// NewStatus builds the status service. A nil logger falls back to
// slog.Default().
func NewStatus(m *Metadata, p *predictor.Predictor, log *slog.Logger) *Status {
	if log == nil {
		log = slog.Default()
	}
	return &Status{metadata: m, predictor: p, log: log}
}

// Check classifies one contract. It never returns an error: upstream
// failures degrade to StatusError with the not-spam fallback, so one broken
// dependency can't take the endpoint down.
func (s *Status) Check(ctx context.Context, key metadata.Key) Verdict {
	meta, hasData, err := s.metadata.Lookup(ctx, key)
	if err != nil {
		s.log.Warn("metadata lookup failed",
			"address", key.Address, "chain", key.Chain, "error", err)
		return s.verdict(key, StatusError)
	}
	if !hasData {
		return s.verdict(key, StatusNoData)
	}

	verdict, err := s.predictor.Predict(ctx, meta)
	if err != nil {
		s.log.Warn("spam prediction failed",
			"address", key.Address, "chain", key.Chain, "error", err)
		return s.verdict(key, StatusError)
	}

	switch verdict {
	case predictor.Spam:
		return s.verdict(key, StatusSpam)
	case predictor.Legitimate:
		return s.verdict(key, StatusLegitimate)
	default:
		return s.verdict(key, StatusInconclusive)
	}
}

func (s *Status) verdict(key metadata.Key, st ContractStatus) Verdict {
	return Verdict{
		Key:     key,
		Status:  st,
		Spam:    st.IsSpam(),
		Message: st.Message(),
	}
}
