package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftguard/nftguard/cache"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/predictor"
	"github.com/nftguard/nftguard/provider"
)

type scriptedClassifier struct {
	verdict predictor.Classification
	err     error
}

func (s *scriptedClassifier) Classify(ctx context.Context, modelID, systemPrompt, input string) (predictor.Classification, error) {
	return s.verdict, s.err
}

func newStatus(t *testing.T, cl predictor.Classifier, providers ...provider.Provider[metadata.Key, *metadata.ContractMetadata]) *Status {
	t.Helper()

	pc := cache.New[predictor.Key, predictor.Classification](cache.Options[predictor.Key]{
		TTL:        time.Hour,
		MaxEntries: 128,
		Hasher:     predictor.HashKey,
	})
	pred, err := predictor.New(predictor.Config{
		Models: predictor.ModelRegistry{
			"spam_classification": {"latest": "ft:test"},
		},
		Prompts: predictor.PromptRegistry{
			CurrentVersion: "1.0.0",
			Versions:       []predictor.Prompt{{Version: "1.0.0", SystemMessage: "classify"}},
		},
	}, cl, pc, quietLog())
	require.NoError(t, err)

	return NewStatus(newService(providers...), pred, quietLog())
}

func dataProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:    name,
		health:  provider.Up(),
		meta:    &metadata.ContractMetadata{Name: "Azuki", Symbol: "AZUKI"},
		hasData: true,
	}
}

func TestCheck_Spam(t *testing.T) {
	t.Parallel()

	s := newStatus(t, &scriptedClassifier{verdict: predictor.Spam}, dataProvider("moralis"))
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusSpam, v.Status)
	assert.True(t, v.Spam)
	assert.Equal(t, "AI analysis classified as spam", v.Message)
	assert.Equal(t, testKey(), v.Key)
}

func TestCheck_Legitimate(t *testing.T) {
	t.Parallel()

	s := newStatus(t, &scriptedClassifier{verdict: predictor.Legitimate}, dataProvider("moralis"))
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusLegitimate, v.Status)
	assert.False(t, v.Spam)
}

func TestCheck_InconclusiveDefaultsNotSpam(t *testing.T) {
	t.Parallel()

	s := newStatus(t, &scriptedClassifier{verdict: predictor.Inconclusive}, dataProvider("moralis"))
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusInconclusive, v.Status)
	assert.False(t, v.Spam)
	assert.Contains(t, v.Message, "defaulting to not spam")
}

func TestCheck_NoData(t *testing.T) {
	t.Parallel()

	// Provider confirms absence; the predictor never runs.
	s := newStatus(t, &scriptedClassifier{err: errors.New("should not be called")},
		&fakeProvider{name: "moralis", health: provider.Up()})
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusNoData, v.Status)
	assert.False(t, v.Spam)
	assert.Equal(t, "no data found for the contract", v.Message)
}

func TestCheck_MetadataErrorFallsOpen(t *testing.T) {
	t.Parallel()

	s := newStatus(t, &scriptedClassifier{verdict: predictor.Spam},
		&fakeProvider{name: "moralis", health: provider.Up(), err: errors.New("boom")})
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusError, v.Status)
	assert.False(t, v.Spam, "errors must fail open to not-spam")
	assert.Contains(t, v.Message, "unable to retrieve contract data")
}

func TestCheck_PredictorErrorFallsOpen(t *testing.T) {
	t.Parallel()

	s := newStatus(t, &scriptedClassifier{err: errors.New("model offline")}, dataProvider("moralis"))
	v := s.Check(context.Background(), testKey())

	assert.Equal(t, StatusError, v.Status)
	assert.False(t, v.Spam)
}

func TestContractStatus_IsSpam(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusSpam.IsSpam())
	for _, st := range []ContractStatus{StatusLegitimate, StatusInconclusive, StatusNoData, StatusError} {
		assert.False(t, st.IsSpam(), "status %s", st)
	}
}
