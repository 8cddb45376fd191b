package score

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/micr/internal/model"
)

func sampleTokens() []model.TokenLogprob {
	return toks(
		`{"transit_number": {"value": "`, -0.01,
		"12345", -0.05,
		`", "confidence": 0.9}, "institution_number": {"value": "`, -0.01,
		"003", -0.2,
		`"}, "account_number": {"value": "`, -0.01,
		"987", -0.3,
		"654", -0.25,
		"321", -0.4,
		`"}}`, -0.01,
	)
}

func TestScorer_ScoreFieldExact(t *testing.T) {
	s := NewScorer(DefaultConfig(), zap.NewNop())

	b := s.ScoreField(model.ExtractedField{
		Kind:          model.FieldTransit,
		Value:         "12345",
		LLMConfidence: 0.9,
		Status:        model.FieldPresent,
	}, sampleTokens(), true)

	assert.Equal(t, model.StrategyExact, b.Strategy)
	assert.InDelta(t, 0.9407, b.Combined, 1e-4)
	assert.True(t, b.ValidationPassed)
}

func TestScorer_ScoreFieldReconstruction(t *testing.T) {
	s := NewScorer(DefaultConfig(), zap.NewNop())

	b := s.ScoreField(model.ExtractedField{
		Kind:          model.FieldAccount,
		Value:         "987654321",
		LLMConfidence: 0.8,
		Status:        model.FieldPresent,
	}, sampleTokens(), true)

	lp := math.Exp((-0.3 - 0.25 - 0.4) / 3)
	assert.Equal(t, model.StrategyReconstruction, b.Strategy)
	assert.InDelta(t, lp, b.LogprobConfidence, 1e-12)
	assert.InDelta(t, 0.3*0.8+0.6*lp+0.1, b.Combined, 1e-12)
}

func TestScorer_ScoreFieldWithoutTokens(t *testing.T) {
	s := NewScorer(DefaultConfig(), zap.NewNop())

	b := s.ScoreField(model.ExtractedField{
		Kind:          model.FieldCheque,
		Value:         "0042",
		LLMConfidence: 0.6,
		Status:        model.FieldPresent,
	}, nil, false)

	assert.True(t, b.Renormalized)
	assert.Equal(t, model.StrategyNone, b.Strategy)
	assert.InDelta(t, 0.75*0.6, b.Combined, 1e-12)
}

func TestScorer_FieldsScoredIndependently(t *testing.T) {
	s := NewScorer(DefaultConfig(), zap.NewNop())
	tokens := sampleTokens()

	institution := model.ExtractedField{Kind: model.FieldInstitution, Value: "003", LLMConfidence: 0.7}
	alone := s.ScoreField(institution, tokens, true)

	s.ScoreField(model.ExtractedField{Kind: model.FieldTransit, Value: "12345", LLMConfidence: 0.1}, tokens, false)
	again := s.ScoreField(institution, tokens, true)

	assert.Equal(t, alone, again)
}

func TestScorer_LogsNormalizedWeightsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := DefaultConfig()
	cfg.Weights = Weights{LLM: 1, Logprob: 1, Validation: 2}

	s := NewScorer(cfg, zap.New(core))
	for i := 0; i < 5; i++ {
		s.ScoreField(model.ExtractedField{Kind: model.FieldTransit, Value: "12345", LLMConfidence: 0.5}, sampleTokens(), true)
	}

	assert.Equal(t, 1, logs.FilterMessage("score: weights do not sum to 1, normalized").Len())
	assert.InDelta(t, 0.5, s.Config().Weights.Validation, 1e-12)
}

func TestScorer_ConcurrentUse(t *testing.T) {
	s := NewScorer(DefaultConfig(), zap.NewNop())
	tokens := sampleTokens()
	field := model.ExtractedField{Kind: model.FieldAccount, Value: "987654321", LLMConfidence: 0.85}
	want := s.ScoreField(field, tokens, true)

	var wg sync.WaitGroup
	results := make([]model.ConfidenceBreakdown, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.ScoreField(field, tokens, true)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want, got)
	}
}
