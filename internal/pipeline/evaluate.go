package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/extract"
	"github.com/ppiankov/micr/internal/llm"
	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/score"
	"github.com/ppiankov/micr/internal/validate"
)

// Evaluator turns model responses into scored and validated MICR results.
// It performs no I/O, so saved responses can be re-scored offline.
type Evaluator struct {
	scorer    *score.Scorer
	validator *validate.Validator
	logger    *zap.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator(scorer *score.Scorer, validator *validate.Validator, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.L()
	}
	return &Evaluator{scorer: scorer, validator: validator, logger: logger}
}

// Evaluate parses resp, pre-validates and scores every present component
// against the shared token stream, then validates the assembled result.
// provider and fallbackModel label the result when resp carries no model.
func (e *Evaluator) Evaluate(resp *llm.ExtractResponse, provider, fallbackModel string) *model.MICRResult {
	info := model.LLMInfo{Provider: provider, Model: fallbackModel}
	if resp == nil {
		return failedResult("empty model response", info)
	}
	if resp.Model != "" {
		info.Model = resp.Model
	}
	info.TokensUsed = resp.TokensUsed
	info.LogprobTokens = len(resp.Tokens)

	parsed, err := extract.ParseResponse(resp.Content)
	if err != nil {
		e.logger.Warn("pipeline: unparseable model response", zap.Error(err))
		result := failedResult(err.Error(), info)
		result.Validation = e.validator.ValidateMICR(result)
		return result
	}

	result := &model.MICRResult{
		ID:            uuid.NewString(),
		AnalyzedAt:    time.Now().UTC(),
		RawLine:       parsed.RawLine,
		RawConfidence: parsed.RawConfidence,
		Success:       parsed.Success,
		ErrorMessage:  parsed.ErrorMessage,
		Components:    make(map[model.FieldKind]*model.MICRComponent),
		LLM:           info,
	}

	if !resp.HasLogprobs() {
		e.logger.Debug("pipeline: response has no logprobs, logprob weight redistributed",
			zap.String("model", info.Model))
	}

	for _, field := range parsed.Present() {
		outcome := e.validator.ValidateField(field.Kind, field.Value)
		breakdown := e.scorer.ScoreField(field, resp.Tokens, outcome.Passed)

		result.Components[field.Kind] = &model.MICRComponent{
			Kind:        field.Kind,
			Value:       field.Value,
			Description: field.Description,
			Confidence:  breakdown,
			Errors:      outcome.Errors,
			Warnings:    outcome.Warnings,
		}
	}

	result.Validation = e.validator.ValidateMICR(result)

	for _, field := range parsed.Unparseable() {
		result.Validation.Warnings = append(result.Validation.Warnings,
			fmt.Sprintf("%s could not be parsed: %s", field.Kind.Label(), field.Error))
	}

	return result
}

func failedResult(msg string, info model.LLMInfo) *model.MICRResult {
	return &model.MICRResult{
		ID:           uuid.NewString(),
		AnalyzedAt:   time.Now().UTC(),
		Success:      false,
		ErrorMessage: msg,
		Components:   make(map[model.FieldKind]*model.MICRComponent),
		LLM:          info,
	}
}
