package score

import (
	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/model"
)

// Scorer aligns extracted fields against the token stream and combines the
// three confidence sources. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	combiner *Combiner
	logger   *zap.Logger
}

// NewScorer creates a new scorer for the given profile
func NewScorer(cfg Config, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.L()
	}
	return &Scorer{
		combiner: NewCombiner(cfg, logger),
		logger:   logger,
	}
}

// Config returns the normalized scoring profile
func (s *Scorer) Config() Config {
	return s.combiner.Config()
}

// Align locates a value in the token stream
func (s *Scorer) Align(tokens []model.TokenLogprob, value string) Alignment {
	return align(tokens, value, s.logger)
}

// ScoreField computes the confidence breakdown for one extracted field.
// Fields of the same response share tokens but are scored independently.
func (s *Scorer) ScoreField(field model.ExtractedField, tokens []model.TokenLogprob, validationPassed bool) model.ConfidenceBreakdown {
	alignment := s.Align(tokens, field.Value)
	if !alignment.Found && len(tokens) > 0 {
		s.logger.Debug("score: value not located in token stream",
			zap.String("field", string(field.Kind)),
			zap.Int("tokens", len(tokens)),
		)
	}

	return s.combiner.Combine(Input{
		Field:            field.Kind,
		Value:            field.Value,
		LLMConfidence:    field.LLMConfidence,
		Alignment:        alignment,
		ValidationPassed: validationPassed,
	})
}
