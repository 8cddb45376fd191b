package score

import (
	"math"

	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/model"
)

// weightTolerance is how far the weight sum may drift from 1 before it is renormalized
const weightTolerance = 1e-9

// Weights are the relative contributions of the three confidence sources
type Weights struct {
	LLM        float64 `json:"llm" yaml:"llm" mapstructure:"llm"`
	Logprob    float64 `json:"logprob" yaml:"logprob" mapstructure:"logprob"`
	Validation float64 `json:"validation" yaml:"validation" mapstructure:"validation"`
}

// DefaultWeights returns the standard 0.3 / 0.6 / 0.1 split
func DefaultWeights() Weights {
	return Weights{
		LLM:        0.3,
		Logprob:    0.6,
		Validation: 0.1,
	}
}

// Sum returns the total of the three weights
func (w Weights) Sum() float64 {
	return w.LLM + w.Logprob + w.Validation
}

// Config is the scoring profile. It is passed by value to each combiner so
// callers with different profiles never share state.
type Config struct {
	Weights Weights `json:"weights" yaml:"weights" mapstructure:"weights"`

	// ValidationPassValue is the validation confidence when the field passed its format rule
	ValidationPassValue float64 `json:"validation_pass_value" yaml:"validation_pass_value" mapstructure:"validation_pass_value"`

	// ValidationFailValue is the validation confidence when the field failed its format rule
	ValidationFailValue float64 `json:"validation_fail_value" yaml:"validation_fail_value" mapstructure:"validation_fail_value"`
}

// DefaultConfig returns the default scoring profile
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		ValidationPassValue: 1.0,
		ValidationFailValue: 0.0,
	}
}

// Input is everything the combiner needs to score one field
type Input struct {
	Field            model.FieldKind
	Value            string
	LLMConfidence    float64
	Alignment        Alignment
	ValidationPassed bool
}

// Combiner blends self-reported, token-probability and validation confidence
type Combiner struct {
	cfg    Config
	logger *zap.Logger
}

// NewCombiner creates a combiner for the given profile. Weights that do not
// sum to 1 are divided by their sum, negative weights are treated as 0 and
// an all-zero profile falls back to DefaultWeights. Corrections are logged.
func NewCombiner(cfg Config, logger *zap.Logger) *Combiner {
	if logger == nil {
		logger = zap.L()
	}
	c := &Combiner{logger: logger}
	c.cfg = Config{
		Weights:             c.normalizeWeights(cfg.Weights),
		ValidationPassValue: c.clamp(cfg.ValidationPassValue, "validation_pass_value", ""),
		ValidationFailValue: c.clamp(cfg.ValidationFailValue, "validation_fail_value", ""),
	}
	return c
}

// Combine scores a single field with an explicit profile
func Combine(cfg Config, in Input) model.ConfidenceBreakdown {
	return NewCombiner(cfg, nil).Combine(in)
}

// Config returns the normalized profile in use
func (c *Combiner) Config() Config {
	return c.cfg
}

// Combine computes the weighted confidence for one field. When the alignment
// missed, the logprob weight is set to 0 and the LLM and validation weights are
// rescaled by 1/(llm+validation) so the applied weights still sum to 1.
func (c *Combiner) Combine(in Input) model.ConfidenceBreakdown {
	llm := c.clamp(in.LLMConfidence, "llm_confidence", in.Field)

	w := c.cfg.Weights
	strategy := in.Alignment.Strategy
	renormalized := false
	var logprob float64

	if in.Alignment.Found {
		logprob = c.clamp(in.Alignment.Confidence, "logprob_confidence", in.Field)
	} else {
		strategy = model.StrategyNone
		w = redistribute(w)
		renormalized = true
	}

	validation := c.cfg.ValidationFailValue
	if in.ValidationPassed {
		validation = c.cfg.ValidationPassValue
	}

	combined := w.LLM*llm + w.Logprob*logprob + w.Validation*validation

	return model.ConfidenceBreakdown{
		Field:                in.Field,
		Value:                in.Value,
		LLMConfidence:        llm,
		LogprobConfidence:    logprob,
		ValidationConfidence: validation,
		LLMWeight:            w.LLM,
		LogprobWeight:        w.Logprob,
		ValidationWeight:     w.Validation,
		Combined:             clamp01(combined),
		Strategy:             strategy,
		Renormalized:         renormalized,
		ValidationPassed:     in.ValidationPassed,
	}
}

// redistribute moves the logprob weight onto the other two sources proportionally
func redistribute(w Weights) Weights {
	rest := w.LLM + w.Validation
	if rest <= 0 {
		return Weights{LLM: 1}
	}
	return Weights{
		LLM:        w.LLM / rest,
		Validation: w.Validation / rest,
	}
}

func (c *Combiner) normalizeWeights(w Weights) Weights {
	fix := func(name string, v float64) float64 {
		if math.IsNaN(v) || v < 0 {
			c.logger.Warn("score: invalid weight treated as 0",
				zap.String("weight", name),
				zap.Float64("value", v),
			)
			return 0
		}
		return v
	}
	w = Weights{
		LLM:        fix("llm", w.LLM),
		Logprob:    fix("logprob", w.Logprob),
		Validation: fix("validation", w.Validation),
	}

	sum := w.Sum()
	if sum == 0 || math.IsInf(sum, 0) {
		c.logger.Warn("score: unusable weights, falling back to defaults",
			zap.Float64("sum", sum),
		)
		return DefaultWeights()
	}
	if math.Abs(sum-1) > weightTolerance {
		normalized := Weights{
			LLM:        w.LLM / sum,
			Logprob:    w.Logprob / sum,
			Validation: w.Validation / sum,
		}
		c.logger.Warn("score: weights do not sum to 1, normalized",
			zap.Float64("sum", sum),
			zap.Float64("llm", normalized.LLM),
			zap.Float64("logprob", normalized.Logprob),
			zap.Float64("validation", normalized.Validation),
		)
		return normalized
	}
	return w
}

// clamp forces a confidence into [0,1], logging when it had to
func (c *Combiner) clamp(v float64, name string, field model.FieldKind) float64 {
	clamped := clamp01(v)
	if clamped != v {
		c.logger.Warn("score: input out of range, clamped",
			zap.String("input", name),
			zap.String("field", string(field)),
			zap.Float64("value", v),
			zap.Float64("clamped", clamped),
		)
	}
	return clamped
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
