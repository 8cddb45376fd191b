package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/micr/internal/cache"
	"github.com/ppiankov/micr/internal/llm"
	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/score"
	"github.com/ppiankov/micr/internal/validate"
)

// RateLimiter throttles provider calls per endpoint
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Recorder persists finished analyses
type Recorder interface {
	SaveAnalysis(ctx context.Context, result *model.MICRResult) error
}

// Options wires the analyzer's collaborators. Provider, Loader, Scorer and
// Validator are required; Cache, Limiter and Recorder are optional.
type Options struct {
	Provider  llm.Provider
	Model     string // model requested from the provider, part of the cache key
	Region    string // prompt region, part of the cache key
	Endpoint  string // rate limit key
	MaxTokens int

	Loader    *Loader
	Scorer    *score.Scorer
	Validator *validate.Validator

	Cache    cache.Cache
	CacheTTL time.Duration
	Limiter  RateLimiter
	Recorder Recorder

	Logger *zap.Logger
}

// Analyzer orchestrates one check image through load, extraction, scoring and validation
type Analyzer struct {
	opts      Options
	evaluator *Evaluator
	prompt    string
	logger    *zap.Logger

	// in-flight provider calls keyed by cache key, so duplicate images in a
	// batch share one request
	flight singleflight.Group
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(opts Options) (*Analyzer, error) {
	if opts.Provider == nil {
		return nil, eris.New("pipeline: provider is required")
	}
	if opts.Loader == nil {
		opts.Loader = NewLoader(DefaultLoaderConfig(), nil)
	}
	if opts.Scorer == nil {
		return nil, eris.New("pipeline: scorer is required")
	}
	if opts.Validator == nil {
		return nil, eris.New("pipeline: validator is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	return &Analyzer{
		opts:      opts,
		evaluator: NewEvaluator(opts.Scorer, opts.Validator, opts.Logger),
		prompt:    llm.BuildPrompt(opts.Region),
		logger:    opts.Logger,
	}, nil
}

// Analyze reads one check image and returns its scored MICR result. Load
// failures are returned as errors; provider and parse failures produce a
// result with Success false so batches keep going.
func (a *Analyzer) Analyze(ctx context.Context, source string) (*model.MICRResult, error) {
	start := time.Now()

	img, err := a.opts.Loader.Load(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "load %s", source)
	}

	resp, cached, err := a.extract(ctx, img)

	var result *model.MICRResult
	if err != nil {
		a.logger.Warn("pipeline: extraction failed",
			zap.String("source", source),
			zap.String("provider", a.opts.Provider.Name()),
			zap.Error(err),
		)
		result = a.failed(fmt.Sprintf("extraction failed: %v", err))
	} else {
		result = a.Evaluate(resp)
	}

	result.Source = source
	result.ImageHash = img.Hash
	result.Cached = cached
	result.ProcessingTime = time.Since(start)

	if a.opts.Recorder != nil {
		if err := a.opts.Recorder.SaveAnalysis(ctx, result); err != nil {
			a.logger.Warn("pipeline: failed to save analysis",
				zap.String("source", source),
				zap.Error(err),
			)
		}
	}

	a.logger.Info("pipeline: analyzed image",
		zap.String("source", source),
		zap.Bool("success", result.Success),
		zap.Bool("cached", cached),
		zap.Float64("overall_confidence", result.OverallConfidence()),
		zap.Duration("elapsed", result.ProcessingTime),
	)

	return result, nil
}

// extract returns the model response for img, from cache when possible.
// The bool is true when this call did not reach the provider itself.
func (a *Analyzer) extract(ctx context.Context, img *LoadedImage) (*llm.ExtractResponse, bool, error) {
	key := cache.Key(img.Hash, a.opts.Provider.Name(), a.opts.Model, llm.PromptVersion, a.opts.Region)

	if a.opts.Cache != nil {
		var resp llm.ExtractResponse
		if cache.GetJSON(a.opts.Cache, key, &resp) {
			a.logger.Debug("pipeline: cache hit", zap.String("hash", img.Hash))
			return &resp, true, nil
		}
	}

	leader := false
	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		leader = true
		return a.callProvider(ctx, img, key)
	})
	if err != nil {
		return nil, false, err
	}
	if !leader {
		a.logger.Debug("pipeline: joined in-flight request", zap.String("hash", img.Hash))
	}
	return v.(*llm.ExtractResponse), !leader, nil
}

// callProvider waits for a rate limit slot, calls the provider and caches the response
func (a *Analyzer) callProvider(ctx context.Context, img *LoadedImage, key string) (*llm.ExtractResponse, error) {
	if a.opts.Limiter != nil && a.opts.Endpoint != "" {
		if err := a.opts.Limiter.Wait(ctx, a.opts.Endpoint); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}
	}

	resp, err := a.opts.Provider.Extract(ctx, llm.ExtractRequest{
		Image:     llm.Image{Data: img.Data, MIMEType: img.MIMEType},
		Prompt:    a.prompt,
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	if a.opts.Cache != nil {
		if err := cache.SetJSON(a.opts.Cache, key, resp, a.opts.CacheTTL); err != nil {
			a.logger.Warn("pipeline: failed to cache response", zap.Error(err))
		}
	}

	return resp, nil
}

// Evaluate scores a model response as if it came from the configured provider
func (a *Analyzer) Evaluate(resp *llm.ExtractResponse) *model.MICRResult {
	return a.evaluator.Evaluate(resp, a.opts.Provider.Name(), a.opts.Model)
}

func (a *Analyzer) failed(msg string) *model.MICRResult {
	return failedResult(msg, model.LLMInfo{Provider: a.opts.Provider.Name(), Model: a.opts.Model})
}
