package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/cache"
	"github.com/ppiankov/micr/internal/config"
	"github.com/ppiankov/micr/internal/llm"
	"github.com/ppiankov/micr/internal/pipeline"
	"github.com/ppiankov/micr/internal/score"
	"github.com/ppiankov/micr/internal/store"
	"github.com/ppiankov/micr/internal/util"
	"github.com/ppiankov/micr/internal/validate"
	"github.com/ppiankov/micr/internal/worker"
)

// runOptions are the per-invocation overrides shared by analyze and batch
type runOptions struct {
	provider string
	model    string
	noCache  bool
	noStore  bool
}

// newEvaluator builds the offline scoring path from configuration
func newEvaluator(c *config.Config) *pipeline.Evaluator {
	return pipeline.NewEvaluator(
		score.NewScorer(c.Confidence, zap.L()),
		newValidator(c),
		zap.L(),
	)
}

func newValidator(c *config.Config) *validate.Validator {
	return validate.NewValidator(c.MICR.Rules, validate.NewInstitutionRegistry(c.MICR.Institutions))
}

// newResponseCache builds the layered response cache from configuration
func newResponseCache(c *config.Config) *cache.LayeredCache {
	return cache.NewLayeredCache(c.Cache.MemoryTTL(), c.Cache.Dir, c.Cache.DiskTTL()).
		WithMemoryLimit(c.Cache.MemoryMaxItems)
}

// newAnalyzer wires provider, loader, cache, limiter and store into an
// analyzer. The returned cleanup closes the store and must always be called.
// The response cache is returned so callers can report its stats; it is nil
// when caching is off.
func newAnalyzer(ctx context.Context, c *config.Config, opts runOptions) (*pipeline.Analyzer, *cache.LayeredCache, func(), error) {
	cleanup := func() {}

	c.UseProvider(opts.provider, opts.model)
	if err := c.Validate(); err != nil {
		return nil, nil, cleanup, err
	}

	provider, err := llm.NewProvider(c.LLM)
	if err != nil {
		return nil, nil, cleanup, err
	}

	httpClient := util.NewHTTPClient(time.Duration(c.Image.Timeout)*time.Second, c.HTTP)

	options := pipeline.Options{
		Provider:  provider,
		Model:     c.LLM.Model,
		Region:    c.LLM.Region,
		Endpoint:  llm.Endpoint(c.LLM),
		MaxTokens: c.LLM.MaxTokens,
		Loader:    pipeline.NewLoader(c.Image, httpClient).WithThrottle(worker.NewLimiter(0, 0)),
		Scorer:    score.NewScorer(c.Confidence, zap.L()),
		Validator: newValidator(c),
		Limiter:   worker.NewLimiter(c.RateLimiting.RequestsPerSecond, c.RateLimiting.Burst),
		Logger:    zap.L(),
	}

	var responses *cache.LayeredCache
	if c.Cache.Enabled && !opts.noCache {
		responses = newResponseCache(c)
		options.Cache = responses
		options.CacheTTL = c.Cache.DiskTTL()
	}

	if c.Store.Enabled && !opts.noStore {
		st, err := openStore(ctx, c)
		if err != nil {
			return nil, nil, cleanup, err
		}
		options.Recorder = st
		cleanup = func() {
			if err := st.Close(); err != nil {
				zap.L().Warn("cli: close store", zap.Error(err))
			}
		}
	}

	analyzer, err := pipeline.NewAnalyzer(options)
	if err != nil {
		cleanup()
		return nil, nil, func() {}, err
	}

	return analyzer, responses, cleanup, nil
}

// openStore opens and migrates the analysis database
func openStore(ctx context.Context, c *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(c.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
