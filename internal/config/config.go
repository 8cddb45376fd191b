package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/micr/internal/llm"
	"github.com/ppiankov/micr/internal/pipeline"
	"github.com/ppiankov/micr/internal/score"
	"github.com/ppiankov/micr/internal/util"
	"github.com/ppiankov/micr/internal/validate"
)

// EnvPrefix is the prefix of environment overrides, e.g. MICR_LLM_MODEL
const EnvPrefix = "MICR"

// Config holds the full application configuration
type Config struct {
	LLM          llm.Config            `yaml:"llm" mapstructure:"llm"`
	Confidence   score.Config          `yaml:"confidence" mapstructure:"confidence"`
	MICR         MICRConfig            `yaml:"micr" mapstructure:"micr"`
	Image        pipeline.LoaderConfig `yaml:"image" mapstructure:"image"`
	Cache        CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Store        StoreConfig           `yaml:"store" mapstructure:"store"`
	Concurrency  ConcurrencyConfig     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig       `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	HTTP         util.ProxyConfig      `yaml:"http" mapstructure:"http"`
	Log          LogConfig             `yaml:"log" mapstructure:"log"`
	Output       OutputConfig          `yaml:"output" mapstructure:"output"`

	// File is the config file that was read, empty when none was found
	File string `yaml:"-" mapstructure:"-"`
}

// MICRConfig holds format rules and institution overrides
type MICRConfig struct {
	Rules        validate.Rules    `yaml:",inline" mapstructure:",squash"`
	Institutions map[string]string `yaml:"institutions,omitempty" mapstructure:"institutions"`
}

// CacheConfig configures the model response cache
type CacheConfig struct {
	Enabled          bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir              string `yaml:"dir" mapstructure:"dir"`
	MemoryTTLMinutes int    `yaml:"memory_ttl_minutes" mapstructure:"memory_ttl_minutes"`
	DiskTTLHours     int    `yaml:"disk_ttl_hours" mapstructure:"disk_ttl_hours"`
	MemoryMaxItems   int    `yaml:"memory_max_items" mapstructure:"memory_max_items"` // 0 = unbounded
}

// MemoryTTL returns the in-process cache lifetime
func (c CacheConfig) MemoryTTL() time.Duration {
	return time.Duration(c.MemoryTTLMinutes) * time.Minute
}

// DiskTTL returns the on-disk cache lifetime
func (c CacheConfig) DiskTTL() time.Duration {
	return time.Duration(c.DiskTTLHours) * time.Hour
}

// StoreConfig configures analysis persistence
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ConcurrencyConfig configures batch workers
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RateLimitConfig throttles calls per provider endpoint
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// LogConfig configures the global zap logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// OutputConfig configures report files
type OutputConfig struct {
	Dir                    string  `yaml:"dir" mapstructure:"dir"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
}

// Dir returns the micr data directory, ~/.micr
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".micr"
	}
	return filepath.Join(home, ".micr")
}

// Default returns the built-in configuration
func Default() Config {
	dir := Dir()
	return Config{
		LLM:        llm.DefaultConfig(),
		Confidence: score.DefaultConfig(),
		MICR:       MICRConfig{Rules: validate.DefaultRules()},
		Image:      pipeline.DefaultLoaderConfig(),
		Cache: CacheConfig{
			Enabled:          true,
			Dir:              filepath.Join(dir, "cache"),
			MemoryTTLMinutes: 60,
			DiskTTLHours:     24 * 7,
			MemoryMaxItems:   512,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "micr.db"),
		},
		Concurrency:  ConcurrencyConfig{Workers: 4},
		RateLimiting: RateLimitConfig{RequestsPerSecond: 2, Burst: 2},
		Log:          LogConfig{Level: "info", Format: "console"},
		Output: OutputConfig{
			Dir:                    "./micr-reports",
			LowConfidenceThreshold: 0.7,
		},
	}
}

// Load reads configuration from path (or ~/.micr/config.yaml and ./config.yaml
// when path is empty), MICR_* environment variables and built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.File = v.ConfigFileUsed()

	applyEnvFallbacks(&cfg)
	cfg.LLM.Proxy = cfg.HTTP

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.top_logprobs", d.LLM.TopLogprobs)
	v.SetDefault("llm.image_detail", d.LLM.ImageDetail)
	v.SetDefault("llm.region", d.LLM.Region)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)

	v.SetDefault("confidence.weights.llm", d.Confidence.Weights.LLM)
	v.SetDefault("confidence.weights.logprob", d.Confidence.Weights.Logprob)
	v.SetDefault("confidence.weights.validation", d.Confidence.Weights.Validation)
	v.SetDefault("confidence.validation_pass_value", d.Confidence.ValidationPassValue)
	v.SetDefault("confidence.validation_fail_value", d.Confidence.ValidationFailValue)

	r := d.MICR.Rules
	v.SetDefault("micr.transit_length", r.TransitLength)
	v.SetDefault("micr.institution_length", r.InstitutionLength)
	v.SetDefault("micr.min_account_length", r.MinAccountLength)
	v.SetDefault("micr.max_account_length", r.MaxAccountLength)
	v.SetDefault("micr.min_cheque_length", r.MinChequeLength)
	v.SetDefault("micr.max_cheque_length", r.MaxChequeLength)
	v.SetDefault("micr.min_raw_line_length", r.MinRawLineLength)
	v.SetDefault("micr.max_raw_line_length", r.MaxRawLineLength)
	v.SetDefault("micr.low_confidence_threshold", r.LowConfidenceThreshold)
	v.SetDefault("micr.max_confidence_spread", r.MaxConfidenceSpread)

	v.SetDefault("image.max_bytes", d.Image.MaxBytes)
	v.SetDefault("image.min_width", d.Image.MinWidth)
	v.SetDefault("image.min_height", d.Image.MinHeight)
	v.SetDefault("image.timeout", d.Image.Timeout)
	v.SetDefault("image.user_agent", d.Image.UserAgent)
	v.SetDefault("image.respect_robots", d.Image.RespectRobots)
	v.SetDefault("image.max_retries", d.Image.MaxRetries)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.memory_ttl_minutes", d.Cache.MemoryTTLMinutes)
	v.SetDefault("cache.disk_ttl_hours", d.Cache.DiskTTLHours)
	v.SetDefault("cache.memory_max_items", d.Cache.MemoryMaxItems)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("concurrency.workers", d.Concurrency.Workers)
	v.SetDefault("rate_limiting.requests_per_second", d.RateLimiting.RequestsPerSecond)
	v.SetDefault("rate_limiting.burst", d.RateLimiting.Burst)

	v.SetDefault("http.http_proxy", "")
	v.SetDefault("http.https_proxy", "")
	v.SetDefault("http.no_proxy", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.low_confidence_threshold", d.Output.LowConfidenceThreshold)
}

// applyEnvFallbacks fills credentials from the providers' conventional variables
func applyEnvFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "", "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && strings.EqualFold(cfg.LLM.Provider, "ollama") {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}

// UseProvider applies command-line provider and model overrides. Switching
// provider drops the previous provider's credentials, endpoint and model and
// refills them from the new provider's environment variables.
func (c *Config) UseProvider(provider, modelName string) {
	if provider != "" && !strings.EqualFold(provider, c.LLM.Provider) {
		c.LLM.Provider = provider
		c.LLM.APIKey = ""
		c.LLM.BaseURL = ""
		c.LLM.Model = ""
		applyEnvFallbacks(c)
	}
	if modelName != "" {
		c.LLM.Model = modelName
	}
}

// Validate checks settings that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	known := false
	for _, p := range append([]string{"", "claude"}, llm.Providers...) {
		if strings.EqualFold(c.LLM.Provider, p) {
			known = true
		}
	}
	if !known {
		return eris.Errorf("config: unknown llm.provider %q (available: %s)", c.LLM.Provider, strings.Join(llm.Providers, ", "))
	}
	if c.Concurrency.Workers < 1 {
		return eris.Errorf("config: concurrency.workers must be at least 1, got %d", c.Concurrency.Workers)
	}
	if c.Output.LowConfidenceThreshold < 0 || c.Output.LowConfidenceThreshold > 1 {
		return eris.Errorf("config: output.low_confidence_threshold must be in [0, 1], got %g", c.Output.LowConfidenceThreshold)
	}
	for code := range c.MICR.Institutions {
		if len(code) != c.MICR.Rules.InstitutionLength {
			return eris.Errorf("config: institution code %q must have %d digits", code, c.MICR.Rules.InstitutionLength)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
