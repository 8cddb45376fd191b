package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/micr/internal/model"
	"github.com/ppiankov/micr/internal/util"
)

// Provider defines the interface for vision LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Extract reads the MICR line from a cheque image
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Image is an encoded cheque image
type Image struct {
	Data     []byte
	MIMEType string // e.g. image/png
}

// Base64 returns the standard base64 encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, i.Base64())
}

// ExtractRequest contains the input for one extraction call
type ExtractRequest struct {
	// Image is the cheque image to read
	Image Image

	// Prompt is an optional custom prompt (if empty, BuildPrompt for the configured region)
	Prompt string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ExtractResponse contains the model's answer and its token log-probabilities
type ExtractResponse struct {
	// Content is the raw completion text, expected to hold a JSON object
	Content string `json:"content"`

	// Tokens are the generated tokens with logprobs, empty when the provider has none
	Tokens []model.TokenLogprob `json:"tokens"`

	// Model is the model that generated the response
	Model string `json:"model"`

	// TokensUsed tracks token consumption
	TokensUsed int `json:"tokens_used"`
}

// HasLogprobs reports whether the response carries token log-probabilities
func (r *ExtractResponse) HasLogprobs() bool {
	return r != nil && len(r.Tokens) > 0
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string `mapstructure:"provider" yaml:"provider"`

	// Model name (provider-specific)
	Model string `mapstructure:"model" yaml:"model"`

	// APIKey for OpenAI/Anthropic
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// BaseURL for custom endpoints (e.g., Ollama, Azure, test servers)
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Timeout for API requests
	Timeout int `mapstructure:"timeout" yaml:"timeout"` // seconds

	// MaxTokens for response generation
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Temperature for sampling; low values keep digit reads stable
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`

	// TopLogprobs is the number of alternatives requested per token (0-5)
	TopLogprobs int `mapstructure:"top_logprobs" yaml:"top_logprobs"`

	// ImageDetail is the OpenAI vision detail level: low, high, auto
	ImageDetail string `mapstructure:"image_detail" yaml:"image_detail"`

	// Region selects the prompt: canada, us, europe
	Region string `mapstructure:"region" yaml:"region"`

	// MaxRetries is the number of attempts for transient failures
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// Proxy settings
	Proxy util.ProxyConfig `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       "gpt-4o",
		Timeout:     60,
		MaxTokens:   1000,
		Temperature: 0.1,
		TopLogprobs: 5,
		ImageDetail: "high",
		Region:      "canada",
		MaxRetries:  3,
	}
}

// timeout returns the configured timeout or the fallback
func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout) * time.Second
	}
	return fallback
}

// maxTokens resolves the per-request limit
func (c Config) maxTokens(req ExtractRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1000
}

// prompt resolves the per-request prompt
func (c Config) prompt(req ExtractRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	return BuildPrompt(c.Region)
}

func newHTTPClient(cfg Config, fallback time.Duration) *http.Client {
	return util.NewHTTPClient(cfg.timeout(fallback), cfg.Proxy)
}
