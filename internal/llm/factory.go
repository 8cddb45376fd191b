package llm

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Providers lists the supported provider names
var Providers = []string{"openai", "anthropic", "ollama"}

// NewProvider creates a new LLM provider based on configuration.
// The returned provider retries transient failures up to MaxRetries attempts.
func NewProvider(config Config) (Provider, error) {
	var (
		p   Provider
		err error
	)

	switch strings.ToLower(config.Provider) {
	case "openai", "":
		p, err = NewOpenAIProvider(config)

	case "anthropic", "claude":
		p, err = NewAnthropicProvider(config)

	case "ollama":
		p, err = NewOllamaProvider(config)

	default:
		return nil, eris.Errorf("llm: unknown provider: %s (supported: %s)", config.Provider, strings.Join(Providers, ", "))
	}
	if err != nil {
		return nil, err
	}

	return WithRetry(p, config.MaxRetries), nil
}

// Endpoint returns the host the provider talks to, used as the rate-limit key
func Endpoint(config Config) string {
	base := config.BaseURL
	if base == "" {
		switch strings.ToLower(config.Provider) {
		case "anthropic", "claude":
			base = "https://api.anthropic.com"
		case "ollama":
			base = "http://localhost:11434"
		default:
			base = "https://api.openai.com"
		}
	}
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		return u.Host
	}
	return base
}
