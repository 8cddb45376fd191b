package util

import (
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// ProxyConfig holds explicit proxy settings; empty fields fall back to the environment
type ProxyConfig struct {
	HTTPProxy  string `json:"http_proxy" yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy string `json:"https_proxy" yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy    string `json:"no_proxy" yaml:"no_proxy" mapstructure:"no_proxy"`
}

// NewProxyFunc creates a proxy function based on configuration.
// If no proxy URLs are provided, falls back to environment variables.
// NoProxy uses the NO_PROXY syntax (hosts, domains, CIDRs, "*").
func NewProxyFunc(cfg ProxyConfig) func(*http.Request) (*url.URL, error) {
	if cfg.HTTPProxy == "" && cfg.HTTPSProxy == "" {
		return http.ProxyFromEnvironment
	}

	env := httpproxy.FromEnvironment()
	env.HTTPProxy = cfg.HTTPProxy
	env.HTTPSProxy = cfg.HTTPSProxy
	if cfg.NoProxy != "" {
		env.NoProxy = cfg.NoProxy
	}
	// HTTPS requests without an explicit HTTPS proxy go through the HTTP one
	if env.HTTPSProxy == "" {
		env.HTTPSProxy = cfg.HTTPProxy
	}

	proxyFunc := env.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
}

// NewHTTPClient returns a client with the given timeout and proxy settings
func NewHTTPClient(timeout time.Duration, proxy ProxyConfig) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               NewProxyFunc(proxy),
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
