package util

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const (
	// robotsTTL is how long a fetched robots.txt is trusted
	robotsTTL = time.Hour
	// unavailableTTL is how long an unreachable robots.txt is treated as allow-all
	unavailableTTL = 5 * time.Minute
)

// RobotsPolicy is the robots.txt verdict for one image URL
type RobotsPolicy struct {
	Allowed    bool
	CrawlDelay time.Duration
	// Unavailable is set when robots.txt could not be fetched and the download was allowed by default
	Unavailable bool
}

// RobotsChecker decides whether remote cheque images may be downloaded.
// robots.txt is fetched once per origin and kept for robotsTTL.
type RobotsChecker struct {
	rules      *gocache.Cache // origin -> *robotstxt.RobotsData, nil when unavailable
	httpClient *http.Client
	userAgent  string
	agent      string
}

// NewRobotsChecker creates a new robots.txt checker
func NewRobotsChecker(userAgent string, httpClient *http.Client) *RobotsChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		rules:      gocache.New(robotsTTL, 10*time.Minute),
		httpClient: httpClient,
		userAgent:  userAgent,
		agent:      NormalizeUserAgent(userAgent),
	}
}

// Check returns the policy for rawURL. An unreachable or unparseable
// robots.txt allows the download; only a malformed URL is an error.
func (r *RobotsChecker) Check(ctx context.Context, rawURL string) (RobotsPolicy, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return RobotsPolicy{}, eris.Wrap(err, "robots: parse URL")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return RobotsPolicy{}, eris.Errorf("robots: not an absolute URL: %s", rawURL)
	}

	data := r.rulesFor(ctx, parsed.Scheme+"://"+parsed.Host)
	if data == nil {
		return RobotsPolicy{Allowed: true, Unavailable: true}, nil
	}

	policy := RobotsPolicy{Allowed: data.TestAgent(parsed.EscapedPath(), r.agent)}
	if group := data.FindGroup(r.agent); group != nil {
		policy.CrawlDelay = group.CrawlDelay
	}
	return policy, nil
}

// IsAllowed is a convenience method that returns only the allowed status
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) bool {
	policy, err := r.Check(ctx, rawURL)
	return err == nil && policy.Allowed
}

// Clear forgets every cached robots.txt
func (r *RobotsChecker) Clear() {
	r.rules.Flush()
}

// rulesFor returns the cached rules of origin, fetching them on a miss
func (r *RobotsChecker) rulesFor(ctx context.Context, origin string) *robotstxt.RobotsData {
	if cached, found := r.rules.Get(origin); found {
		data, _ := cached.(*robotstxt.RobotsData)
		return data
	}

	data, err := r.fetch(ctx, origin)
	if err != nil {
		zap.L().Debug("robots: robots.txt unavailable, allowing downloads",
			zap.String("origin", origin),
			zap.Error(err),
		)
		// Remember the miss briefly so a batch on one host fetches once
		r.rules.Set(origin, (*robotstxt.RobotsData)(nil), unavailableTTL)
		return nil
	}

	r.rules.Set(origin, data, gocache.DefaultExpiration)
	return data
}

func (r *RobotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, eris.Wrap(err, "robots: create request")
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "robots: fetch robots.txt")
	}
	defer func() { _ = resp.Body.Close() }()

	// 4xx allows everything and 5xx disallows everything
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, eris.Wrap(err, "robots: parse robots.txt")
	}
	return data, nil
}

// NormalizeUserAgent reduces "micr/1.0 (+url)" to the product token "micr"
func NormalizeUserAgent(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) > 0 {
		return strings.Split(parts[0], "/")[0]
	}
	return ua
}
