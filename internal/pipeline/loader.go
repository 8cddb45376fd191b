package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ppiankov/micr/internal/util"
)

// SupportedExtensions lists the image file extensions the loader accepts
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

var (
	ErrUnsupportedFormat = eris.New("pipeline: unsupported image format")
	ErrImageTooLarge     = eris.New("pipeline: image exceeds size limit")
	ErrImageTooSmall     = eris.New("pipeline: image below minimum dimensions")
	ErrUndecodable       = eris.New("pipeline: image cannot be decoded")
	ErrRobotsDisallowed  = eris.New("pipeline: download disallowed by robots.txt")
)

// loadSleepFunc is the backoff sleep between download attempts, replaced in tests
var loadSleepFunc = func(d time.Duration) { time.Sleep(d) }

// LoaderConfig controls image loading and validation
type LoaderConfig struct {
	MaxBytes      int64  `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
	MinWidth      int    `json:"min_width" yaml:"min_width" mapstructure:"min_width"`
	MinHeight     int    `json:"min_height" yaml:"min_height" mapstructure:"min_height"`
	Timeout       int    `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds, remote images only
	UserAgent     string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	RespectRobots bool   `json:"respect_robots" yaml:"respect_robots" mapstructure:"respect_robots"`
	MaxRetries    int    `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// DefaultLoaderConfig returns the default image limits (10 MiB, 100x100)
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MaxBytes:      10 << 20,
		MinWidth:      100,
		MinHeight:     100,
		Timeout:       30,
		UserAgent:     "micr/1.0 (+https://github.com/ppiankov/micr)",
		RespectRobots: true,
		MaxRetries:    3,
	}
}

// LoadedImage is a validated check image ready for the model
type LoadedImage struct {
	Source   string
	Data     []byte
	MIMEType string
	Format   string // decoder name: jpeg, png, bmp, tiff, webp
	Hash     string // hex sha256 of Data
	Width    int
	Height   int
}

// HostThrottle paces image downloads per host
type HostThrottle interface {
	Wait(ctx context.Context, key string) error
	SetCrawlDelay(key string, delay time.Duration)
}

// Loader reads check images from disk or over HTTP(S)
type Loader struct {
	cfg        LoaderConfig
	httpClient *http.Client
	robots     *util.RobotsChecker
	throttle   HostThrottle
}

// NewLoader creates a loader; httpClient may be nil for a default client
func NewLoader(cfg LoaderConfig, httpClient *http.Client) *Loader {
	defaults := DefaultLoaderConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = defaults.MinWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = defaults.MinHeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return eris.New("pipeline: stopped after 3 redirects")
		}
		return nil
	}

	l := &Loader{
		cfg:        cfg,
		httpClient: httpClient,
	}
	if cfg.RespectRobots {
		l.robots = util.NewRobotsChecker(cfg.UserAgent, httpClient)
	}
	return l
}

// WithThrottle paces downloads through t; robots.txt crawl delays are applied to it
func (l *Loader) WithThrottle(t HostThrottle) *Loader {
	l.throttle = t
	return l
}

// IsSupportedImage reports whether name has a supported image extension
func IsSupportedImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsRemote reports whether source is an HTTP(S) URL
func IsRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Load reads and validates the image at source
func (l *Loader) Load(ctx context.Context, source string) (*LoadedImage, error) {
	var (
		data []byte
		err  error
	)

	if IsRemote(source) {
		data, err = l.fetch(ctx, source)
	} else {
		data, err = l.readFile(source)
	}
	if err != nil {
		return nil, err
	}

	return l.decode(source, data)
}

func (l *Loader) readFile(name string) ([]byte, error) {
	if !IsSupportedImage(name) {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "extension %q", filepath.Ext(name))
	}

	info, err := os.Stat(name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: stat image")
	}
	if info.IsDir() {
		return nil, eris.Errorf("pipeline: %s is a directory", name)
	}
	if info.Size() > l.cfg.MaxBytes {
		return nil, eris.Wrapf(ErrImageTooLarge, "%d bytes", info.Size())
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read image")
	}
	return data, nil
}

// fetch downloads a remote image, retrying 429 and 5xx responses with backoff
func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: parse URL")
	}
	// URLs without an extension are judged by their content
	if ext := path.Ext(parsed.Path); ext != "" && !IsSupportedImage(parsed.Path) {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
	}

	if l.robots != nil {
		policy, err := l.robots.Check(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !policy.Allowed {
			return nil, eris.Wrap(ErrRobotsDisallowed, rawURL)
		}
		if policy.CrawlDelay > 0 && l.throttle != nil {
			l.throttle.SetCrawlDelay(rawURL, policy.CrawlDelay)
		}
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			zap.L().Debug("pipeline: retrying image download",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			loadSleepFunc(backoff)
		}

		if l.throttle != nil {
			if err := l.throttle.Wait(ctx, rawURL); err != nil {
				return nil, eris.Wrap(err, "pipeline: wait for download slot")
			}
		}

		data, status, err := l.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryableStatus(status) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (l *Loader) fetchOnce(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: create request")
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: download image")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, eris.Errorf("pipeline: unexpected status: %d", resp.StatusCode)
	}

	if resp.ContentLength > l.cfg.MaxBytes {
		return nil, resp.StatusCode, eris.Wrapf(ErrImageTooLarge, "%d bytes", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.MaxBytes+1))
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "pipeline: read body")
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return nil, resp.StatusCode, eris.Wrapf(ErrImageTooLarge, "more than %d bytes", l.cfg.MaxBytes)
	}

	return data, resp.StatusCode, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// decode verifies the bytes are a decodable image of sufficient size
func (l *Loader) decode(source string, data []byte) (*LoadedImage, error) {
	if len(data) == 0 {
		return nil, eris.Wrap(ErrUndecodable, "empty file")
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(ErrUndecodable, err.Error())
	}

	bounds := img.Bounds()
	if bounds.Dx() < l.cfg.MinWidth || bounds.Dy() < l.cfg.MinHeight {
		return nil, eris.Wrapf(ErrImageTooSmall, "%dx%d, need at least %dx%d",
			bounds.Dx(), bounds.Dy(), l.cfg.MinWidth, l.cfg.MinHeight)
	}

	return &LoadedImage{
		Source:   source,
		Data:     data,
		MIMEType: "image/" + format,
		Format:   format,
		Hash:     HashBytes(data),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// HashBytes returns the hex sha256 used to key analyses
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
