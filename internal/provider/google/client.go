// Package google adapts the Google Maps Platform HTTP APIs to the sampler
// service ports: Roads nearestRoads for snapping, a 1x1 Static Maps tile for
// the water test, and Street View metadata and images.
package google

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/sampler"
)

const (
	// DefaultRoadsURL is the Roads API origin.
	DefaultRoadsURL = "https://roads.googleapis.com"
	// DefaultMapsURL is the Static Maps and Street View origin.
	DefaultMapsURL = "https://maps.googleapis.com"

	maxErrorBody = 4 << 10
)

var (
	_ sampler.SnapService        = (*Client)(nil)
	_ sampler.ObstructionService = (*Client)(nil)
	_ sampler.PanoramaService    = (*Client)(nil)
	_ sampler.ImageService       = (*Client)(nil)
)

var quotaMarkers = []string{"RESOURCE_EXHAUSTED", "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "quota"}

// Config holds endpoint and image settings.
type Config struct {
	RoadsURL    string
	MapsURL     string
	Timeout     time.Duration
	ImageWidth  int
	ImageHeight int
	FOV         float64
	Pitch       float64
}

func (c Config) withDefaults() Config {
	if c.RoadsURL == "" {
		c.RoadsURL = DefaultRoadsURL
	}
	if c.MapsURL == "" {
		c.MapsURL = DefaultMapsURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.ImageWidth <= 0 {
		c.ImageWidth = 640
	}
	if c.ImageHeight <= 0 {
		c.ImageHeight = 360
	}
	if c.FOV <= 0 {
		c.FOV = 90
	}
	return c
}

// StatusError is a non-2xx response that is not a quota signal.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the server side failed.
func (e *StatusError) Retryable() bool { return e.Status >= http.StatusInternalServerError }

// Client implements sampler.SnapService, ObstructionService, PanoramaService,
// and ImageService. Every call takes the credential to use.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  RetryPolicy
	pauser pauser
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  NewExponentialRetryPolicy(3, 250*time.Millisecond, 5*time.Second),
		pauser: timerPauser{},
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get issues a GET with retries and returns a 200 response. The caller
// closes the body.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, credential string) (*http.Response, error) {
	query.Set("key", credential)
	target := endpoint + "?" + query.Encode()
	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, endpoint, target)
		if err == nil {
			return resp, nil
		}
		if !c.retry.ShouldRetry(err, attempt+1) {
			return nil, err
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Debug("retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		c.pauser.Pause(ctx, delay)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *Client) once(ctx context.Context, endpoint, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		// The query string carries the credential.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = endpoint
		}
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, classifyStatus(resp.StatusCode, body)
}

func classifyStatus(status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", status, sampler.ErrQuotaExceeded)
	case status == http.StatusForbidden && hasQuotaMarker(body):
		return fmt.Errorf("status %d: %s: %w", status, snippet, sampler.ErrQuotaExceeded)
	default:
		return &StatusError{Status: status, Body: snippet}
	}
}

func hasQuotaMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range quotaMarkers {
		if bytes.Contains(lower, []byte(strings.ToLower(m))) {
			return true
		}
	}
	return false
}

func isQuotaStatus(status string) bool {
	switch status {
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "RESOURCE_EXHAUSTED":
		return true
	}
	return false
}

func formatLatLng(lat, lng float64) string {
	return fmt.Sprintf("%.7f,%.7f", lat, lng)
}
