// Package inference is the HTTP client for the local metadata inference
// server: image analysis, translation, keyword optimisation and health.
package inference

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

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrServerOffline is returned when the server cannot be reached, or when a
// caller already knows it is down and skips the request.
var ErrServerOffline = errors.New("inference server is offline")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server error: %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: server error: %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Config configures the client.
type Config struct {
	// BaseURL includes the /api prefix. Health is served beside it, not under it.
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// DefaultConfig points at a server on localhost:5000.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:5000/api",
		Timeout:       60 * time.Second,
		HealthTimeout: 5 * time.Second,
		Burst:         1,
	}
}

// Localized holds the English and Arabic renditions of one value.
type Localized struct {
	En string `json:"en"`
	Ar string `json:"ar"`
}

// KeywordSet holds keywords per language.
type KeywordSet struct {
	En []string `json:"en"`
	Ar []string `json:"ar"`
}

// Metadata is the generated metadata for one image.
type Metadata struct {
	Titles      Localized  `json:"titles"`
	Description Localized  `json:"description,omitempty"`
	Keywords    KeywordSet `json:"keywords"`
	Category    Localized  `json:"category"`
	License     string     `json:"license,omitempty"`
}

// Analysis is the /analyze response.
type Analysis struct {
	Metadata Metadata `json:"metadata"`
	Provider string   `json:"provider,omitempty"`
}

// Translation is the /translate response.
type Translation struct {
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang,omitempty"`
	TargetLang     string `json:"target_lang,omitempty"`
}

// OptimizeRequest is the /optimize request body.
type OptimizeRequest struct {
	Title    string   `json:"title,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Category string   `json:"category,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Optimization is the /optimize response.
type Optimization struct {
	OptimizedTitle    string   `json:"optimized_title,omitempty"`
	OptimizedKeywords []string `json:"optimized_keywords"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the inference server. It is safe for concurrent use.
type Client struct {
	cfg       Config
	base      *url.URL
	healthURL string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New validates cfg and builds a client.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid inference base_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid inference base_url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("inference"),
	}
	for _, opt := range opts {
		opt(c)
	}

	health := *base
	health.Path = strings.TrimSuffix(health.Path, "/api") + "/health"
	c.healthURL = health.String()
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.base.String() }

// Analyze asks the server to generate metadata for a base64 encoded image.
func (c *Client) Analyze(ctx context.Context, image string) (*Analysis, error) {
	var out Analysis
	if err := c.post(ctx, "/analyze", map[string]string{"image": image}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Translate translates text into targetLang ("en" or "ar").
func (c *Client) Translate(ctx context.Context, text, targetLang string) (*Translation, error) {
	var out Translation
	body := map[string]string{"text": text, "target_lang": targetLang}
	if err := c.post(ctx, "/translate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Optimize asks the server to improve a title and keyword list.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (*Optimization, error) {
	var out Optimization
	if err := c.post(ctx, "/optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports whether the server answers its health endpoint with a 2xx
// within HealthTimeout. It never returns an error; unreachable is offline.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", endpoint, err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: failed to encode request: %w", endpoint, err)
	}
	u := *c.base
	u.Path += endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", endpoint, ctxErr)
		}
		return fmt.Errorf("%s: %w: %v", endpoint, ErrServerOffline, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", endpoint, err)
	}

	c.logger.Debug("Inference request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
