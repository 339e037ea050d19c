package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apikit/pkg/classify"
	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
	"apikit/pkg/ratelimit"

	"github.com/google/uuid"
)

// CorrelationHeader carries the client-generated id of each request
const CorrelationHeader = "X-Correlation-Id"

// maxBodySize bounds how much of a response body is read
const maxBodySize = 32 << 20

// TokenSource supplies the bearer token sent with each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RequestEvent describes one completed HTTP exchange
type RequestEvent struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Err        *errs.Error
}

// Client performs GET requests against a JSON API
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    *url.URL
	limiter    ratelimit.Limiter
	tokens     TokenSource
	classifier *classify.Classifier
	logger     logger.Logger
	onRequest  func(RequestEvent)
	newID      func() string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLimiter throttles outbound requests
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithTokenSource sends a bearer token with every request
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithClassifier overrides the failure classifier
func WithClassifier(cl *classify.Classifier) Option {
	return func(c *Client) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = logger.OrNop(l) }
}

// WithRequestHook is called after every request, successful or not
func WithRequestHook(fn func(RequestEvent)) Option {
	return func(c *Client) { c.onRequest = fn }
}

// WithHeader sets a header sent with every request
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// New creates a client for the API described by cfg
func New(cfg config.HTTPConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Accept": "application/json",
		},
		baseURL:    base,
		limiter:    ratelimit.Unlimited{},
		classifier: classify.New(),
		logger:     logger.GetLogger(),
		newID:      func() string { return uuid.New().String() },
	}
	if cfg.UserAgent != "" {
		c.headers["User-Agent"] = cfg.UserAgent
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the URL relative paths are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Get performs one GET request and returns the raw JSON body.
// Non-2xx responses and transport failures come back classified.
func (c *Client) Get(ctx context.Context, path string) outcome.Outcome[json.RawMessage, *errs.Error] {
	target, err := c.resolve(path)
	if err != nil {
		return outcome.Failure[json.RawMessage](errs.Validation(fmt.Sprintf("invalid path %q: %v", path, err), "path"))
	}

	body, failure := c.doRequest(ctx, target, ResourceIDFromPath(target.Path))
	if failure != nil {
		return outcome.Failure[json.RawMessage](failure)
	}
	return outcome.Success[json.RawMessage, *errs.Error](body)
}

// Operation adapts Get to the retry executor
func (c *Client) Operation(path string) func(context.Context) outcome.Outcome[json.RawMessage, *errs.Error] {
	return func(ctx context.Context) outcome.Outcome[json.RawMessage, *errs.Error] {
		return c.Get(ctx, path)
	}
}

// GetJSON performs a GET request and decodes the body into T
func GetJSON[T any](ctx context.Context, c *Client, path string) outcome.Outcome[T, *errs.Error] {
	return outcome.AndThen(c.Get(ctx, path), func(body json.RawMessage) outcome.Outcome[T, *errs.Error] {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"path":         path,
				"error":        err.Error(),
				"body_preview": preview(body, 200),
			})
			return outcome.Failure[T](errs.Unknown(fmt.Sprintf("failed to parse JSON: %v", err), err))
		}
		return outcome.Success[T, *errs.Error](v)
	})
}

func (c *Client) doRequest(ctx context.Context, target *url.URL, resource ResourceID) (json.RawMessage, *errs.Error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.classifier.Classify(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errs.Validation(fmt.Sprintf("failed to create request: %v", err), "path")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	correlationID := c.newID()
	req.Header.Set(CorrelationHeader, correlationID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, errs.Auth(fmt.Sprintf("no usable credentials: %v", err), http.StatusUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log := c.logger.WithFields(map[string]interface{}{
		"url":            target.String(),
		"correlation_id": correlationID,
	})
	log.Debug("sending request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		failure := c.classifier.Classify(err)
		if failure.Kind == errs.KindUnknown && ctx.Err() == nil {
			failure = errs.Network(fmt.Sprintf("request failed: %v", err), err)
		}
		log.WithError(err).Error("HTTP request failed")
		c.notify(RequestEvent{Method: req.Method, URL: target.String(), Duration: time.Since(start), Err: failure})
		return nil, failure
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	duration := time.Since(start)
	logger.LogRequest(log, req.Method, target.String(), resp.StatusCode, duration)
	if err != nil {
		failure := errs.Network(fmt.Sprintf("failed to read response body: %v", err), err)
		c.notify(RequestEvent{Method: req.Method, URL: target.String(), StatusCode: resp.StatusCode, Duration: duration, Err: failure})
		return nil, failure
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := newStatusError(resp, body)
		failure := c.classifier.Classify(statusErr, classify.WithResourceID(string(resource)))
		if failure.Kind == errs.KindRateLimit || failure.Kind == errs.KindQuota {
			logger.LogRateLimit(log, target.Path, failure.RetryAfter)
		}
		c.notify(RequestEvent{Method: req.Method, URL: target.String(), StatusCode: resp.StatusCode, Duration: duration, Err: failure})
		return nil, failure
	}

	c.notify(RequestEvent{Method: req.Method, URL: target.String(), StatusCode: resp.StatusCode, Duration: duration})
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(body), nil
}

func (c *Client) notify(ev RequestEvent) {
	if c.onRequest != nil {
		c.onRequest(ev)
	}
}

// resolve joins a relative path onto the base URL, keeping the base path.
// Absolute URLs are used as given.
func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = ""
	query := c.baseURL.Query()
	for key, values := range ref.Query() {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return &u, nil
}

func preview(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
