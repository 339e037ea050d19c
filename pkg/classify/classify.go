// Package classify turns arbitrary failures into the closed *errs.Error taxonomy.
//
// Classification happens once, at the boundary where a transport call returns.
// Everything downstream (retry, paginate, harvest) only ever sees *errs.Error.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/outcome"
)

// DefaultRetryAfter is used for 429 responses that carry no wait hint
const DefaultRetryAfter = 60 * time.Second

// DefaultNetworkIndicators are message substrings that mark a failure as a transport problem
var DefaultNetworkIndicators = []string{
	"ENOTFOUND",
	"ETIMEDOUT",
	"ECONNRESET",
	"ECONNREFUSED",
	"no such host",
	"i/o timeout",
	"connection reset",
	"connection refused",
	"timeout",
}

// Classifier maps failures to *errs.Error
type Classifier struct {
	defaultRetryAfter time.Duration
	networkIndicators []string
}

// Option configures a Classifier
type Option func(*Classifier)

// WithDefaultRetryAfter sets the wait used for rate-limit responses without a hint
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(c *Classifier) {
		if d >= 0 {
			c.defaultRetryAfter = d
		}
	}
}

// WithNetworkIndicators replaces the message substrings treated as network failures
func WithNetworkIndicators(indicators ...string) Option {
	return func(c *Classifier) {
		c.networkIndicators = append([]string(nil), indicators...)
	}
}

// New creates a Classifier
func New(opts ...Option) *Classifier {
	c := &Classifier{
		defaultRetryAfter: DefaultRetryAfter,
		networkIndicators: DefaultNetworkIndicators,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption carries per-call context into a classification
type CallOption func(*callOptions)

type callOptions struct {
	resourceID string
}

// WithResourceID names the resource a not-found failure refers to
func WithResourceID(id string) CallOption {
	return func(o *callOptions) {
		o.resourceID = id
	}
}

var defaultClassifier = New()

// Classify uses the default classifier
func Classify(raw any, opts ...CallOption) *errs.Error {
	return defaultClassifier.Classify(raw, opts...)
}

// Capture runs fn and classifies its error, if any
func Capture[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...CallOption) outcome.Outcome[T, *errs.Error] {
	return CaptureWith(ctx, defaultClassifier, fn, opts...)
}

// CaptureWith is Capture with an explicit classifier
func CaptureWith[T any](ctx context.Context, c *Classifier, fn func(context.Context) (T, error), opts ...CallOption) outcome.Outcome[T, *errs.Error] {
	value, err := fn(ctx)
	if err != nil {
		return outcome.Failure[T](c.Classify(err, opts...))
	}
	return outcome.Success[T, *errs.Error](value)
}

// Classify maps raw to exactly one *errs.Error. A nil input yields an unknown error.
func (c *Classifier) Classify(raw any, opts ...CallOption) *errs.Error {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	if raw == nil {
		return errs.Unknown("nil failure", nil)
	}

	err, isErr := raw.(error)
	if isErr {
		if apiErr, ok := errs.As(err); ok {
			return apiErr
		}
	}

	if status, ok := statusOf(raw); ok {
		if classified := c.fromStatus(raw, status, co); classified != nil {
			return classified
		}
		// a response arrived, so the transport worked
		if isErr {
			return errs.Unknown(err.Error(), err)
		}
		return errs.Unknown(messageOf(raw, status), &valueError{value: raw})
	}

	if !isErr {
		return errs.Unknown(fmt.Sprint(raw), &valueError{value: raw})
	}

	if c.isNetwork(err) {
		return errs.Network(err.Error(), err)
	}

	return errs.Unknown(err.Error(), err)
}

func (c *Classifier) fromStatus(raw any, status int, co callOptions) *errs.Error {
	msg := messageOf(raw, status)

	switch {
	case status == http.StatusUnauthorized:
		return errs.Auth(msg, http.StatusUnauthorized)
	case status == http.StatusForbidden:
		return errs.Auth(msg, http.StatusForbidden)
	case status == http.StatusNotFound:
		return errs.NotFound(msg, co.resourceID)
	case status == http.StatusTooManyRequests:
		retryAfter, ok := retryAfterOf(raw)
		if !ok {
			retryAfter = c.defaultRetryAfter
		}
		return errs.RateLimit(msg, retryAfter)
	case status >= 500:
		return errs.Server(msg, status, requestIDOf(raw))
	}
	return nil
}

func (c *Classifier) isNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range c.networkIndicators {
		if strings.Contains(msg, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

type statusCoder interface{ StatusCode() int }

type httpStatuser interface{ HTTPStatus() int }

type responder interface{ Response() *http.Response }

type retryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

type requestIDer interface{ RequestID() string }

func statusOf(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case *http.Response:
		if v != nil {
			return v.StatusCode, true
		}
		return 0, false
	case error:
		var sc statusCoder
		if errors.As(v, &sc) {
			return sc.StatusCode(), true
		}
		var hs httpStatuser
		if errors.As(v, &hs) {
			return hs.HTTPStatus(), true
		}
		if resp := responseOf(v); resp != nil {
			return resp.StatusCode, true
		}
	}
	return 0, false
}

func responseOf(raw any) *http.Response {
	switch v := raw.(type) {
	case *http.Response:
		return v
	case error:
		var r responder
		if errors.As(v, &r) {
			return r.Response()
		}
	}
	return nil
}

func retryAfterOf(raw any) (time.Duration, bool) {
	if err, ok := raw.(error); ok {
		var ra retryAfterer
		if errors.As(err, &ra) {
			if d, ok := ra.RetryAfter(); ok {
				return d, true
			}
		}
	}
	if resp := responseOf(raw); resp != nil {
		return ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return 0, false
}

func requestIDOf(raw any) errs.RequestID {
	if err, ok := raw.(error); ok {
		var r requestIDer
		if errors.As(err, &r) {
			return errs.RequestID(r.RequestID())
		}
	}
	if resp := responseOf(raw); resp != nil {
		for _, h := range []string{"X-Request-Id", "X-Goog-Request-Id", "Request-Id"} {
			if id := resp.Header.Get(h); id != "" {
				return errs.RequestID(id)
			}
		}
	}
	return ""
}

func messageOf(raw any, status int) string {
	switch v := raw.(type) {
	case error:
		return v.Error()
	case *http.Response:
		return v.Status
	default:
		if text := http.StatusText(status); text != "" {
			return text
		}
		return fmt.Sprintf("status %d", status)
	}
}

// ParseRetryAfter reads a Retry-After header value in either delta-seconds or HTTP-date form
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// valueError carries a non-error failure value as an error cause
type valueError struct {
	value any
}

func (e *valueError) Error() string {
	return fmt.Sprintf("non-error failure: %v", e.value)
}

// Value returns the original failure value
func (e *valueError) Value() any {
	return e.value
}
