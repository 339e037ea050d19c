package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the closed set of API failure categories
type Kind string

const (
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindQuota      Kind = "quota"
	KindRateLimit  Kind = "rate_limit"
	KindServer     Kind = "server"
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// UnknownResource is the resource id used when a not-found failure did not say what was missing
const UnknownResource = "unknown"

var allKinds = []Kind{
	KindAuth,
	KindNotFound,
	KindQuota,
	KindRateLimit,
	KindServer,
	KindNetwork,
	KindValidation,
	KindUnknown,
}

// Kinds returns every kind in the taxonomy
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind converts a string into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown error kind: %q", s)
}

// IsRetryable reports whether failures of this kind may clear up on their own
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindQuota, KindRateLimit, KindServer, KindNetwork:
		return true
	case KindAuth, KindNotFound, KindValidation, KindUnknown:
		return false
	default:
		return false
	}
}

// RequestID is a server-issued request identifier
type RequestID string

// Error is a classified API failure.
//
// Kind determines which of the remaining fields are meaningful:
//
//	auth        Code (401 or 403)
//	not_found   ResourceID
//	quota       RetryAfter
//	rate_limit  RetryAfter
//	server      Code (>= 500), RequestID (optional)
//	network     Cause (optional)
//	validation  Field (optional)
//	unknown     Cause (optional)
//
// Use the constructors below; they keep the fields consistent with Kind.
type Error struct {
	Kind       Kind
	Message    string
	Code       int
	ResourceID string
	RetryAfter time.Duration
	RequestID  RequestID
	Field      string
	Cause      error
}

// Auth creates an auth error. Codes other than 401 and 403 become 401.
func Auth(message string, code int) *Error {
	if code != 401 && code != 403 {
		code = 401
	}
	return &Error{Kind: KindAuth, Message: message, Code: code}
}

// NotFound creates a not-found error. An empty resourceID becomes UnknownResource.
func NotFound(message, resourceID string) *Error {
	if resourceID == "" {
		resourceID = UnknownResource
	}
	return &Error{Kind: KindNotFound, Message: message, ResourceID: resourceID}
}

// Quota creates a long-term quota error with the server-specified wait
func Quota(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindQuota, Message: message, RetryAfter: max(retryAfter, 0)}
}

// RateLimit creates a short-term throttling error with the server-specified wait
func RateLimit(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: message, RetryAfter: max(retryAfter, 0)}
}

// Server creates a remote internal failure. Codes below 500 become 500.
func Server(message string, code int, requestID RequestID) *Error {
	if code < 500 {
		code = 500
	}
	return &Error{Kind: KindServer, Message: message, Code: code, RequestID: requestID}
}

// Network creates a transport failure
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// Validation creates a caller-input error. field may be empty.
func Validation(message, field string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// Unknown creates an unclassified failure
func Unknown(message string, cause error) *Error {
	return &Error{Kind: KindUnknown, Message: message, Cause: cause}
}

// Interrupted classifies a context error the same way the classifier does:
// an expired deadline is a network failure, a cancellation is unknown.
func Interrupted(cause error) *Error {
	if cause == nil {
		cause = context.Canceled
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return Network("deadline exceeded before the operation finished", cause)
	}
	return Unknown("operation cancelled", cause)
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("auth error (code %d): %s", e.Code, e.Message)
	case KindNotFound:
		return fmt.Sprintf("not_found error (resource %s): %s", e.ResourceID, e.Message)
	case KindQuota, KindRateLimit:
		return fmt.Sprintf("%s error (retry after %s): %s", e.Kind, e.RetryAfter, e.Message)
	case KindServer:
		if e.RequestID != "" {
			return fmt.Sprintf("server error (code %d, request %s): %s", e.Code, e.RequestID, e.Message)
		}
		return fmt.Sprintf("server error (code %d): %s", e.Code, e.Message)
	case KindValidation:
		if e.Field != "" {
			return fmt.Sprintf("validation error (field %s): %s", e.Field, e.Message)
		}
		return fmt.Sprintf("validation error: %s", e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels, so errors.Is(err, ErrRateLimit) works on any wrap chain
func (e *Error) Is(target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return s.kind == e.Kind
	}
	return false
}

// Retryable reports whether this failure may be retried
func (e *Error) Retryable() bool {
	return IsRetryable(e.Kind)
}

// RetryAfterHint returns the server-specified wait for quota and rate-limit failures
func (e *Error) RetryAfterHint() (time.Duration, bool) {
	switch e.Kind {
	case KindQuota, KindRateLimit:
		return e.RetryAfter, true
	default:
		return 0, false
	}
}

// RetryAfterMillis returns the server-specified wait in milliseconds, or 0
func (e *Error) RetryAfterMillis() int64 {
	d, _ := e.RetryAfterHint()
	return d.Milliseconds()
}

// sentinel matches any *Error of the same kind
type sentinel struct {
	kind Kind
}

func (s *sentinel) Error() string {
	return string(s.kind)
}

// Kind sentinels for errors.Is checks
var (
	ErrAuth       error = &sentinel{kind: KindAuth}
	ErrNotFound   error = &sentinel{kind: KindNotFound}
	ErrQuota      error = &sentinel{kind: KindQuota}
	ErrRateLimit  error = &sentinel{kind: KindRateLimit}
	ErrServer     error = &sentinel{kind: KindServer}
	ErrNetwork    error = &sentinel{kind: KindNetwork}
	ErrValidation error = &sentinel{kind: KindValidation}
	ErrUnknown    error = &sentinel{kind: KindUnknown}
)

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
