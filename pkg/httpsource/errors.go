package httpsource

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"apikit/pkg/classify"
)

// ErrEmptyResourceID is returned by NewResourceID for blank ids
var ErrEmptyResourceID = errors.New("resource id must not be empty")

// ResourceID names the resource a request addressed
type ResourceID string

// NewResourceID validates a resource id
func NewResourceID(id string) (ResourceID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyResourceID
	}
	return ResourceID(id), nil
}

// ResourceIDFromPath uses the last path segment as the resource id
func ResourceIDFromPath(p string) ResourceID {
	base := path.Base(strings.TrimRight(p, "/"))
	if base == "." || base == "/" || base == "" {
		return "unknown"
	}
	return ResourceID(base)
}

// StatusError is a non-2xx response. The classifier reads its status code,
// Retry-After hint and request id through the methods below.
type StatusError struct {
	Code    int
	Status  string
	Header  http.Header
	Body    string
	Message string
	now     func() time.Time
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	return &StatusError{
		Code:    resp.StatusCode,
		Status:  resp.Status,
		Header:  resp.Header.Clone(),
		Body:    preview(body, 512),
		Message: serverMessage(body),
		now:     time.Now,
	}
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	if e.Message != "" {
		return fmt.Sprintf("HTTP %s: %s", status, e.Message)
	}
	return "HTTP " + status
}

func (e *StatusError) StatusCode() int { return e.Code }

// RetryAfter parses the Retry-After header as seconds or an HTTP date
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	value := e.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	return classify.ParseRetryAfter(value, now())
}

// RequestID returns the server-assigned request id, if any
func (e *StatusError) RequestID() string {
	for _, h := range []string{"X-Request-Id", "X-Goog-Request-Id", "Request-Id"} {
		if v := e.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// serverMessage pulls a human readable message out of common error bodies:
// {"error":{"message":...}}, {"error":"..."} and {"message":"..."}.
func serverMessage(body []byte) string {
	var doc struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	if len(doc.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(doc.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(doc.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return doc.Message
}
