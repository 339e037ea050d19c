package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"apikit/internal/apitest"
	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no token stored")
	}
	return string(s), nil
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewNopLogger())}, opts...)
	c, err := New(config.HTTPConfig{BaseURL: baseURL, Timeout: 5 * time.Second, UserAgent: "apikit-test/1.0"}, opts...)
	require.NoError(t, err)
	return c
}

func newTestServer(t *testing.T) *apitest.Server {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddCollection("widgets", apitest.GenerateItems(25, "widget"))
	return srv
}

func TestNew(t *testing.T) {
	_, err := New(config.HTTPConfig{})
	assert.Error(t, err, "missing base URL")

	_, err = New(config.HTTPConfig{BaseURL: "ftp://example.com"})
	assert.Error(t, err, "unsupported scheme")

	c, err := New(config.HTTPConfig{
		BaseURL:   "https://api.example.com/v1",
		UserAgent: "ua/1",
		Headers:   map[string]string{"X-Api-Version": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ua/1", c.headers["User-Agent"])
	assert.Equal(t, "2", c.headers["X-Api-Version"])
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestResolve(t *testing.T) {
	c := newTestClient(t, "https://api.example.com/v1?key=abc")

	tests := []struct {
		path string
		want string
	}{
		{"projects", "https://api.example.com/v1/projects?key=abc"},
		{"/projects/p1", "https://api.example.com/v1/projects/p1?key=abc"},
		{"projects?pageToken=x", "https://api.example.com/v1/projects?key=abc&pageToken=x"},
		{"https://other.example.com/next?page=2", "https://other.example.com/next?page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			u, err := c.resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestGetClassifiesStatus(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL())

	tests := []struct {
		name   string
		status int
		kind   errs.Kind
		check  func(t *testing.T, e *errs.Error)
	}{
		{"unauthorized", http.StatusUnauthorized, errs.KindAuth, func(t *testing.T, e *errs.Error) {
			assert.Equal(t, 401, e.Code)
		}},
		{"forbidden", http.StatusForbidden, errs.KindAuth, func(t *testing.T, e *errs.Error) {
			assert.Equal(t, 403, e.Code)
		}},
		{"not found", http.StatusNotFound, errs.KindNotFound, func(t *testing.T, e *errs.Error) {
			assert.Equal(t, "widget-404", e.ResourceID)
		}},
		{"server", http.StatusServiceUnavailable, errs.KindServer, func(t *testing.T, e *errs.Error) {
			assert.Equal(t, 503, e.Code)
			assert.NotEmpty(t, e.RequestID)
			assert.Contains(t, e.Message, "simulated failure")
		}},
		{"bad request", http.StatusBadRequest, errs.KindUnknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv.SetErrorResponse("/v1/widgets/widget-404", tt.status)
			defer srv.ClearErrorResponse("/v1/widgets/widget-404")

			failure, failed := c.Get(context.Background(), "widgets/widget-404").Error()
			require.True(t, failed)
			assert.Equal(t, tt.kind, failure.Kind)
			if tt.check != nil {
				tt.check(t, failure)
			}
		})
	}
}

func TestGetRateLimitHint(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL())

	srv.EnableRateLimitForRequests(1, "7")
	failure, failed := c.Get(context.Background(), "widgets").Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindRateLimit, failure.Kind)
	assert.Equal(t, 7*time.Second, failure.RetryAfter)

	srv.EnableRateLimitForRequests(1, "")
	failure, _ = c.Get(context.Background(), "widgets").Error()
	assert.Equal(t, 60*time.Second, failure.RetryAfter, "missing header falls back to the default hint")

	assert.True(t, c.Get(context.Background(), "widgets").IsOK())
	assert.Equal(t, 2, srv.RateLimitHits())
}

func TestGetSendsHeaders(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL(), WithTokenSource(staticToken("secret")), WithHeader("X-Team", "core"))

	require.True(t, c.Get(context.Background(), "widgets/widget-001").IsOK())
	assert.Equal(t, "Bearer secret", srv.LastHeader("Authorization"))
	assert.Equal(t, "apikit-test/1.0", srv.LastHeader("User-Agent"))
	assert.Equal(t, "core", srv.LastHeader("X-Team"))
	assert.NotEmpty(t, srv.LastHeader(CorrelationHeader))
}

func TestGetMissingToken(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL(), WithTokenSource(staticToken("")))

	failure, failed := c.Get(context.Background(), "widgets").Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindAuth, failure.Kind)
	assert.Equal(t, 0, srv.RequestCount())
}

func TestGetTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	failure, failed := c.Get(context.Background(), "widgets").Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindNetwork, failure.Kind)
	assert.True(t, failure.Retryable())
}

func TestGetCancelledWhileThrottled(t *testing.T) {
	srv := newTestServer(t)
	bucket := ratelimit.NewTokenBucket(1, time.Hour)
	bucket.Allow()
	c := newTestClient(t, srv.URL(), WithLimiter(bucket))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, failed := c.Get(ctx, "widgets").Error()
	assert.True(t, failed)
	assert.Equal(t, 0, srv.RequestCount())
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"id":"w1","name":"first"}`))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(`{invalid json`))
		}
	}))
	defer srv.Close()

	tl := logger.NewTestLogger()
	c := newTestClient(t, srv.URL, WithLogger(tl))

	type widget struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	w, ok := GetJSON[widget](context.Background(), c, "ok").Value()
	require.True(t, ok)
	assert.Equal(t, widget{ID: "w1", Name: "first"}, w)

	raw, ok := c.Get(context.Background(), "empty").Value()
	require.True(t, ok)
	assert.JSONEq(t, "null", string(raw))

	failure, failed := GetJSON[widget](context.Background(), c, "broken").Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindUnknown, failure.Kind)
	assert.True(t, tl.HasMessage("failed to parse JSON response"))
}

func TestRequestHook(t *testing.T) {
	srv := newTestServer(t)
	var (
		mu     sync.Mutex
		events []RequestEvent
	)
	c := newTestClient(t, srv.URL(), WithRequestHook(func(ev RequestEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	c.Get(context.Background(), "widgets")
	c.Get(context.Background(), "widgets/missing")

	require.Len(t, events, 2)
	assert.Equal(t, http.StatusOK, events[0].StatusCode)
	assert.Nil(t, events[0].Err)
	assert.Equal(t, http.StatusNotFound, events[1].StatusCode)
	require.NotNil(t, events[1].Err)
	assert.Equal(t, "missing", events[1].Err.ResourceID)
}

func TestStatusErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"code":403,"message":"caller lacks permission"}}`, "caller lacks permission"},
		{`{"error":"invalid_grant"}`, "invalid_grant"},
		{`{"message":"slow down"}`, "slow down"},
		{`<html>oops</html>`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, serverMessage([]byte(tt.body)), tt.body)
	}

	se := &StatusError{Code: 429, Header: http.Header{"Retry-After": []string{"12"}}}
	d, ok := se.RetryAfter()
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, d)
	assert.Equal(t, "HTTP 429 Too Many Requests", se.Error())
}

func TestResourceID(t *testing.T) {
	_, err := NewResourceID("  ")
	assert.ErrorIs(t, err, ErrEmptyResourceID)

	id, err := NewResourceID("p-1")
	require.NoError(t, err)
	assert.Equal(t, ResourceID("p-1"), id)

	assert.Equal(t, ResourceID("w-9"), ResourceIDFromPath("/v1/widgets/w-9/"))
	assert.Equal(t, ResourceID("unknown"), ResourceIDFromPath("/"))
}

func TestGetRawMessage(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.URL())

	raw, ok := c.Get(context.Background(), "widgets/widget-002").Value()
	require.True(t, ok)

	var item map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &item))
	assert.Equal(t, "widget-002", item["id"])
	assert.Equal(t, true, item["detail"])
}
