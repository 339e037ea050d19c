// Package apitest runs an in-process JSON API with list and detail endpoints
// for tests. Collections are served under /v1/<collection> with Google-style
// pageToken paging, or OData-style next links when enabled.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPageSize is used when a request does not send pageSize
const DefaultPageSize = 10

// Server simulates a paginated JSON API with injectable failures
type Server struct {
	server *httptest.Server

	mu             sync.RWMutex
	collections    map[string][]map[string]interface{}
	errorResponses map[string]int // permanent status per path
	failures       map[string]*failure
	delays         map[string]time.Duration
	nextLink       bool
	lastHeaders    http.Header

	requestCount  int32
	rateLimitLeft int32
	rateLimitHits int32
	retryAfter    string
}

type failure struct {
	code      int
	remaining int
}

// NewServer starts a server with no collections
func NewServer() *Server {
	s := &Server{
		collections:    make(map[string][]map[string]interface{}),
		errorResponses: make(map[string]int),
		failures:       make(map[string]*failure),
		delays:         make(map[string]time.Duration),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/", s.handle)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the server's base URL including the /v1 prefix
func (s *Server) URL() string {
	return s.server.URL + "/v1"
}

// Close shuts the server down
func (s *Server) Close() {
	s.server.Close()
}

// AddCollection serves items under /v1/<name>
func (s *Server) AddCollection(name string, items []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = items
}

// SetNextLinkMode switches list responses to {"value": [...], "@odata.nextLink": url}
func (s *Server) SetNextLinkMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLink = enabled
}

// SetErrorResponse makes every request to path fail with code
func (s *Server) SetErrorResponse(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorResponses[path] = code
}

// ClearErrorResponse removes a permanent failure
func (s *Server) ClearErrorResponse(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errorResponses, path)
}

// FailNext makes the next times requests to path fail with code
func (s *Server) FailNext(path string, code, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{code: code, remaining: times}
}

// SetDelay delays every response for path
func (s *Server) SetDelay(path string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[path] = delay
}

// EnableRateLimitForRequests answers the next count requests with 429 and
// the given Retry-After value ("" sends no header).
func (s *Server) EnableRateLimitForRequests(count int, retryAfter string) {
	s.mu.Lock()
	s.retryAfter = retryAfter
	s.mu.Unlock()
	atomic.StoreInt32(&s.rateLimitLeft, int32(count))
}

// RequestCount returns the number of requests received
func (s *Server) RequestCount() int {
	return int(atomic.LoadInt32(&s.requestCount))
}

// RateLimitHits returns the number of 429 responses sent
func (s *Server) RateLimitHits() int {
	return int(atomic.LoadInt32(&s.rateLimitHits))
}

// LastHeader returns a header of the most recent request
func (s *Server) LastHeader(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastHeaders == nil {
		return ""
	}
	return s.lastHeaders.Get(name)
}

// ResetCounters zeroes the request and rate limit counters
func (s *Server) ResetCounters() {
	atomic.StoreInt32(&s.requestCount, 0)
	atomic.StoreInt32(&s.rateLimitHits, 0)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&s.requestCount, 1)

	s.mu.Lock()
	s.lastHeaders = r.Header.Clone()
	delay := s.delays[r.URL.Path]
	code := s.errorResponses[r.URL.Path]
	if f, ok := s.failures[r.URL.Path]; ok && code == 0 && f.remaining > 0 {
		f.remaining--
		code = f.code
	}
	retryAfter := s.retryAfter
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if atomic.AddInt32(&s.rateLimitLeft, -1) >= 0 {
		atomic.AddInt32(&s.rateLimitHits, 1)
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		s.sendError(w, http.StatusTooManyRequests, "Quota exceeded, slow down", n)
		return
	}
	atomic.StoreInt32(&s.rateLimitLeft, 0)

	if code > 0 {
		s.sendError(w, code, fmt.Sprintf("simulated failure for %s", r.URL.Path), n)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/"), "/"), "/")
	switch len(parts) {
	case 1:
		s.handleList(w, r, parts[0])
	case 2:
		s.handleItem(w, parts[0], parts[1], n)
	default:
		s.sendError(w, http.StatusNotFound, "no such route", n)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, name string) {
	s.mu.RLock()
	items, ok := s.collections[name]
	nextLink := s.nextLink
	s.mu.RUnlock()
	if !ok {
		s.sendError(w, http.StatusNotFound, "collection "+name+" not found", 0)
		return
	}

	query := r.URL.Query()
	size := DefaultPageSize
	if v := query.Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}

	offset := 0
	if token := query.Get("pageToken"); token != "" {
		n, err := decodeToken(token)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid page token", 0)
			return
		}
		offset = n
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}

	body := map[string]interface{}{}
	if nextLink {
		body["value"] = items[offset:end]
		if end < len(items) {
			next := *r.URL
			q := next.Query()
			q.Set("pageToken", encodeToken(end))
			q.Set("pageSize", strconv.Itoa(size))
			next.RawQuery = q.Encode()
			body["@odata.nextLink"] = s.server.URL + next.RequestURI()
		}
	} else {
		body["items"] = items[offset:end]
		if end < len(items) {
			body["nextPageToken"] = encodeToken(end)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleItem(w http.ResponseWriter, name, id string, n int32) {
	s.mu.RLock()
	items := s.collections[name]
	s.mu.RUnlock()

	for _, item := range items {
		if fmt.Sprint(item["id"]) == id {
			detail := make(map[string]interface{}, len(item)+1)
			for k, v := range item {
				detail[k] = v
			}
			detail["detail"] = true
			writeJSON(w, http.StatusOK, detail)
			return
		}
	}
	s.sendError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", name, id), n)
}

// sendError writes a Google-style error body
func (s *Server) sendError(w http.ResponseWriter, code int, message string, n int32) {
	if code >= 500 {
		w.Header().Set("X-Request-Id", fmt.Sprintf("req-%d", n))
	}
	writeJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"status":  http.StatusText(code),
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func encodeToken(offset int) string {
	return url.QueryEscape("o:" + strconv.Itoa(offset))
}

func decodeToken(token string) (int, error) {
	raw, err := url.QueryUnescape(token)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(raw, "o:") {
		return 0, fmt.Errorf("malformed token %q", token)
	}
	return strconv.Atoi(strings.TrimPrefix(raw, "o:"))
}

// GenerateItems returns count items with ids prefix-001, prefix-002, ...
func GenerateItems(count int, prefix string) []map[string]interface{} {
	items := make([]map[string]interface{}, count)
	for i := range items {
		items[i] = map[string]interface{}{
			"id":    fmt.Sprintf("%s-%03d", prefix, i+1),
			"name":  fmt.Sprintf("%s item %d", prefix, i+1),
			"index": i,
		}
	}
	return items
}
