// Package testutil provides testing utilities for the GitHub pager.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockResponse defines a canned answer for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Collection is a paged resource served by MockGitHub.
type Collection struct {
	// Pages is the number of pages advertised in the Link header. Zero
	// serves a single page without a Link header.
	Pages int

	// Body renders the payload of one page. Defaults to a JSON array
	// holding one object {"page": n}.
	Body func(page int) string

	// FailPages answers the listed pages with FailStatus.
	FailPages  map[int]bool
	FailStatus int

	// Delay is applied before every page.
	Delay time.Duration
}

// MockGitHub is a configurable mock GitHub REST server for testing.
//
// Every answer carries X-RateLimit-* headers. The remaining value starts at
// RateLimit and decreases by one per request unless a handler sets it.
type MockGitHub struct {
	server *httptest.Server

	mu          sync.RWMutex
	handlers    map[string]http.HandlerFunc
	collections map[string]Collection
	requested   map[string][]int

	RateLimit int
	ResetAt   time.Time

	requestCount      atomic.Int64
	lastRequestHeader atomic.Pointer[http.Header]
}

// NewMockGitHub starts a new mock server. Close it when done.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		handlers:    make(map[string]http.HandlerFunc),
		collections: make(map[string]Collection),
		requested:   make(map[string][]int),
		RateLimit:   5000,
		ResetAt:     time.Now().Add(time.Hour).Truncate(time.Second),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockGitHub) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockGitHub) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves c under /repos/{project}/{kind}.
func (m *MockGitHub) SetCollection(project, kind string, c Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections["/repos/"+project+"/"+kind] = c
}

// RequestCount returns the number of requests served.
func (m *MockGitHub) RequestCount() int {
	return int(m.requestCount.Load())
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockGitHub) LastRequestHeader() http.Header {
	if h := m.lastRequestHeader.Load(); h != nil {
		return *h
	}
	return nil
}

// RequestedPages returns the page numbers requested from a collection, in
// arrival order.
func (m *MockGitHub) RequestedPages(project, kind string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := m.requested["/repos/"+project+"/"+kind]
	return append([]int(nil), pages...)
}

func (m *MockGitHub) serve(w http.ResponseWriter, r *http.Request) {
	n := m.requestCount.Add(1)
	h := r.Header.Clone()
	m.lastRequestHeader.Store(&h)

	remaining := m.RateLimit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.RateLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(m.ResetAt.Unix(), 10))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	m.mu.RLock()
	handler, hasHandler := m.handlers[r.URL.Path]
	collection, hasCollection := m.collections[r.URL.Path]
	m.mu.RUnlock()

	switch {
	case hasHandler:
		handler(w, r)
	case hasCollection:
		m.serveCollection(w, r, collection)
	case r.URL.Path == "/rate_limit":
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"resources":{"core":{"limit":%d,"remaining":%d}}}`, m.RateLimit, remaining)
	default:
		WriteError(w, http.StatusNotFound, "Not Found")
	}
}

func (m *MockGitHub) serveCollection(w http.ResponseWriter, r *http.Request, c Collection) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	m.mu.Lock()
	m.requested[r.URL.Path] = append(m.requested[r.URL.Path], page)
	m.mu.Unlock()

	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}

	if c.FailPages[page] {
		status := c.FailStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		WriteError(w, status, "page failed")
		return
	}

	if c.Pages > 0 {
		w.Header().Set("Link", LinkHeader(m.server.URL+r.URL.Path, r.URL.Query().Get("per_page"), page, c.Pages))
	}

	body := fmt.Sprintf(`[{"page":%d}]`, page)
	if c.Body != nil {
		body = c.Body(page)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// LinkHeader renders a GitHub style Link header for page out of last.
func LinkHeader(base, perPage string, page, last int) string {
	ref := func(p int, rel string) string {
		u := base + "?page=" + strconv.Itoa(p)
		if perPage != "" {
			u += "&per_page=" + perPage
		}
		return fmt.Sprintf(`<%s>; rel="%s"`, u, rel)
	}

	var parts []string
	if page < last {
		parts = append(parts, ref(page+1, "next"), ref(last, "last"))
	}
	if page > 1 {
		parts = append(parts, ref(1, "first"), ref(page-1, "prev"))
	}
	return strings.Join(parts, ", ")
}

// WriteError writes a GitHub style error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest",
	})
}

// NewRateLimitResponse creates a 403 answer with an exhausted budget.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Server Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
