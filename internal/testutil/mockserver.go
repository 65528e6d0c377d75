package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// UsagePath is the endpoint path served by MockServer.
const UsagePath = "/api/oauth/usage"

// MockServer serves the OAuth usage endpoint for tests.
// Thread-safe for concurrent use from test goroutines and handler goroutines.
type MockServer struct {
	*httptest.Server

	mu        sync.RWMutex
	token     string
	responses []string
	delay     time.Duration

	errCode  atomic.Int32 // 0 = no error, >0 = HTTP status code
	respIdx  atomic.Int64
	reqCount atomic.Int64
}

// MockOption configures a MockServer.
type MockOption func(*MockServer)

// WithToken sets the expected bearer token.
func WithToken(token string) MockOption {
	return func(ms *MockServer) {
		ms.token = token
	}
}

// WithResponses sets the response sequence, served round-robin.
func WithResponses(responses ...string) MockOption {
	return func(ms *MockServer) {
		ms.responses = responses
	}
}

// WithDelay delays every response.
func WithDelay(d time.Duration) MockOption {
	return func(ms *MockServer) {
		ms.delay = d
	}
}

// NewMockServer starts a mock usage server. It is closed when the test ends.
func NewMockServer(t *testing.T, opts ...MockOption) *MockServer {
	t.Helper()
	ms := &MockServer{}
	for _, opt := range opts {
		opt(ms)
	}
	if len(ms.responses) == 0 {
		ms.responses = []string{DefaultUsageResponse()}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(UsagePath, ms.handleUsage)
	ms.Server = httptest.NewServer(mux)
	t.Cleanup(ms.Close)
	return ms
}

// UsageURL returns the full endpoint URL.
func (ms *MockServer) UsageURL() string {
	return ms.URL + UsagePath
}

func (ms *MockServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	ms.reqCount.Add(1)

	ms.mu.RLock()
	expectedToken := ms.token
	responses := ms.responses
	delay := ms.delay
	ms.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if errCode := ms.errCode.Load(); errCode > 0 {
		w.WriteHeader(int(errCode))
		fmt.Fprintf(w, `{"error": "injected error %d"}`, errCode)
		return
	}

	if expectedToken != "" && r.Header.Get("Authorization") != "Bearer "+expectedToken {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "unauthorized"}`)
		return
	}

	idx := int(ms.respIdx.Add(1)-1) % len(responses)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, responses[idx])
}

// SetError injects an HTTP status code for subsequent requests. 0 clears it.
func (ms *MockServer) SetError(code int) {
	ms.errCode.Store(int32(code))
}

// SetResponses replaces the response sequence at runtime.
func (ms *MockServer) SetResponses(responses ...string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses = responses
	ms.respIdx.Store(0)
}

// RequestCount returns how many requests were served.
func (ms *MockServer) RequestCount() int {
	return int(ms.reqCount.Load())
}
