package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// pingableStore wraps memStore with a controllable Ping result so the
// readiness probe can be exercised both ways.
type pingableStore struct {
	*memStore
	pingErr error
}

func (p *pingableStore) Ping(context.Context) error { return p.pingErr }

func newHealthServer(pingErr error) *HTTPServer {
	mem := &pingableStore{memStore: newMemStore(), pingErr: pingErr}
	svc := New(testConfig(), mem, newFakeSessions(), &fakeIdentity{}, nil, newFakeSearch(), nil)
	return NewHTTPServer(svc, "*")
}

func TestHealthEndpoint(t *testing.T) {
	server := newHealthServer(nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("health status = %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("health body = %v", body)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newHealthServer(nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("ready status = %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" {
		t.Fatalf("ready body = %v", body)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	server := newHealthServer(errors.New("connection refused"))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Fatalf("ready body = %v", body)
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	server := newHealthServer(nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodOptions, "/api/health", nil))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("options status = %d", recorder.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	server := newHealthServer(nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS origin header = %q", got)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}
