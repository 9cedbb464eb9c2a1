package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamswitch/internal/api"
	"streamswitch/internal/auth"
	"streamswitch/internal/catalog"
	"streamswitch/internal/models"
	"streamswitch/internal/playback"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) *api.Handler {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.NewStore(filepath.Join(dir, "catalog.json"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	items := []models.ContentItem{
		{
			Type:  models.ContentTypeChannel,
			ID:    "news-1",
			Title: "News One",
			Sources: []models.StreamSource{
				{URL: "https://cdn-a.example.com/news-1/index.m3u8", Format: "hls"},
			},
		},
	}
	if err := store.ReplaceContentItems(context.Background(), items); err != nil {
		t.Fatalf("ReplaceContentItems: %v", err)
	}
	manager := playback.NewManager(playback.ManagerConfig{Logger: testLogger()})
	return api.NewHandler(store, manager)
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	guard := auth.NewGuard("stream-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer stream-secret")
	rec := httptest.NewRecorder()

	authMiddleware(guard, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to call next handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	guard := auth.NewGuard("stream-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()

	authMiddleware(guard, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	guard := auth.NewGuard("stream-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call to next handler")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec := httptest.NewRecorder()

	authMiddleware(guard, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareAllowsOpenReads(t *testing.T) {
	handler := newTestHandler(t)
	guard := auth.NewGuard("stream-secret")

	getNextCalled := false
	getNext := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		getNextCalled = true
		handler.Directory(w, r)
	})

	getReq := httptest.NewRequest(http.MethodGet, "/api/directory", nil)
	getRec := httptest.NewRecorder()

	authMiddleware(guard, getNext).ServeHTTP(getRec, getReq)

	if !getNextCalled {
		t.Fatal("expected middleware to call next handler for directory GET")
	}
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", getRec.Code)
	}

	healthReq := httptest.NewRequest(http.MethodGet, "/api/health/channel/news-1", nil)
	healthRec := httptest.NewRecorder()
	healthNextCalled := false
	healthNext := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthNextCalled = true
		handler.HealthByID(w, r)
	})

	authMiddleware(guard, healthNext).ServeHTTP(healthRec, healthReq)

	if !healthNextCalled {
		t.Fatal("expected middleware to call next handler for health GET")
	}
	if healthRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", healthRec.Code)
	}

	postNextCalled := false
	postNext := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		postNextCalled = true
	})

	postReq := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{}`))
	postRec := httptest.NewRecorder()

	authMiddleware(guard, postNext).ServeHTTP(postRec, postReq)

	if postNextCalled {
		t.Fatal("expected middleware not to call next handler for session POST without token")
	}
	if postRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", postRec.Code)
	}
}

func TestAuthMiddlewareDisabledGuardAdmitsEverything(t *testing.T) {
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	authMiddleware(auth.NewGuard(""), next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected disabled guard to admit the request")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
}

func TestAuthMiddlewareSkipsNonAPIPaths(t *testing.T) {
	guard := auth.NewGuard("stream-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	authMiddleware(guard, next).ServeHTTP(rec, req)

	if !nextCalled {
		t.Fatal("expected middleware to pass /healthz without a token")
	}
}

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.10" {
		t.Fatalf("expected remote addr, got %q", ip)
	}
	if source != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source)
	}
}

func TestClientIPResolverTrustsForwardedWhenEnabled(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1111"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded ip, got %q", ip)
	}
	if source != ipSourceXForwardedFor {
		t.Fatalf("expected source %q, got %q", ipSourceXForwardedFor, source)
	}
}

func TestClientIPResolverTrustedProxyCIDR(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "203.0.113.10")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.10" {
		t.Fatalf("expected real ip header, got %q", ip)
	}
	if source != ipSourceXRealIP {
		t.Fatalf("expected source %q, got %q", ipSourceXRealIP, source)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.20:4444"
	req2.Header.Set("X-Forwarded-For", "203.0.113.11")
	ip2, source2 := resolver.ClientIPFromRequest(req2)
	if ip2 != "198.51.100.20" {
		t.Fatalf("expected remote addr for untrusted proxy, got %q", ip2)
	}
	if source2 != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source2)
	}
}

func TestRateLimitMiddlewareSpoofedHeadersIgnoredByDefault(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{SessionLimit: 1, SessionWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req1.RemoteAddr = "198.51.100.1:1234"
	req1.Header.Set("X-Forwarded-For", "203.0.113.1")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req2.RemoteAddr = "198.51.100.1:5678"
	req2.Header.Set("X-Forwarded-For", "203.0.113.2")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled response")
	}
}

func TestRateLimitMiddlewareHonorsTrustedForwardedHeaders(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{SessionLimit: 1, SessionWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req1.RemoteAddr = "10.1.2.3:9999"
	req1.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req2.RemoteAddr = "10.1.2.3:10000"
	req2.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestRateLimitMiddlewareLeavesReadsUnthrottled(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{SessionLimit: 1, SessionWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected read %d to pass, got %d", i, rec.Code)
		}
	}
}
