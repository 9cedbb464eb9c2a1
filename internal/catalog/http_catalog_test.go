package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamswitch/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHTTPCatalogListAndGet verifies that the remote catalog client calls the
// expected endpoints with the configured bearer token and decodes the
// responses.
func TestHTTPCatalogListAndGet(t *testing.T) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer catalog-token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/content":
			if err := json.NewEncoder(w).Encode(seedItems()); err != nil {
				t.Fatalf("encode response: %v", err)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/v1/content/channel/news-1":
			if err := json.NewEncoder(w).Encode(seedItems()[0]); err != nil {
				t.Fatalf("encode response: %v", err)
			}
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Token:         "catalog-token",
		Client:        server.Client(),
		Logger:        discardLogger(),
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	items, err := client.ListContentItems(context.Background())
	if err != nil {
		t.Fatalf("ListContentItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	item, err := client.GetContentItem(context.Background(), models.ContentTypeChannel, "news-1")
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if item.ID != "news-1" || len(item.Sources) != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}
}

// TestHTTPCatalogListRetriesOnServerError verifies that reads retry a 5xx
// response and succeed on a later attempt.
func TestHTTPCatalogListRetriesOnServerError(t *testing.T) {
	t.Helper()
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "temporary", http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(seedItems()); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		MaxAttempts:   2,
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	items, err := client.ListContentItems(context.Background())
	if err != nil {
		t.Fatalf("ListContentItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after retry, got %d", len(items))
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

// TestHTTPCatalogDoesNotRetryOn4xx verifies that 4xx responses other than 429
// are permanent.
func TestHTTPCatalogDoesNotRetryOn4xx(t *testing.T) {
	t.Helper()
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		MaxAttempts:   3,
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	if _, err := client.ListContentItems(context.Background()); err == nil {
		t.Fatal("expected error for 4xx response, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for 4xx, got %d", attempts)
	}
}

// TestHTTPCatalogNotFound verifies that 404 responses map to ErrNotFound for
// both item and health lookups.
func TestHTTPCatalogNotFound(t *testing.T) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	if _, err := client.GetContentItem(context.Background(), models.ContentTypeMovie, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for item, got %v", err)
	}
	if _, err := client.GetChannelHealth(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for health, got %v", err)
	}
}

// TestHTTPCatalogUpsertHealthSingleAttempt verifies that health writes are
// not retried even when the server answers with a retryable status.
func TestHTTPCatalogUpsertHealthSingleAttempt(t *testing.T) {
	t.Helper()
	var attempts int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Method != http.MethodPut || r.URL.Path != "/v1/health/news-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		http.Error(w, "temporary", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		MaxAttempts:   3,
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	health := models.ChannelHealth{ContentID: "news-1", Status: models.HealthOnline, LastCheckedAt: time.Now().UTC()}
	if err := client.UpsertChannelHealth(context.Background(), health); err == nil {
		t.Fatal("expected error when the server rejects the write")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a health write, got %d", attempts)
	}
}

// TestHTTPCatalogUpsertHealthPutsRow verifies the health write payload and
// endpoint.
func TestHTTPCatalogUpsertHealthPutsRow(t *testing.T) {
	t.Helper()
	var upserted bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/health/news-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		upserted = true
		if got := r.Header.Get("Authorization"); got != "Bearer catalog-token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var payload models.ChannelHealth
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.ContentID != "news-1" || payload.Status != models.HealthOffline {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Token:         "catalog-token",
		Client:        server.Client(),
		Logger:        discardLogger(),
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	health := models.ChannelHealth{ContentID: "news-1", Status: models.HealthOffline, LastCheckedAt: time.Now().UTC()}
	if err := client.UpsertChannelHealth(context.Background(), health); err != nil {
		t.Fatalf("UpsertChannelHealth: %v", err)
	}
	if !upserted {
		t.Fatal("expected health endpoint to be invoked")
	}
}

// TestHTTPCatalogReplaceContentItems verifies that a catalog replace sends
// the full item list in one PUT.
func TestHTTPCatalogReplaceContentItems(t *testing.T) {
	t.Helper()
	var replaced bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/content" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		replaced = true
		var payload []models.ContentItem
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload) != 2 {
			t.Fatalf("expected 2 items in payload, got %d", len(payload))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	if err := client.ReplaceContentItems(context.Background(), seedItems()); err != nil {
		t.Fatalf("ReplaceContentItems: %v", err)
	}
	if !replaced {
		t.Fatal("expected replace endpoint to be invoked")
	}
}

func TestHTTPCatalogPingSingleAttempt(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/health" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client, err := NewHTTPCatalog(HTTPCatalogConfig{
		BaseURL:       server.URL,
		Client:        server.Client(),
		Logger:        discardLogger(),
		MaxAttempts:   3,
		RetryInterval: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPCatalog: %v", err)
	}

	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected the first ping to surface the 500")
	}
	if attempts != 1 {
		t.Fatalf("expected ping to make a single attempt, got %d", attempts)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("expected the second ping to succeed: %v", err)
	}
}
