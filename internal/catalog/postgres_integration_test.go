//go:build postgres

package catalog_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"streamswitch/internal/catalog"
	"streamswitch/internal/models"
)

// postgresStoreFactory opens a Postgres-backed catalog for integration
// scenarios, applying the schema and truncating tables between tests. It
// requires STREAMSWITCH_TEST_POSTGRES_DSN to point at a database dedicated to
// automated runs.
func postgresStoreFactory(t *testing.T) *catalog.PostgresStore {
	t.Helper()
	dsn := os.Getenv("STREAMSWITCH_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("STREAMSWITCH_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := catalog.NewPostgresStore(catalog.PostgresConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open postgres catalog: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := store.TruncateForTest(ctx); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	t.Cleanup(func() {
		if err := store.TruncateForTest(context.Background()); err != nil {
			t.Fatalf("truncate tables: %v", err)
		}
		if err := store.Close(context.Background()); err != nil {
			t.Fatalf("close catalog: %v", err)
		}
	})
	return store
}

func intPtr(v int) *int { return &v }

func TestPostgresCatalogItemLifecycle(t *testing.T) {
	store := postgresStoreFactory(t)
	ctx := context.Background()

	items := []models.ContentItem{
		{
			Type:  models.ContentTypeChannel,
			ID:    "news-1",
			Title: "News One",
			Sources: []models.StreamSource{
				{URL: "https://origin-a.example.com/news.m3u8", Priority: intPtr(1), Format: "hls"},
				{URL: "https://origin-b.example.com/news.m3u8", Priority: intPtr(2), Format: "hls"},
			},
		},
		{
			Type:    models.ContentTypeMovie,
			ID:      "movie-9",
			Title:   "Movie Nine",
			Sources: []models.StreamSource{{URL: "https://vod.example.com/movie9.mp4", Format: "mp4"}},
		},
	}
	if err := store.ReplaceContentItems(ctx, items); err != nil {
		t.Fatalf("ReplaceContentItems: %v", err)
	}

	listed, err := store.ListContentItems(ctx)
	if err != nil {
		t.Fatalf("ListContentItems: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 items, got %d", len(listed))
	}

	item, err := store.GetContentItem(ctx, models.ContentTypeChannel, "news-1")
	if err != nil {
		t.Fatalf("GetContentItem: %v", err)
	}
	if len(item.Sources) != 2 || item.Sources[0].Priority == nil || *item.Sources[0].Priority != 1 {
		t.Fatalf("sources did not round-trip: %+v", item.Sources)
	}

	if _, err := store.GetContentItem(ctx, models.ContentTypeChannel, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresCatalogHealthLifecycle(t *testing.T) {
	store := postgresStoreFactory(t)
	ctx := context.Background()

	items := []models.ContentItem{{Type: models.ContentTypeChannel, ID: "news-1", Title: "News One"}}
	if err := store.ReplaceContentItems(ctx, items); err != nil {
		t.Fatalf("ReplaceContentItems: %v", err)
	}

	health, err := store.GetChannelHealth(ctx, "news-1")
	if err != nil {
		t.Fatalf("GetChannelHealth after replace: %v", err)
	}
	if health.Status != models.HealthUnknown {
		t.Fatalf("expected seeded row to be unknown, got %q", health.Status)
	}

	checked := time.Now().UTC().Truncate(time.Microsecond)
	row := models.ChannelHealth{ContentID: "news-1", Status: models.HealthOnline, LastCheckedAt: checked}
	if err := store.UpsertChannelHealth(ctx, row); err != nil {
		t.Fatalf("UpsertChannelHealth: %v", err)
	}
	row.Status = models.HealthOffline
	if err := store.UpsertChannelHealth(ctx, row); err != nil {
		t.Fatalf("UpsertChannelHealth overwrite: %v", err)
	}

	health, err = store.GetChannelHealth(ctx, "news-1")
	if err != nil {
		t.Fatalf("GetChannelHealth: %v", err)
	}
	if health.Status != models.HealthOffline || !health.LastCheckedAt.Equal(checked) {
		t.Fatalf("unexpected health row: %+v", health)
	}

	rows, err := store.ListChannelHealth(ctx)
	if err != nil {
		t.Fatalf("ListChannelHealth: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 health row, got %d", len(rows))
	}
}
