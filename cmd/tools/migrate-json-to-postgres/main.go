// Command migrate-json-to-postgres copies a JSON catalog file into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"streamswitch/internal/catalog"
	"streamswitch/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	jsonPath := flag.String("json", "data/catalog.json", "path to the JSON catalog to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("STREAMSWITCH_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMSWITCH_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()

	source, err := catalog.NewStore(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON catalog", "error", err)
		os.Exit(1)
	}
	items, err := source.ListContentItems(ctx)
	if err != nil {
		logger.Error("failed to read content items", "error", err)
		os.Exit(1)
	}
	healthRows, err := source.ListChannelHealth(ctx)
	if err != nil {
		logger.Error("failed to read channel health", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded JSON catalog", "path", *jsonPath, "items", len(items), "health_rows", len(healthRows))

	store, err := catalog.NewPostgresStore(catalog.PostgresConfig{DSN: dsn})
	if err != nil {
		logger.Error("failed to open postgres catalog", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close(context.Background())
	}()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	if err := store.ReplaceContentItems(ctx, items); err != nil {
		logger.Error("failed to import content items", "error", err)
		os.Exit(1)
	}
	for _, health := range healthRows {
		if err := store.UpsertChannelHealth(ctx, health); err != nil {
			logger.Error("failed to import channel health", "error", err, "content_id", health.ContentID)
			os.Exit(1)
		}
	}

	if err := verifyCounts(ctx, dsn, items, healthRows); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed", "items", len(items), "health_rows", len(healthRows))
}

// verifyCounts opens its own connection so the check does not reuse any pool
// state from the import. Replace seeds unknown health for every item, so the
// expected health count is the union of item ids and migrated row ids.
func verifyCounts(ctx context.Context, dsn string, items []models.ContentItem, healthRows []models.ChannelHealth) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	healthIDs := make(map[string]struct{}, len(items)+len(healthRows))
	for _, item := range items {
		healthIDs[item.ID] = struct{}{}
	}
	for _, health := range healthRows {
		healthIDs[health.ContentID] = struct{}{}
	}

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"content_items", "SELECT COUNT(*) FROM content_items", len(items)},
		{"channel_health", "SELECT COUNT(*) FROM channel_health", len(healthIDs)},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual != check.expected {
			return fmt.Errorf("mismatch for %s: expected %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
