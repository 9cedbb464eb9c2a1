package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamswitch/internal/models"
)

// PostgresConfig describes how the catalog initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

// PostgresStore reads content items from and writes health rows to a shared
// Postgres catalog, letting multiple replicas see the same directory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a Postgres-backed catalog. The caller must ensure
// the schema exists, via EnsureSchema or an external migration.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the catalog tables when they do not exist yet. It is
// invoked by the import tool; production deployments run migrations out of
// band.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS content_items (
	content_type TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	sources JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (content_type, id)
)`,
		`CREATE TABLE IF NOT EXISTS channel_health (
	content_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	last_checked_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure catalog schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListContentItems(ctx context.Context) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT content_type, id, title, sources
FROM content_items
ORDER BY content_type, id
`)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContentItem(ctx context.Context, contentType models.ContentType, id string) (models.ContentItem, error) {
	row := s.pool.QueryRow(ctx, `
SELECT content_type, id, title, sources
FROM content_items
WHERE content_type = $1 AND id = $2
`, string(contentType), id)
	item, err := scanContentItem(row)
	if err != nil {
		if isNoRows(err) {
			return models.ContentItem{}, ErrNotFound
		}
		return models.ContentItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) ReplaceContentItems(ctx context.Context, items []models.ContentItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM content_items`); err != nil {
		return fmt.Errorf("clear content items: %w", err)
	}
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("content item id is required")
		}
		if _, err := models.ParseContentType(string(item.Type)); err != nil {
			return fmt.Errorf("content item %s: %w", item.ID, err)
		}
		sources, err := json.Marshal(item.Sources)
		if err != nil {
			return fmt.Errorf("encode sources for %s: %w", item.Key(), err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO content_items (content_type, id, title, sources)
VALUES ($1, $2, $3, $4)
`, string(item.Type), item.ID, item.Title, sources); err != nil {
			return fmt.Errorf("insert content item %s: %w", item.Key(), err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO channel_health (content_id, status, last_checked_at)
VALUES ($1, $2, 'epoch')
ON CONFLICT (content_id) DO NOTHING
`, item.ID, string(models.HealthUnknown)); err != nil {
			return fmt.Errorf("seed health for %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertChannelHealth(ctx context.Context, health models.ChannelHealth) error {
	if strings.TrimSpace(health.ContentID) == "" {
		return fmt.Errorf("health contentId is required")
	}
	if !validHealthStatus(health.Status) {
		return fmt.Errorf("unknown health status %q", health.Status)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO channel_health (content_id, status, last_checked_at)
VALUES ($1, $2, $3)
ON CONFLICT (content_id) DO UPDATE SET status = EXCLUDED.status, last_checked_at = EXCLUDED.last_checked_at
`, health.ContentID, string(health.Status), health.LastCheckedAt.UTC())
	return err
}

func (s *PostgresStore) GetChannelHealth(ctx context.Context, contentID string) (models.ChannelHealth, error) {
	row := s.pool.QueryRow(ctx, `
SELECT content_id, status, last_checked_at
FROM channel_health
WHERE content_id = $1
`, contentID)
	var health models.ChannelHealth
	var status string
	if err := row.Scan(&health.ContentID, &status, &health.LastCheckedAt); err != nil {
		if isNoRows(err) {
			return models.ChannelHealth{}, ErrNotFound
		}
		return models.ChannelHealth{}, err
	}
	health.Status = models.HealthStatus(status)
	return health, nil
}

func (s *PostgresStore) ListChannelHealth(ctx context.Context) ([]models.ChannelHealth, error) {
	rows, err := s.pool.Query(ctx, `
SELECT content_id, status, last_checked_at
FROM channel_health
ORDER BY content_id
`)
	if err != nil {
		return nil, fmt.Errorf("list channel health: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelHealth
	for rows.Next() {
		var health models.ChannelHealth
		var status string
		if err := rows.Scan(&health.ContentID, &status, &health.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("scan channel health: %w", err)
		}
		health.Status = models.HealthStatus(status)
		out = append(out, health)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channel health: %w", err)
	}
	return out, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanContentItem(row pgx.Row) (models.ContentItem, error) {
	var item models.ContentItem
	var contentType string
	var sources []byte
	if err := row.Scan(&contentType, &item.ID, &item.Title, &sources); err != nil {
		return models.ContentItem{}, err
	}
	item.Type = models.ContentType(contentType)
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &item.Sources); err != nil {
			return models.ContentItem{}, fmt.Errorf("decode sources for %s: %w", item.Key(), err)
		}
	}
	return item, nil
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

var _ Repository = (*PostgresStore)(nil)
