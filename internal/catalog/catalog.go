// Package catalog provides access to the content directory this service
// selects sources from. The service reads content items with their raw source
// lists and writes back only channel health rows; everything else in the
// catalog belongs to its owning system. Three drivers share one Repository
// surface: a JSON file store for development, Postgres for shared
// deployments, and an HTTP client for a remote catalog service.
package catalog

import (
	"context"
	"errors"

	"streamswitch/internal/models"
)

var (
	ErrNotFound          = errors.New("catalog: not found")
	ErrUnsupportedDriver = errors.New("catalog: unsupported driver")
)

// Repository is the only catalog surface the rest of the service touches.
type Repository interface {
	ListContentItems(ctx context.Context) ([]models.ContentItem, error)
	GetContentItem(ctx context.Context, contentType models.ContentType, id string) (models.ContentItem, error)
	// ReplaceContentItems swaps the whole directory, used by imports and
	// development seeding. Health rows for new items are created as
	// "unknown"; rows for removed items are kept.
	ReplaceContentItems(ctx context.Context, items []models.ContentItem) error

	UpsertChannelHealth(ctx context.Context, health models.ChannelHealth) error
	GetChannelHealth(ctx context.Context, contentID string) (models.ChannelHealth, error)
	ListChannelHealth(ctx context.Context) ([]models.ChannelHealth, error)

	// Ping reports whether the backing store is reachable; the health
	// endpoint surfaces it as the catalog component status.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func validHealthStatus(status models.HealthStatus) bool {
	switch status {
	case models.HealthOnline, models.HealthOffline, models.HealthUnknown:
		return true
	default:
		return false
	}
}
