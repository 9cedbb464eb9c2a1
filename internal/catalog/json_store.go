package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"streamswitch/internal/models"
)

type dataset struct {
	Items  map[string]models.ContentItem   `json:"items"`
	Health map[string]models.ChannelHealth `json:"health"`
}

// Store is the JSON-file-backed catalog used for development and single-node
// deployments. All mutations clone the dataset, persist the clone atomically,
// and only then swap it in, so a failed write never leaves partial state.
type Store struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func NewStore(path string) (*Store, error) {
	store := &Store{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func newDataset() dataset {
	return dataset{
		Items:  make(map[string]models.ContentItem),
		Health: make(map[string]models.ChannelHealth),
	}
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode catalog file: %w", err)
	}
	if s.data.Items == nil {
		s.data.Items = make(map[string]models.ContentItem)
	}
	if s.data.Health == nil {
		s.data.Health = make(map[string]models.ChannelHealth)
	}
	return nil
}

func (s *Store) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode catalog file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush catalog file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp catalog file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	success = true
	return nil
}

func cloneItem(item models.ContentItem) models.ContentItem {
	cloned := item
	if item.Sources != nil {
		cloned.Sources = make([]models.StreamSource, len(item.Sources))
		for i, src := range item.Sources {
			copied := src
			if src.Priority != nil {
				priority := *src.Priority
				copied.Priority = &priority
			}
			cloned.Sources[i] = copied
		}
	}
	return cloned
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for key, item := range src.Items {
		clone.Items[key] = cloneItem(item)
	}
	for id, health := range src.Health {
		clone.Health[id] = health
	}
	return clone
}

func (s *Store) ListContentItems(_ context.Context) ([]models.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.ContentItem, 0, len(s.data.Items))
	for _, item := range s.data.Items {
		items = append(items, cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type < items[j].Type
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) GetContentItem(_ context.Context, contentType models.ContentType, id string) (models.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := models.ContentItem{Type: contentType, ID: id}.Key()
	item, ok := s.data.Items[key]
	if !ok {
		return models.ContentItem{}, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *Store) ReplaceContentItems(_ context.Context, items []models.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	updated.Items = make(map[string]models.ContentItem, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("content item id is required")
		}
		if _, err := models.ParseContentType(string(item.Type)); err != nil {
			return fmt.Errorf("content item %s: %w", item.ID, err)
		}
		key := item.Key()
		if _, exists := updated.Items[key]; exists {
			return fmt.Errorf("duplicate content item %s", key)
		}
		updated.Items[key] = cloneItem(item)
		if _, tracked := updated.Health[item.ID]; !tracked {
			updated.Health[item.ID] = models.ChannelHealth{
				ContentID: item.ID,
				Status:    models.HealthUnknown,
			}
		}
	}

	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Store) UpsertChannelHealth(_ context.Context, health models.ChannelHealth) error {
	if strings.TrimSpace(health.ContentID) == "" {
		return fmt.Errorf("health contentId is required")
	}
	if !validHealthStatus(health.Status) {
		return fmt.Errorf("unknown health status %q", health.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDataset(s.data)
	health.LastCheckedAt = health.LastCheckedAt.UTC()
	updated.Health[health.ContentID] = health

	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Store) GetChannelHealth(_ context.Context, contentID string) (models.ChannelHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health, ok := s.data.Health[contentID]
	if !ok {
		return models.ChannelHealth{}, ErrNotFound
	}
	return health, nil
}

func (s *Store) ListChannelHealth(_ context.Context) ([]models.ChannelHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]models.ChannelHealth, 0, len(s.data.Health))
	for _, health := range s.data.Health {
		rows = append(rows, health)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ContentID < rows[j].ContentID
	})
	return rows, nil
}

// Ping always reports success for the file-backed store.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

var _ Repository = (*Store)(nil)
