//go:build postgres

package catalog

import "context"

// TruncateForTest clears the catalog tables so postgres-tagged integration
// tests start from a known-empty database.
func (s *PostgresStore) TruncateForTest(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE TABLE content_items, channel_health")
	return err
}
