package database

import (
	"fmt"
	"os"
	"path/filepath"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"
)

// NewCatalogFromConfig creates a Catalog based on the catalog config type.
// Type "none" disables the catalog and returns nil with no error.
func NewCatalogFromConfig(cfg config.CatalogConfig, hostID string) (backup.Catalog, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		c, err := NewSQLiteCatalog(filepath.Join(cfg.DataDir, "catalog.db"), hostID)
		if err != nil {
			return nil, err
		}
		if err := c.CheckMigrations(); err != nil {
			c.Close()
			return nil, fmt.Errorf("catalog schema out of date: %w", err)
		}
		return c, nil
	case "memory":
		c, err := NewSQLiteCatalog(":memory:", hostID)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
