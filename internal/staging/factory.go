package staging

import (
	"fmt"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"
	"adhoc-backup/internal/database"
	"adhoc-backup/internal/fs"
)

// NewStagerFromConfig creates a Stager on the real filesystem with SQLite
// snapshots for database mode.
func NewStagerFromConfig(cfg *config.Config, logger backup.Logger, clock backup.Clock, ids backup.IDGenerator) (*Stager, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return New(Options{
		Filesystem:  fs.NewOSFilesystemManager(cfg.Filesystem.Ignore),
		Snapshotter: database.SQLiteSnapshotter{},
		Logger:      logger,
		Clock:       clock,
		IDs:         ids,
		Workers:     cfg.Workers,
	}), nil
}
