package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements backup.Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	hostID string
}

var _ backup.Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens the catalog at path, applying pending migrations.
// path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path, hostID string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	return &SQLiteCatalog{db: db, hostID: hostID}, nil
}

// NewSQLiteCatalogFromDB wraps an existing, already migrated connection.
func NewSQLiteCatalogFromDB(db *sql.DB, hostID string) *SQLiteCatalog {
	return &SQLiteCatalog{db: db, hostID: hostID}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path, a "file:" URI or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: is a new database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// CheckMigrations reports whether the schema is at the latest version.
func (c *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckStatus(c.db)
}

// RecordSession stores a session with its items and skips in one transaction
// and returns the new session ID.
func (c *SQLiteCatalog) RecordSession(rec *backup.SessionRecord, items []backup.StagedItem, skips []backup.Skip) (int64, error) {
	ctx := context.Background()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	hostID := rec.HostID
	if hostID == "" {
		hostID = c.hostID
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (host_id, name, folder, archive_path, mode, status, error, encrypted, sealed_key,
			item_count, skip_count, total_bytes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hostID, rec.Name, rec.Folder, rec.ArchivePath, rec.Mode, rec.Status, rec.Error, rec.Encrypted, rec.SealedKey,
		rec.ItemCount, rec.SkipCount, rec.TotalBytes, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading session id: %w", err)
	}

	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO staged_items (session_id, source_path, staged_path, rel_path, size, checksum, plain_checksum, encrypted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, it.Source, it.StagedPath, it.RelPath, it.Size, it.Checksum, it.PlainChecksum, it.Encrypted)
		if err != nil {
			return 0, fmt.Errorf("inserting staged item %s: %w", it.RelPath, err)
		}
	}

	for _, s := range skips {
		_, err := tx.ExecContext(ctx, `INSERT INTO skipped_sources (session_id, path, reason) VALUES (?, ?, ?)`,
			id, s.Path, s.Reason.String())
		if err != nil {
			return 0, fmt.Errorf("inserting skip %s: %w", s.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing session: %w", err)
	}
	rec.ID = id
	return id, nil
}

const sessionColumns = `id, host_id, name, folder, archive_path, mode, status, error, encrypted, sealed_key,
	item_count, skip_count, total_bytes, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*backup.SessionRecord, error) {
	var rec backup.SessionRecord
	err := row.Scan(&rec.ID, &rec.HostID, &rec.Name, &rec.Folder, &rec.ArchivePath, &rec.Mode, &rec.Status,
		&rec.Error, &rec.Encrypted, &rec.SealedKey, &rec.ItemCount, &rec.SkipCount, &rec.TotalBytes, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns up to limit sessions, most recent first. A limit of
// zero or less returns all of them.
func (c *SQLiteCatalog) ListSessions(limit int) ([]*backup.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*backup.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FindSession returns the most recent session with the given name, or nil
// if there is none.
func (c *SQLiteCatalog) FindSession(name string) (*backup.SessionRecord, error) {
	row := c.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE name = ? ORDER BY id DESC LIMIT 1`, name)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding session by name: %w", err)
	}
	return rec, nil
}

func (c *SQLiteCatalog) ItemsForSession(sessionID int64) ([]backup.StagedItem, error) {
	rows, err := c.db.Query(`
		SELECT source_path, staged_path, rel_path, size, checksum, plain_checksum, encrypted
		FROM staged_items WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing staged items: %w", err)
	}
	defer rows.Close()

	var out []backup.StagedItem
	for rows.Next() {
		var it backup.StagedItem
		if err := rows.Scan(&it.Source, &it.StagedPath, &it.RelPath, &it.Size, &it.Checksum, &it.PlainChecksum, &it.Encrypted); err != nil {
			return nil, fmt.Errorf("scanning staged item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (c *SQLiteCatalog) SkipsForSession(sessionID int64) ([]backup.Skip, error) {
	rows, err := c.db.Query(`SELECT path, reason FROM skipped_sources WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing skips: %w", err)
	}
	defer rows.Close()

	var out []backup.Skip
	for rows.Next() {
		var (
			s      backup.Skip
			reason string
		)
		if err := rows.Scan(&s.Path, &reason); err != nil {
			return nil, fmt.Errorf("scanning skip: %w", err)
		}
		s.Reason = backup.ParseSkipReason(reason)
		out = append(out, s)
	}
	return out, rows.Err()
}

// BackupTo writes a consistent copy of the catalog to destPath using VACUUM INTO.
func (c *SQLiteCatalog) BackupTo(ctx context.Context, destPath string) error {
	return vacuumInto(ctx, c.db, destPath)
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func vacuumInto(ctx context.Context, db *sql.DB, destPath string) error {
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
