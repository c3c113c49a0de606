package database

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/url"
	"os"

	"adhoc-backup/internal/backup"
)

// sqliteHeader opens every SQLite 3 database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// SQLiteSnapshotter copies live SQLite databases with VACUUM INTO, which
// produces a consistent, defragmented copy even while other connections write.
type SQLiteSnapshotter struct{}

var _ backup.DatabaseSnapshotter = SQLiteSnapshotter{}

// Detect reports whether path starts with the SQLite file header.
func (SQLiteSnapshotter) Detect(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, sqliteHeader)
}

// Snapshot writes a copy of the database at src to dst, which must not exist.
// The source is opened read-only.
func (SQLiteSnapshotter) Snapshot(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return backup.NewError(backup.ErrIO, src, "snapshot failed", fs.ErrExist)
	}

	uri := (&url.URL{Scheme: "file", Path: src, RawQuery: "mode=ro"}).String()
	db, err := OpenConnection(uri)
	if err != nil {
		return backup.NewError(backup.ErrIO, src, "snapshot failed", err)
	}
	defer db.Close()

	if err := vacuumInto(ctx, db, dst); err != nil {
		os.Remove(dst)
		return backup.NewError(backup.ErrIO, src, "snapshot failed", err)
	}
	return nil
}
