package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/checksum"
)

// copyFile writes src to dst through a temp file in dst's directory and
// renames it into place, so dst is either absent or complete. Permissions,
// access time and modification time are carried over. The source is
// re-stat'ed after the copy; a file that changed while being read is an error.
func copyFile(ctx context.Context, src, dst string) (string, int64, error) {
	info1, err := os.Stat(src)
	if err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", err)
	}
	if !info1.Mode().IsRegular() {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("not a regular file"))
	}
	stat1 := extractStatData(info1)

	in, err := os.Open(src)
	if err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", err)
	}
	defer in.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := checksum.New()
	written, err := io.CopyBuffer(io.MultiWriter(tmpFile, h), &ctxReader{ctx: ctx, r: in}, make([]byte, checksum.BufferSize))
	if err != nil {
		tmpFile.Close()
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("closing temp file: %w", err))
	}

	if written != info1.Size() {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("size mismatch: expected %d bytes, got %d", info1.Size(), written))
	}

	info2, err := os.Stat(src)
	if err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("re-stat file: %w", err))
	}
	if err := validateStatUnchanged(info1, info2, stat1, extractStatData(info2)); err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("file changed during copy: %w", err))
	}

	if err := os.Chmod(tmpPath, info1.Mode().Perm()); err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", err)
	}
	if err := os.Chtimes(tmpPath, stat1.Atime, info1.ModTime()); err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, backup.NewError(backup.ErrIO, src, "copy failed", fmt.Errorf("renaming temp file: %w", err))
	}

	success = true
	return checksum.Hex(h), written, nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// validateStatUnchanged checks that file metadata hasn't changed.
// We ignore access time as it may change from our read.
func validateStatUnchanged(info1, info2 fs.FileInfo, stat1, stat2 *statData) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed: %d -> %d", info1.Size(), info2.Size())
	}
	if info1.Mode() != info2.Mode() {
		return fmt.Errorf("mode changed: %v -> %v", info1.Mode(), info2.Mode())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	if !stat1.Ctime.Equal(stat2.Ctime) {
		return fmt.Errorf("ctime changed: %v -> %v", stat1.Ctime, stat2.Ctime)
	}
	return nil
}
