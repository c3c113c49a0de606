package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"adhoc-backup/internal/backup"
)

// OSFilesystemManager is the real filesystem implementation of backup.FilesystemManager.
type OSFilesystemManager struct {
	ignore *IgnoreMatcher
}

// NewOSFilesystemManager creates a filesystem manager that skips entries
// matching ignorePatterns when walking directory sources.
func NewOSFilesystemManager(ignorePatterns []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: NewIgnoreMatcher([]string{IgnoreFileName}, ignorePatterns)}
}

// Resolve classifies a raw path. Symlinks are not followed: like devices,
// named pipes and sockets they come back as SourceUnsupported.
func (m *OSFilesystemManager) Resolve(rawPath string) (*backup.Source, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backup.NewSource(rawPath, absPath, backup.SourceMissing, nil), nil
		}
		return nil, backup.NewError(backup.ErrIO, absPath, "stat failed", err)
	}

	return backup.NewSource(rawPath, absPath, classify(info.Mode()), info), nil
}

func classify(mode fs.FileMode) backup.SourceKind {
	switch {
	case mode.IsRegular():
		return backup.SourceFile
	case mode.IsDir():
		return backup.SourceDirectory
	default:
		return backup.SourceUnsupported
	}
}

// Walk visits every entry below root in lexical order. Entries matching the
// configured patterns or the root's ignore file are not visited; an ignored
// directory is pruned.
func (m *OSFilesystemManager) Walk(root *backup.Source, fn func(backup.WalkEntry) error) error {
	if root.Kind() != backup.SourceDirectory {
		return fmt.Errorf("path is not a directory: %s", root.String())
	}

	filePatterns, err := ParseIgnoreFile(filepath.Join(root.String(), IgnoreFileName))
	if err != nil {
		return err
	}
	matcher := m.ignore.With(filePatterns)

	return filepath.WalkDir(root.String(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return backup.NewError(backup.ErrIO, p, "reading directory failed", err)
		}
		if p == root.String() {
			return nil
		}

		rel, err := filepath.Rel(root.String(), p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		if matcher.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return backup.NewError(backup.ErrIO, p, "stat failed", err)
		}

		return fn(backup.WalkEntry{
			Path:    p,
			RelPath: rel,
			Kind:    classify(d.Type()),
			Info:    info,
		})
	})
}

// CopyFile copies src to dst atomically. See copyFile.
func (m *OSFilesystemManager) CopyFile(ctx context.Context, src, dst string) (string, int64, error) {
	return copyFile(ctx, src, dst)
}

// Compile-time check that OSFilesystemManager implements backup.FilesystemManager interface
var _ backup.FilesystemManager = (*OSFilesystemManager)(nil)
