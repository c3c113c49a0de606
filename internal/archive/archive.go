// Package archive packs a session folder into a single compressed container
// written next to it.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"
)

// Container formats.
const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

// entry is one item of the tree being archived.
type entry struct {
	path string
	name string // slash-separated, relative to the folder root
	info fs.FileInfo
}

// containerWriter is the format-specific half of an Archiver.
type containerWriter interface {
	add(e entry, r io.Reader) error
	addDir(e entry) error
	io.Closer
}

// Archiver writes folder trees into <folder>.<ext>.
type Archiver struct {
	format string
	level  int
	open   func(w io.Writer, level int) (containerWriter, error)
}

var _ backup.Archiver = (*Archiver)(nil)

// New returns an Archiver for format. level 0 selects the library default.
func New(format string, level int) (*Archiver, error) {
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("compression level must be between 0 and 9, got %d", level)
	}
	switch format {
	case FormatZip, "":
		return &Archiver{format: FormatZip, level: level, open: newZipWriter}, nil
	case FormatTarGz:
		return &Archiver{format: FormatTarGz, level: level, open: newTarGzWriter}, nil
	default:
		return nil, fmt.Errorf("unknown archive format: %q", format)
	}
}

// NewArchiverFromConfig creates an Archiver based on the archive config.
func NewArchiverFromConfig(cfg config.ArchiveConfig) (*Archiver, error) {
	return New(cfg.Format, cfg.Level)
}

// Format returns the container format, e.g. "zip".
func (a *Archiver) Format() string { return a.format }

// PathFor returns the archive path Compress will produce for folder.
func (a *Archiver) PathFor(folder string) string {
	return filepath.Clean(folder) + "." + a.format
}

// Compress walks folder and writes every regular file, under its path
// relative to folder, to a sibling container. An empty folder yields a valid
// empty container. The folder itself is left untouched. The container is
// written to a temp file and renamed, so exactly one new file appears.
func (a *Archiver) Compress(ctx context.Context, folder string) (string, error) {
	folder = filepath.Clean(folder)
	info, err := os.Stat(folder)
	if err != nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", err)
	}
	if !info.IsDir() {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", fmt.Errorf("not a directory"))
	}

	dest := a.PathFor(folder)
	if _, err := os.Lstat(dest); err == nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", fmt.Errorf("%s already exists", dest))
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(folder), ".archive-*")
	if err != nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := a.writeTree(ctx, folder, tmpFile); err != nil {
		tmpFile.Close()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", fmt.Errorf("closing temp file: %w", err))
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", backup.NewError(backup.ErrIO, folder, "archive failed", fmt.Errorf("renaming temp file: %w", err))
	}

	success = true
	return dest, nil
}

func (a *Archiver) writeTree(ctx context.Context, folder string, w io.Writer) (err error) {
	cw, err := a.open(w, a.level)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := cw.Close(); err == nil {
			err = closeErr
		}
	}()

	return filepath.WalkDir(folder, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == folder {
			return nil
		}

		rel, err := filepath.Rel(folder, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := entry{path: p, name: filepath.ToSlash(rel), info: info}

		switch {
		case d.IsDir():
			return cw.addDir(e)
		case info.Mode().IsRegular():
			return addFile(cw, e)
		default:
			return nil
		}
	})
}

func addFile(cw containerWriter, e entry) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := cw.add(e, f); err != nil {
		return fmt.Errorf("adding %s: %w", e.name, err)
	}
	return nil
}
