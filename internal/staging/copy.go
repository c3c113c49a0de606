package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/checksum"
)

// copy writes src to dst and returns the digest and size of the content as
// it was read. In database mode a recognised database is snapshotted instead
// of copied byte for byte.
func (s *Stager) copy(ctx context.Context, mode backup.Mode, src, dst string) (string, int64, error) {
	if mode != backup.ModeDatabase || s.snap == nil || !s.snap.Detect(src) {
		return s.fsmgr.CopyFile(ctx, src, dst)
	}

	if err := s.snap.Snapshot(ctx, src, dst); err != nil {
		return "", 0, err
	}
	s.logger.Info("database snapshot taken", "path", src)

	// Carry the source permissions over like a plain copy does.
	if info, err := os.Stat(src); err == nil {
		if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
			return "", 0, fmt.Errorf("setting permissions: %w", err)
		}
	}

	info, err := os.Stat(dst)
	if err != nil {
		return "", 0, err
	}
	digest, err := digestFile(dst)
	if err != nil {
		return "", 0, err
	}
	return digest, info.Size(), nil
}

func digestFile(path string) (string, error) {
	return checksum.File(path)
}

// nameSet hands out distinct names inside one session folder.
type nameSet map[string]struct{}

func newNameSet() nameSet { return make(nameSet) }

// claim returns base, or base with a "_N" suffix when base is already taken.
// For files the suffix goes before the extension.
func (n nameSet) claim(base string, isDir bool) string {
	stem, ext := base, ""
	if !isDir {
		ext = filepath.Ext(base)
		stem = strings.TrimSuffix(base, ext)
		if stem == "" {
			// Dotfiles such as ".bashrc" have no stem.
			stem, ext = base, ""
		}
	}

	name := base
	for i := 1; ; i++ {
		if _, taken := n[name]; !taken {
			n[name] = struct{}{}
			return name
		}
		name = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}
