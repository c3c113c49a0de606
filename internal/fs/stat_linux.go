//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// statData holds platform-specific file times not exposed by fs.FileInfo.
type statData struct {
	Atime time.Time
	Ctime time.Time
}

// extractStatData reads access and change times from a FileInfo, falling
// back to the modification time when Sys() is not a *syscall.Stat_t.
func extractStatData(info fs.FileInfo) *statData {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return &statData{Atime: info.ModTime(), Ctime: info.ModTime()}
	}
	return &statData{
		Atime: time.Unix(stat.Atim.Sec, stat.Atim.Nsec),
		Ctime: time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec),
	}
}
