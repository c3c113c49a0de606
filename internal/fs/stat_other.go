//go:build !linux

package fs

import (
	"io/fs"
	"time"
)

type statData struct {
	Atime time.Time
	Ctime time.Time
}

func extractStatData(info fs.FileInfo) *statData {
	return &statData{Atime: info.ModTime(), Ctime: info.ModTime()}
}
