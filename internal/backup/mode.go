package backup

import (
	"fmt"
	"strings"
)

// Mode selects which pipeline variant a Request runs.
type Mode int

const (
	modeInvalid Mode = iota
	// ModeFiles backs up individually listed files (directories are accepted too).
	ModeFiles
	// ModeFolders backs up listed directories recursively (files are accepted too).
	ModeFolders
	// ModeDatabase backs up exactly one database file, without recursion.
	ModeDatabase
)

var modeNames = map[Mode]string{
	ModeFiles:    "files",
	ModeFolders:  "folders",
	ModeDatabase: "database",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode converts a mode selector into a Mode. The menu numbers used by
// the interactive front end ("1", "2", "3") are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "files", "file", "1":
		return ModeFiles, nil
	case "folders", "folder", "dirs", "2":
		return ModeFolders, nil
	case "database", "db", "3":
		return ModeDatabase, nil
	default:
		return modeInvalid, configErrorf("invalid mode %q (want files, folders or database)", s)
	}
}
