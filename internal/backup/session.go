package backup

import (
	"time"
)

const (
	// SessionPrefix starts every session folder name.
	SessionPrefix = "backup_"
	// SessionTimeLayout is the timestamp part of a session folder name.
	SessionTimeLayout = "20060102_150405"
	// KeyFileName holds the sealed session key inside an encrypted session folder.
	KeyFileName = "session.key.age"
)

// SessionName returns the folder name for a session started at t.
func SessionName(t time.Time) string {
	return SessionPrefix + t.Format(SessionTimeLayout)
}

// Session is one run of the pipeline, identified by its destination folder.
type Session struct {
	Name      string
	Folder    string
	StartedAt time.Time
}

// StagedItem is one regular file as stored in the session folder.
// Checksum always covers the stored bytes (ciphertext when Encrypted);
// PlainChecksum covers the content as it was read from the source.
type StagedItem struct {
	Source        string
	StagedPath    string
	RelPath       string
	Size          int64
	Checksum      string
	PlainChecksum string
	Encrypted     bool
}

// SkipReason says why a source was left out of a session.
type SkipReason int

const (
	SkipNotFound SkipReason = iota
	SkipUnsupported
	// SkipDestination marks the backup destination found inside a directory
	// source; it is never copied into itself.
	SkipDestination
)

func (r SkipReason) String() string {
	switch r {
	case SkipUnsupported:
		return "unsupported file type"
	case SkipDestination:
		return "backup destination"
	default:
		return "source not found"
	}
}

// ParseSkipReason is the inverse of SkipReason.String. Unknown text maps to
// SkipNotFound.
func ParseSkipReason(s string) SkipReason {
	for _, r := range []SkipReason{SkipUnsupported, SkipDestination} {
		if r.String() == s {
			return r
		}
	}
	return SkipNotFound
}

// Skip records a source that was not staged. Skips are warnings; they never
// fail a run.
type Skip struct {
	Path   string
	Reason SkipReason
}
