package backup

import (
	"context"
	"io/fs"
)

// FileEncrypter encrypts a staged file in place. A nil FileEncrypter is the
// explicit "no encryption" state.
type FileEncrypter interface {
	EncryptFile(path string) error
}

// SealedKey is implemented by session keys that are kept with the session in
// a form only the operator secret can open.
type SealedKey interface {
	Sealed() []byte
}

// KeyDeriver turns an operator secret into the key for one session.
type KeyDeriver interface {
	DeriveKey(secret string) (FileEncrypter, error)
}

// StageResult is what a Stager produced, including partial output when
// staging failed.
type StageResult struct {
	Session Session
	Items   []StagedItem
	Skips   []Skip
}

// Stager creates the session folder and copies the sources into it.
type Stager interface {
	Stage(ctx context.Context, mode Mode, sources []string, destinationRoot string, key FileEncrypter) (*StageResult, error)
}

// Archiver packs a session folder into a single sibling container file and
// returns its path.
type Archiver interface {
	Compress(ctx context.Context, folder string) (string, error)
}

// Notifier delivers a completion or failure message to an operator.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// WalkEntry is one entry below a directory source.
type WalkEntry struct {
	Path    string
	RelPath string
	Kind    SourceKind
	Info    fs.FileInfo
}

// FilesystemManager abstracts the filesystem operations the Stager needs.
type FilesystemManager interface {
	// Resolve turns a raw path into a classified Source. Missing paths are
	// not an error; they come back with kind SourceMissing.
	Resolve(rawPath string) (*Source, error)

	// Walk visits every entry below a directory source in lexical order,
	// parents before children. Ignored entries are not visited.
	Walk(root *Source, fn func(WalkEntry) error) error

	// CopyFile copies a regular file atomically, preserving permissions and
	// timestamps, and returns the digest and size of the bytes copied.
	CopyFile(ctx context.Context, src, dst string) (digest string, size int64, err error)
}

// DatabaseSnapshotter takes consistent copies of database files.
type DatabaseSnapshotter interface {
	// Detect reports whether path is a database it knows how to snapshot.
	Detect(path string) bool
	Snapshot(ctx context.Context, src, dst string) error
}
