package backup

import "io/fs"

// SourceKind classifies a requested path.
type SourceKind int

const (
	SourceMissing SourceKind = iota
	SourceFile
	SourceDirectory
	SourceUnsupported
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceDirectory:
		return "directory"
	case SourceUnsupported:
		return "unsupported"
	default:
		return "missing"
	}
}

// Source is a requested path after classification. Sources are created by
// FilesystemManager.Resolve, which resolves the absolute path and caches stat info.
type Source struct {
	raw     string
	absPath string
	kind    SourceKind
	info    fs.FileInfo
}

// NewSource creates a Source from its components.
// This is primarily for use by FilesystemManager implementations.
func NewSource(raw, absPath string, kind SourceKind, info fs.FileInfo) *Source {
	return &Source{raw: raw, absPath: absPath, kind: kind, info: info}
}

// String returns the absolute path.
func (s *Source) String() string { return s.absPath }

// Raw returns the path as it was given in the request.
func (s *Source) Raw() string { return s.raw }

func (s *Source) Kind() SourceKind { return s.kind }

// Info returns the cached file info, or nil for missing sources.
func (s *Source) Info() fs.FileInfo { return s.info }
