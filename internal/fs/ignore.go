package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is read from the root of every directory source. Its
// patterns apply to that directory only, after the configured ones.
const IgnoreFileName = ".backupignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
	negate    bool // "!pattern" re-includes what an earlier pattern excluded
}

// IgnoreMatcher checks file paths against an ordered set of ignore patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the full relative path from the directory root.
// The last matching pattern wins.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from one or more lists of raw
// patterns, applied in order. Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(patternSets ...[]string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, set := range patternSets {
		m.add(set)
	}
	return m
}

// With returns a new matcher holding m's patterns followed by extra.
func (m *IgnoreMatcher) With(extra []string) *IgnoreMatcher {
	out := &IgnoreMatcher{patterns: append([]ignorePattern(nil), m.patterns...)}
	out.add(extra)
	return out
}

func (m *IgnoreMatcher) add(raw []string) {
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := ignorePattern{}
		if strings.HasPrefix(line, "!") {
			p.negate = true
			line = line[1:]
		}
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			continue
		}
		p.pattern = line
		p.matchPath = strings.Contains(line, "/")
		m.patterns = append(m.patterns, p)
	}
}

// Match reports whether the given relative path should be ignored.
// relativePath should use filepath separators and be relative to the directory root.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	ignored := false
	for _, p := range m.patterns {
		subject := basename
		if p.matchPath {
			subject = normalized
		}
		matched, err := filepath.Match(p.pattern, subject)
		if err != nil {
			// Malformed patterns never match.
			continue
		}
		if matched {
			ignored = !p.negate
		}
	}
	return ignored
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
