package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"adhoc-backup/internal/backup"
)

// StubStager returns a canned result. When Folder is set, Stage creates it
// and reports it as the session folder.
type StubStager struct {
	Name   string
	Folder string
	Items  []backup.StagedItem
	Skips  []backup.Skip
	Err    error

	mu    sync.Mutex
	calls int
	keys  []backup.FileEncrypter
}

var _ backup.Stager = (*StubStager)(nil)

func (s *StubStager) Stage(ctx context.Context, mode backup.Mode, sources []string, destinationRoot string, key backup.FileEncrypter) (*backup.StageResult, error) {
	s.mu.Lock()
	s.calls++
	s.keys = append(s.keys, key)
	s.mu.Unlock()

	res := &backup.StageResult{
		Session: backup.Session{Name: s.Name, Folder: s.Folder},
		Items:   s.Items,
		Skips:   s.Skips,
	}
	if s.Folder != "" {
		if err := os.MkdirAll(s.Folder, 0755); err != nil {
			return nil, err
		}
	}
	return res, s.Err
}

// Calls returns how many times Stage ran.
func (s *StubStager) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Keys returns the key passed to each Stage call.
func (s *StubStager) Keys() []backup.FileEncrypter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backup.FileEncrypter(nil), s.keys...)
}

// StubArchiver reports "<folder>.zip" without writing anything, or Err.
type StubArchiver struct {
	Err error

	mu      sync.Mutex
	folders []string
}

var _ backup.Archiver = (*StubArchiver)(nil)

func (a *StubArchiver) Compress(ctx context.Context, folder string) (string, error) {
	a.mu.Lock()
	a.folders = append(a.folders, folder)
	a.mu.Unlock()
	if a.Err != nil {
		return "", a.Err
	}
	return filepath.Clean(folder) + ".zip", nil
}

func (a *StubArchiver) Folders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.folders...)
}
