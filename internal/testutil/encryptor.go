package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/encryption"
)

// TestWorkFactor keeps scrypt fast in tests.
const TestWorkFactor = 10

// NewTestKey derives a real age key with a low scrypt work factor.
func NewTestKey(t *testing.T, secret string) *encryption.Key {
	t.Helper()
	k, err := encryption.DeriveKey(secret, TestWorkFactor)
	if err != nil {
		t.Fatalf("deriving test key: %v", err)
	}
	return k
}

// TestDeriver returns a key deriver with the test work factor.
func TestDeriver() encryption.Deriver {
	return encryption.Deriver{WorkFactor: TestWorkFactor}
}

// CountingDeriver derives real test keys and counts how often it was asked.
type CountingDeriver struct {
	mu    sync.Mutex
	calls int
}

var _ backup.KeyDeriver = (*CountingDeriver)(nil)

func (d *CountingDeriver) DeriveKey(secret string) (backup.FileEncrypter, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return TestDeriver().DeriveKey(secret)
}

func (d *CountingDeriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// FailingEncrypter fails for files whose base name is FailOn and records
// every other path it was asked to encrypt. It does not touch the files.
type FailingEncrypter struct {
	FailOn string

	mu    sync.Mutex
	paths []string
}

func (e *FailingEncrypter) EncryptFile(path string) error {
	if filepath.Base(path) == e.FailOn {
		return fmt.Errorf("refusing to encrypt %s", path)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, path)
	return nil
}

func (e *FailingEncrypter) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}
