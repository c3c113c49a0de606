// Package checksum computes SHA-256 content digests without loading whole
// files into memory.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"adhoc-backup/internal/backup"
)

// BufferSize is the read chunk size used when hashing files.
const BufferSize = 32 * 1024

// New returns a fresh hash accumulator, for callers that tee data through it.
func New() hash.Hash { return sha256.New() }

// Hex formats the accumulated digest of h.
func Hex(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

// Reader hashes everything read from r.
func Reader(r io.Reader) (string, error) {
	return ReaderWithBuffer(r, make([]byte, BufferSize))
}

// ReaderWithBuffer hashes r reading through buf. The digest does not depend
// on the buffer size.
func ReaderWithBuffer(r io.Reader, buf []byte) (string, error) {
	h := New()
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return Hex(h), nil
}

// File returns the hex SHA-256 digest of the regular file at path.
// A missing path or a non-regular file is an ErrNotFound.
func File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", backup.NewError(backup.ErrNotFound, path, "checksum failed", err)
		}
		return "", backup.NewError(backup.ErrIO, path, "checksum failed", err)
	}
	if !info.Mode().IsRegular() {
		return "", backup.NewError(backup.ErrNotFound, path, "checksum failed", fmt.Errorf("not a regular file"))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", backup.NewError(backup.ErrIO, path, "checksum failed", err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", backup.NewError(backup.ErrIO, path, "checksum failed", err)
	}
	return sum, nil
}
