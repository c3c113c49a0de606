package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"adhoc-backup/internal/backup"
)

const (
	// DefaultWorkFactor is the scrypt log2(N) used when none is configured.
	DefaultWorkFactor = 18
	// MaxWorkFactor is the highest work factor OpenKey will accept.
	MaxWorkFactor = 22
)

// Key is the key of one session: an X25519 identity generated when the
// session starts. Files are encrypted to its recipient, so no per-file key
// stretching happens. The identity is stored only in sealed form, encrypted
// to an scrypt recipient for the operator secret.
type Key struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
	sealed    []byte
}

var (
	_ backup.FileEncrypter = (*Key)(nil)
	_ backup.SealedKey     = (*Key)(nil)
)

// DeriveKey creates the key for a new session and seals it with secret.
// scrypt runs exactly once, here. workFactor is the scrypt log2(N); 0 selects
// DefaultWorkFactor.
func DeriveKey(secret string, workFactor int) (*Key, error) {
	if secret == "" {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("empty secret"))
	}
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	if workFactor < 1 || workFactor > MaxWorkFactor {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed",
			fmt.Errorf("scrypt work factor %d out of range 1..%d", workFactor, MaxWorkFactor))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("generating session identity: %w", err))
	}

	recipient, err := age.NewScryptRecipient(secret)
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("creating scrypt recipient: %w", err))
	}
	recipient.SetWorkFactor(workFactor)

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("sealing session identity: %w", err))
	}
	if _, err := io.WriteString(w, identity.String()); err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("sealing session identity: %w", err))
	}
	if err := w.Close(); err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "key derivation failed", fmt.Errorf("sealing session identity: %w", err))
	}

	return &Key{recipient: identity.Recipient(), identity: identity, sealed: sealed.Bytes()}, nil
}

// OpenKey unseals a session key written by DeriveKey. A wrong secret or a
// damaged sealed key is an ErrCrypto.
func OpenKey(secret string, sealed []byte) (*Key, error) {
	if secret == "" {
		return nil, backup.NewError(backup.ErrCrypto, "", "opening session key failed", fmt.Errorf("empty secret"))
	}
	scryptIdentity, err := age.NewScryptIdentity(secret)
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "opening session key failed", err)
	}
	scryptIdentity.SetMaxWorkFactor(MaxWorkFactor)

	r, err := age.Decrypt(bytes.NewReader(sealed), scryptIdentity)
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "opening session key failed", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "opening session key failed", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, backup.NewError(backup.ErrCrypto, "", "opening session key failed", fmt.Errorf("parsing session identity: %w", err))
	}

	return &Key{
		recipient: identity.Recipient(),
		identity:  identity,
		sealed:    append([]byte(nil), sealed...),
	}, nil
}

// Sealed returns the session identity encrypted with the operator secret.
func (k *Key) Sealed() []byte {
	return append([]byte(nil), k.sealed...)
}

// EncryptStream reads plaintext from r and writes age ciphertext to w.
func (k *Key) EncryptStream(r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, k.recipient)
	if err != nil {
		return cryptoError("", "encryption failed", fmt.Errorf("creating encrypted writer: %w", err))
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return cryptoError("", "encryption failed", fmt.Errorf("encrypting data: %w", err))
	}
	if err := encWriter.Close(); err != nil {
		return cryptoError("", "encryption failed", fmt.Errorf("finalizing encryption: %w", err))
	}
	return nil
}

// DecryptStream reads age ciphertext from r and writes plaintext to w.
// A wrong key, truncated input or tampered payload is an ErrCrypto; output
// already written to w must then be discarded.
func (k *Key) DecryptStream(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, k.identity)
	if err != nil {
		return cryptoError("", "decryption failed", fmt.Errorf("opening encrypted stream: %w", err))
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return cryptoError("", "decryption failed", fmt.Errorf("decrypting data: %w", err))
	}
	return nil
}

// Encrypt returns the ciphertext of plaintext.
func (k *Key) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := k.EncryptStream(bytes.NewReader(plaintext), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt returns the plaintext of ciphertext.
func (k *Key) Decrypt(ciphertext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := k.DecryptStream(bytes.NewReader(ciphertext), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncryptFile replaces the file at path with its ciphertext. The file is
// rewritten through a temp file in the same directory and renamed into
// place, keeping its permissions and modification time.
func (k *Key) EncryptFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", err)
	}
	defer src.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".enc-*")
	if err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := k.EncryptStream(src, tmpFile); err != nil {
		tmpFile.Close()
		return cryptoError(path, "encryption failed", err)
	}
	if err := tmpFile.Close(); err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", fmt.Errorf("closing temp file: %w", err))
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return backup.NewError(backup.ErrIO, path, "encryption failed", fmt.Errorf("renaming temp file: %w", err))
	}

	success = true
	return nil
}

// DecryptFile writes the plaintext of the encrypted file at path to w.
func (k *Key) DecryptFile(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return backup.NewError(backup.ErrIO, path, "decryption failed", err)
	}
	defer f.Close()

	if err := k.DecryptStream(f, w); err != nil {
		return cryptoError(path, "decryption failed", err)
	}
	return nil
}

// cryptoError wraps err as an ErrCrypto. An error that already carries a
// kind only gains the source path.
func cryptoError(source, msg string, err error) error {
	if be, ok := err.(*backup.Error); ok {
		out := *be
		if out.Source == "" {
			out.Source = source
		}
		return &out
	}
	return backup.NewError(backup.ErrCrypto, source, msg, err)
}
