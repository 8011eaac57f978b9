// Package keystore keeps signing secrets at rest and in memory.
//
// Secrets are stored as bech32 nsec strings, each encrypted to an age scrypt
// recipient derived from the key's passphrase and written to
// <dir>/<name>.age.  Unlocked secrets live in a Keyring for the lifetime of
// the process.
package keystore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// DefaultWorkFactor is the scrypt log2(N) used when none is configured.
const DefaultWorkFactor = 18

var (
	// ErrNoSuchKey is returned by Open when the vault has no entry.
	ErrNoSuchKey = errors.New("no encrypted key with that name")
	// ErrBadPassphrase is returned by Open when decryption fails.
	ErrBadPassphrase = errors.New("wrong passphrase")
	// ErrInvalidName rejects names that are not plain file names.
	ErrInvalidName = errors.New("invalid key name")
)

// FileVault stores one age-encrypted file per key name.
type FileVault struct {
	dir        string
	workFactor int
}

// NewFileVault returns a vault rooted at dir.  workFactor <= 0 selects
// DefaultWorkFactor; values above 22 are clamped since age refuses to
// decrypt them by default.
func NewFileVault(dir string, workFactor int) *FileVault {
	switch {
	case workFactor <= 0:
		workFactor = DefaultWorkFactor
	case workFactor > 22:
		workFactor = 22
	}
	return &FileVault{dir: dir, workFactor: workFactor}
}

func (v *FileVault) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(v.dir, name+".age"), nil
}

// Seal encrypts nsec with passphrase and writes it under name, replacing
// any previous entry.
func (v *FileVault) Seal(name, nsec, passphrase string) error {
	p, err := v.path(name)
	if err != nil {
		return err
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(v.workFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, nsec); err != nil {
		return fmt.Errorf("writing secret: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}

	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir keystore: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write keystore entry: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename keystore entry: %w", err)
	}
	return nil
}

// Open decrypts the entry stored under name.
func (v *FileVault) Open(name, passphrase string) (string, error) {
	p, err := v.path(name)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSuchKey
	}
	if err != nil {
		return "", fmt.Errorf("read keystore entry: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return "", fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", ErrBadPassphrase
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted secret: %w", err)
	}
	return string(plaintext), nil
}
