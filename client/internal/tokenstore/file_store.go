package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	sealedPrefix = "sealed:v2:"
	nonceSize    = 24
	saltSize     = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrSealedToken means the file holds a sealed token that cannot be opened with the
// configured passphrase.
var ErrSealedToken = errors.New("tokenstore: cannot open sealed token")

// FileStore keeps the token in a 0600 file. With a passphrase the token is sealed with
// NaCl secretbox under a scrypt key derived from a fresh salt on every save.
// The record is sealed:v2:<salt>:<box>.
type FileStore struct {
	path       string
	passphrase []byte
}

// NewFileStore returns a store writing to path. An empty passphrase stores plain text.
func NewFileStore(path, passphrase string) *FileStore {
	store := &FileStore{path: path}
	if passphrase != "" {
		store.passphrase = []byte(passphrase)
	}
	return store
}

// Load reads and, when sealed, opens the persisted token.
func (s *FileStore) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("tokenstore: read %s: %w", s.path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", ErrNotFound
	}
	if !strings.HasPrefix(content, "sealed:") {
		return content, nil
	}
	if s.passphrase == nil || !strings.HasPrefix(content, sealedPrefix) {
		return "", ErrSealedToken
	}
	return s.open(strings.TrimPrefix(content, sealedPrefix))
}

// Save writes the token atomically via a temp file rename.
func (s *FileStore) Save(_ context.Context, token string) error {
	content := token
	if s.passphrase != nil {
		sealed, err := s.seal(token)
		if err != nil {
			return err
		}
		content = sealedPrefix + sealed
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("tokenstore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return fmt.Errorf("tokenstore: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: close: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Clear removes the token file; a missing file is not an error.
func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokenstore: remove: %w", err)
	}
	return nil
}

func (s *FileStore) deriveKey(salt []byte) (*[32]byte, error) {
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}

func (s *FileStore) seal(token string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("tokenstore: salt: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("tokenstore: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(token), &nonce, key)
	return base64.RawURLEncoding.EncodeToString(salt) + ":" + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *FileStore) open(record string) (string, error) {
	encSalt, encBox, ok := strings.Cut(record, ":")
	if !ok {
		return "", ErrSealedToken
	}
	salt, err := base64.RawURLEncoding.DecodeString(encSalt)
	if err != nil || len(salt) != saltSize {
		return "", ErrSealedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encBox)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrSealedToken
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrSealedToken
	}
	return string(plain), nil
}
