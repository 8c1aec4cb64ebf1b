package tokenstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no token is persisted.
var ErrNotFound = errors.New("tokenstore: token not found")

// DefaultKey names the persisted token across backends.
const DefaultKey = "drivepower.token"

// Store persists a single session token across client runs.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored token.
func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNotFound
	}
	return s.token, nil
}

// Save replaces the stored token.
func (s *MemoryStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear drops the stored token.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
