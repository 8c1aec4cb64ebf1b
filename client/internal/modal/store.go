package modal

import (
	"errors"
	"fmt"
	"sync"
)

// Name identifies one of the exclusive auth dialogs.
type Name string

const (
	Login           Name = "login"
	Register        Name = "register"
	ManagerLogin    Name = "managerLogin"
	ManagerRegister Name = "managerRegister"
)

// ErrUnknownModal is returned by OnOpen for names outside the known set.
var ErrUnknownModal = errors.New("modal: unknown modal")

var names = []Name{Login, Register, ManagerLogin, ManagerRegister}

// Store keeps at most one modal open at a time.
type Store struct {
	mu   sync.RWMutex
	open Name
}

// NewStore returns a store with every modal closed.
func NewStore() *Store {
	return &Store{}
}

// ParseName maps a string onto a known modal name.
func ParseName(raw string) (Name, error) {
	for _, n := range names {
		if string(n) == raw {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModal, raw)
}

// OnOpen opens name and closes every other modal.
func (s *Store) OnOpen(name Name) error {
	if _, err := ParseName(string(name)); err != nil {
		return err
	}
	s.mu.Lock()
	s.open = name
	s.mu.Unlock()
	return nil
}

// OnClose closes whichever modal is open.
func (s *Store) OnClose() {
	s.CloseAll()
}

// CloseAll clears every flag.
func (s *Store) CloseAll() {
	s.mu.Lock()
	s.open = ""
	s.mu.Unlock()
}

// IsOpen reports the flag of one modal.
func (s *Store) IsOpen(name Name) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open != "" && s.open == name
}

// Open returns the open modal, if any.
func (s *Store) Open() (Name, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open, s.open != ""
}

// Flags returns every visibility flag keyed by name.
func (s *Store) Flags() map[Name]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flags := make(map[Name]bool, len(names))
	for _, n := range names {
		flags[n] = n == s.open
	}
	return flags
}
