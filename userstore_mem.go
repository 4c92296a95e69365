package sipcore

import (
	"context"
	"sync"

	"github.com/openpbx/sipcore/auth"
)

// MemoryUserStore is the in-memory reference UserStore (spec.md 6)
// satisfying auth.CredentialLookup: a realm-scoped user:credential map
// with no persistence, suitable for tests and the CLI's standalone mode.
type MemoryUserStore struct {
	mu    sync.RWMutex
	creds map[string]auth.Credential // key: realm + "\x00" + username
}

// NewMemoryUserStore constructs an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{creds: make(map[string]auth.Credential)}
}

func userKey(realm, username string) string { return realm + "\x00" + username }

// Put inserts or replaces a user's credential.
func (s *MemoryUserStore) Put(cred auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[userKey(cred.Realm, cred.Username)] = cred
}

// Remove deletes a user's credential, if present.
func (s *MemoryUserStore) Remove(realm, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, userKey(realm, username))
}

// Lookup implements auth.CredentialLookup.
func (s *MemoryUserStore) Lookup(_ context.Context, username, realm string) (auth.Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[userKey(realm, username)]
	return cred, ok, nil
}
