package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used in tests and DB-less dev mode.
//
// Conditional mutations take the same single-step form as the SQL
// implementation, just under one mutex, so the service's race behavior is
// identical across backends.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Credential
	byID   map[string]*Credential
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Credential),
		byID:   make(map[string]*Credential),
	}
}

// Insert adds a new credential row.
func (s *MemoryStore) Insert(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[cred.TokenHash]; exists {
		return ErrDuplicateHash
	}

	c := cred
	s.byHash[c.TokenHash] = &c
	s.byID[c.ID] = &c
	return nil
}

// FindUsableByHash returns the credential for tokenHash while usable.
func (s *MemoryStore) FindUsableByHash(_ context.Context, tokenHash string, now time.Time) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byHash[tokenHash]
	if !ok || !c.Usable(now) {
		return Credential{}, ErrCredentialNotFound
	}

	return cloneCredential(c), nil
}

// MarkRotated conditionally revokes credential id and links its successor.
func (s *MemoryStore) MarkRotated(_ context.Context, now time.Time, id string, replacedByTokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.RevokedAt != nil {
		return false, nil
	}

	at := now
	hash := replacedByTokenHash
	c.RevokedAt = &at
	c.ReplacedByTokenHash = &hash
	return true, nil
}

// MarkRevokedByHash conditionally revokes the credential matching tokenHash.
func (s *MemoryStore) MarkRevokedByHash(_ context.Context, now time.Time, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byHash[tokenHash]
	if !ok || c.RevokedAt != nil {
		return false, nil
	}

	at := now
	c.RevokedAt = &at
	return true, nil
}

// Snapshot returns a copy of every stored row, for inspection in tests.
func (s *MemoryStore) Snapshot() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Credential, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, cloneCredential(c))
	}
	return out
}

func cloneCredential(c *Credential) Credential {
	out := *c
	if c.RevokedAt != nil {
		at := *c.RevokedAt
		out.RevokedAt = &at
	}
	if c.ReplacedByTokenHash != nil {
		h := *c.ReplacedByTokenHash
		out.ReplacedByTokenHash = &h
	}
	return out
}
