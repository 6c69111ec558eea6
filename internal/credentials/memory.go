package credentials

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a process-local Store. The server and worker must share the
// process for a GUID issued by one to resolve in the other.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Put(_ context.Context, cred Credential) (string, error) {
	guid := NewGUID()
	s.mu.Lock()
	s.creds[guid] = cred
	s.mu.Unlock()
	return guid, nil
}

func (s *MemoryStore) Get(_ context.Context, guid string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[guid]
	if !ok {
		return Credential{}, fmt.Errorf("%s: %w", guid, ErrNotFound)
	}
	return cred, nil
}

func (s *MemoryStore) Delete(_ context.Context, guid string) error {
	s.mu.Lock()
	delete(s.creds, guid)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
