package pipeline

import (
	"context"
	"sync"
)

// ContextStore checkpoints run contexts so blocked runs survive a
// restart. Load returns (nil, nil) for an unknown id.
type ContextStore interface {
	Save(ctx context.Context, pc *Context) error
	Load(ctx context.Context, id string) (*Context, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the default in-process ContextStore.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]*Context)}
}

// Save stores a snapshot of the context.
func (s *MemoryStore) Save(_ context.Context, pc *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[pc.ID] = pc.clone()
	return nil
}

// Load returns a copy of the stored context, or nil if unknown.
func (s *MemoryStore) Load(_ context.Context, id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.contexts[id]
	if !ok {
		return nil, nil
	}
	return stored.clone(), nil
}

// Delete removes a stored context. Unknown ids are a no-op.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, id)
	return nil
}
