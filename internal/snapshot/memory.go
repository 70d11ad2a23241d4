package snapshot

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps artifacts in a map. It backs dry runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// PutObject retains a copy of the content and returns a memory:// URI.
func (s *MemoryStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read snapshot payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), payload...)
	return "memory://" + path, nil
}

// Get returns the stored payload for a path, for assertions in tests.
func (s *MemoryStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.data[path]
	return payload, ok
}
