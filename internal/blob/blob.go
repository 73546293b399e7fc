// Package blob abstracts the file store that holds captured and seeded
// photos. The game only ever handles the opaque download URL.
package blob

import (
	"context"
	"fmt"
	"sync"
)

// Storage persists raw image bytes and returns a URL to fetch them back.
type Storage interface {
	Upload(ctx context.Context, data []byte, path string) (downloadURL string, err error)
}

// MemoryStorage keeps blobs in process memory. Stands in for the hosted
// bucket in tests and local runs.
type MemoryStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Upload(_ context.Context, data []byte, path string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload %s: empty payload", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[path] = buf
	return "mem://" + path, nil
}

// Get retrieves a stored blob by the path it was uploaded under.
func (m *MemoryStorage) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	return b, ok
}
