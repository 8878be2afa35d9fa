package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-process Store for tests and single-process setups.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("mediaflow/artifact: put %s: %w", key, err)
	}

	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len returns the number of stored artifacts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
