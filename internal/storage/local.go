package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Memory keeps files in process memory. It backs development runs without a
// bucket and tests.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemory() *Memory {
	slog.Info("using in-memory storage (dev mode)")
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, path string, file io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = buf.Bytes()
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *Memory) PresignedURL(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[path]; !ok {
		return "", fmt.Errorf("file %s not found", path)
	}
	return "memory://" + path, nil
}

// Has reports whether path was saved.
func (m *Memory) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}
