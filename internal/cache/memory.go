package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dsda-uploader/internal/demo"
)

// MemoryCache keeps asset content in memory. It is safe for concurrent use.
type MemoryCache struct {
	mu       sync.RWMutex
	content  map[string][]byte
	metadata map[string]demo.CacheMetadata
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		content:  make(map[string][]byte),
		metadata: make(map[string]demo.CacheMetadata),
	}
}

// Stat returns the cached entry for checksum, or nil, nil when absent.
func (m *MemoryCache) Stat(ctx context.Context, checksum string) (*demo.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[checksum]
	if !ok {
		return nil, nil
	}
	return &demo.CacheEntry{
		Checksum:      checksum,
		Size:          int64(len(data)),
		CacheMetadata: m.metadata[checksum],
	}, nil
}

// Get writes the cached content for checksum to w.
func (m *MemoryCache) Get(ctx context.Context, checksum string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, checksum)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Put stores content under checksum and replaces its metadata.
func (m *MemoryCache) Put(ctx context.Context, checksum string, r io.Reader, size int64, meta demo.CacheMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[checksum]; !ok {
		m.content[checksum] = data
	}
	m.metadata[checksum] = meta
	return nil
}

// Len returns the number of cached assets.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

var _ demo.AssetCache = (*MemoryCache)(nil)
