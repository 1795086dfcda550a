package testutil

import (
	"bytes"
	"context"
	"testing"

	"dsda-uploader/internal/cache"
	"dsda-uploader/internal/demo"
)

// NewTestCache creates a new in-memory asset cache.
func NewTestCache() *cache.MemoryCache {
	return cache.NewMemoryCache()
}

// SeedCache stores data under checksum with the given metadata.
func SeedCache(t *testing.T, c demo.AssetCache, checksum string, data []byte, meta demo.CacheMetadata) {
	t.Helper()
	if err := c.Put(context.Background(), checksum, bytes.NewReader(data), int64(len(data)), meta); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
}
