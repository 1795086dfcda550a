package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"dsda-uploader/internal/demo"
)

// lockRetry is how often a blocked Put retries the cache lock.
const lockRetry = 50 * time.Millisecond

// FileSystemCache stores asset content and metadata in a directory:
//
//	<root>/
//	  .lock
//	  content/
//	    <checksum>        (asset bytes, named by SHA-256)
//	  metadata/
//	    <checksum>.json   (name, location, registered, commercial)
//
// Writers take an exclusive file lock so several dsdaup processes can share
// one cache. Files are replaced by rename, so readers never see a partial write.
type FileSystemCache struct {
	root        string
	contentDir  string
	metadataDir string

	mu   sync.RWMutex
	lock *flock.Flock
}

// NewFileSystemCache creates a cache rooted at the given path.
func NewFileSystemCache(root string) (*FileSystemCache, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &FileSystemCache{
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
		lock:        flock.New(filepath.Join(root, ".lock")),
	}, nil
}

// Stat returns the cached entry for checksum, or nil, nil when absent.
func (c *FileSystemCache) Stat(ctx context.Context, checksum string) (*demo.CacheEntry, error) {
	if err := validChecksum(checksum); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	contentPath := c.contentPath(checksum)
	info, err := os.Stat(contentPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat cached content: %w", err)
	}

	entry := &demo.CacheEntry{Checksum: checksum, Size: info.Size(), Path: contentPath}
	data, err := os.ReadFile(c.metadataPath(checksum))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	default:
		if err := json.Unmarshal(data, &entry.CacheMetadata); err != nil {
			return nil, fmt.Errorf("decoding cache metadata: %w", err)
		}
	}
	return entry, nil
}

// Get writes the cached content for checksum to w.
func (c *FileSystemCache) Get(ctx context.Context, checksum string, w io.Writer) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.contentPath(checksum))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, checksum)
		}
		return fmt.Errorf("failed to open cached content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read cached content: %w", err)
	}
	return nil
}

// Put stores content under checksum and replaces its metadata. Content that
// is already cached is kept; the reader is drained and its size checked.
func (c *FileSystemCache) Put(ctx context.Context, checksum string, r io.Reader, size int64, meta demo.CacheMetadata) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.lock.TryLockContext(ctx, lockRetry); err != nil {
		return fmt.Errorf("locking cache: %w", err)
	}
	defer c.lock.Unlock()

	contentPath := c.contentPath(checksum)
	if _, err := os.Stat(contentPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
	} else if err := writeFile(contentPath, r, size); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}
	return writeFile(c.metadataPath(checksum), bytesReader(data), int64(len(data)))
}

// ValidateSetup verifies that the cache directories are accessible.
func (c *FileSystemCache) ValidateSetup() error {
	for _, dir := range []string{c.root, c.contentDir, c.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("cache directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("cache path is not a directory: %s", dir)
		}
	}
	return nil
}

func (c *FileSystemCache) contentPath(checksum string) string {
	return filepath.Join(c.contentDir, checksum)
}

func (c *FileSystemCache) metadataPath(checksum string) string {
	return filepath.Join(c.metadataDir, checksum+".json")
}

// writeFile writes r to destPath atomically (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ demo.AssetCache = (*FileSystemCache)(nil)
