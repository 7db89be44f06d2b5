package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

// FileStore keeps one file per key under root. The directory is created with
// owner-only permissions before the first write; files are owner read/write.
// Writes are not atomic across crashes; consumers must parse before trust
// and treat unparseable entries as misses.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Root() string { return s.root }

// keyPath resolves name under the cache root and rejects anything that
// escapes it. Keys may come from provider/account/role identifiers, so the
// traversal check must run before any filesystem access.
func (s *FileStore) keyPath(name string) (string, error) {
	if name == "" {
		return "", fault.Security("resolve cache key", "cache key is empty")
	}
	if filepath.IsAbs(name) {
		return "", fault.Security("resolve cache key", fmt.Sprintf("cache key %q is an absolute path", name))
	}
	resolved := filepath.Join(s.root, filepath.Clean(name))
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fault.Security("resolve cache key", fmt.Sprintf("cache key %q escapes the cache root", name))
	}
	return resolved, nil
}

func (s *FileStore) Get(name string, ttl time.Duration, expired ExpiredFunc) ([]byte, bool, error) {
	path, err := s.keyPath(name)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	if ttl > 0 && time.Since(info.ModTime()) > ttl {
		return nil, false, s.remove(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if expired != nil && expired(data) {
		return nil, false, s.remove(path)
	}
	return data, true, nil
}

func (s *FileStore) Put(name string, data []byte) error {
	path, err := s.keyPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *FileStore) Invalidate(name string) error {
	path, err := s.keyPath(name)
	if err != nil {
		return err
	}
	return s.remove(path)
}

func (s *FileStore) remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale cache entry: %w", err)
	}
	return nil
}
