// Package fsstore implements a filesystem-backed blob store for cache
// snapshots. Writes are atomic: data lands in a temp file that is renamed
// over the destination, so readers never observe a partial snapshot.
package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poolcache/poolcache/pkg/types"
)

// Store persists blobs as files under a root directory. Namespaces map to
// relative paths, so "cache/assets" becomes <root>/cache/assets.json.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store rooted there.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("fsstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("fsstore: failed to create root directory: %w", err)
	}
	return &Store{root: root}, nil
}

// ReadBlob returns the blob for a namespace, or types.ErrBlobNotFound when
// no blob has been written there.
func (s *Store) ReadBlob(ctx context.Context, namespace string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.blobPath(namespace)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, types.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fsstore: read %s: %w", namespace, err)
	}
	return data, nil
}

// WriteBlob atomically replaces the blob for a namespace.
func (s *Store) WriteBlob(ctx context.Context, namespace string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.blobPath(namespace)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("fsstore: failed to create namespace directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", namespace, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsstore: rename %s: %w", namespace, err)
	}
	return nil
}

// blobPath resolves a namespace to a file path, rejecting anything that
// would escape the root directory.
func (s *Store) blobPath(namespace string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("fsstore: namespace is required")
	}

	path := filepath.Join(s.root, filepath.FromSlash(namespace)+".json")
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("fsstore: namespace escapes root: %s", namespace)
	}
	return path, nil
}
