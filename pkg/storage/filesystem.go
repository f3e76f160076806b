package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/satchel/pkg/registry"
)

// FilesystemBlobStore implements registry.BlobStore on the local filesystem.
// Each blob is a file under the root directory with a JSON sidecar holding
// its metadata. Scoped tarball keys (@org/pkg-1.0.0.tgz) map to nested
// directories.
type FilesystemBlobStore struct {
	rootDir string
}

// NewFilesystemBlobStore creates a new filesystem-based blob store
func NewFilesystemBlobStore(rootDir string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemBlobStore{rootDir: rootDir}, nil
}

// blobPath maps a blob key to a path under the root, rejecting traversal
func (s *FilesystemBlobStore) blobPath(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.rootDir, cleaned), nil
}

// Put implements registry.BlobStore
func (s *FilesystemBlobStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	path, err := s.blobPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal blob metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", meta, 0644); err != nil {
		return fmt.Errorf("failed to write blob metadata: %w", err)
	}

	return nil
}

// Get implements registry.BlobStore
func (s *FilesystemBlobStore) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read blob: %w", err)
	}

	// A missing sidecar is not an error here; the handler decides what an
	// absent metadata record means.
	var metadata map[string]string
	meta, err := os.ReadFile(path + ".meta.json")
	if err == nil {
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal blob metadata: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	return data, metadata, nil
}

// HealthCheck verifies the root directory is accessible
func (s *FilesystemBlobStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("blob root inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.rootDir)
	}
	return nil
}
