package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore is a local-filesystem-backed implementation of the
// abstract object storage capability, kept vendor-neutral at the
// interface boundary. Keys are scoped "{owner_id}/{submission_id}/..."
// so a misdirected read can never cross an owner boundary by
// construction.
type ObjectStore struct {
	baseDir string
}

func NewObjectStore(baseDir string) (*ObjectStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store base dir: %w", err)
	}
	return &ObjectStore{baseDir: baseDir}, nil
}

// Key builds the owner-scoped storage path for a submission artifact.
func (o *ObjectStore) Key(ownerID, submissionID, name string) string {
	return filepath.Join(ownerID, submissionID, name)
}

// Put writes bytes under the given key, creating parent directories.
func (o *ObjectStore) Put(key string, data []byte) error {
	full := filepath.Join(o.baseDir, filepath.Clean(string(filepath.Separator)+key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	return nil
}

// Get reads bytes back by key.
func (o *ObjectStore) Get(key string) ([]byte, error) {
	full := filepath.Join(o.baseDir, filepath.Clean(string(filepath.Separator)+key))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}
