package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by a Backend when nothing is stored under a key.
var ErrNotFound = errors.New("store: key not found")

// Backend is durable key-value storage for the configuration blob.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// FileBackend keeps one file per key under Dir.
type FileBackend struct {
	Dir string
}

// NewFileBackend returns a FileBackend rooted at dir. The directory is
// created on first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.Dir, url.PathEscape(key)+".json")
}

// Get reads the file for key.
func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return data, nil
}

// Set replaces the file for key. The write goes to a temp file first and
// is renamed into place, so a crash never leaves a half-written blob.
func (b *FileBackend) Set(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(b.Dir, 0o750); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(b.Dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: rename temp file: %w", err)
	}

	return nil
}
