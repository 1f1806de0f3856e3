package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON file per key under dir/collection.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(collection, key string) string {
	return filepath.Join(s.dir, collection, filepath.Base(key)+".json")
}

// Put writes v atomically via a temp file and rename.
func (s *FileStore) Put(ctx context.Context, collection, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, key, err)
	}

	target := s.path(collection, key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get reads collection/key into v.
func (s *FileStore) Get(ctx context.Context, collection, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.path(collection, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes collection/key if present.
func (s *FileStore) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(collection, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Keys lists the keys in a collection.
func (s *FileStore) Keys(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, collection))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// DeleteAll removes a collection.
func (s *FileStore) DeleteAll(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.dir, collection)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", collection, err)
	}
	return nil
}
