package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File keeps one JSON document per key under a local directory.
type File struct {
	dir string
}

// NewFile ensures dir exists and returns a store rooted there.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(key string) string {
	// Sanitize key for filename
	safeKey := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(filepath.Base(key))
	return filepath.Join(f.dir, safeKey+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("file get", key, err)
	}
	return string(data), true, nil
}

// Set writes to a temp file and renames it over the old one, so readers never
// see a half-written list.
func (f *File) Set(_ context.Context, key, value string) error {
	path := f.path(key)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return unavailable("file set", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return unavailable("file set", key, err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("file set", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return unavailable("file set", key, err)
	}
	return nil
}
