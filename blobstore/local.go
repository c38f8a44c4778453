package blobstore

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hupe1980/dictgo/internal/fs"
)

// LocalStore implements Store on a local directory. Puts go through the
// usual tmp + fsync + rename dance so a crash never leaves a torn artifact.
type LocalStore struct {
	root string
	fsys fs.FileSystem
}

// NewLocalStore creates a store rooted at dir. A nil filesystem means the
// local one.
func NewLocalStore(dir string, fsys fs.FileSystem) *LocalStore {
	if fsys == nil {
		fsys = fs.Default
	}
	return &LocalStore{root: dir, fsys: fsys}
}

// Put writes a blob atomically.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) error {
	if err := s.fsys.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	return fs.WriteAtomic(s.fsys, filepath.Join(s.root, name), data, 0o644)
}

// Open reads a blob in full.
func (s *LocalStore) Open(_ context.Context, name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, filepath.Join(s.root, name))
}

// Delete removes a blob; missing blobs are ignored.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := s.fsys.Remove(filepath.Join(s.root, name))
	if err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// List returns blob names with the given prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := s.fsys.ReadDir(s.root)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
