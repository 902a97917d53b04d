package ceff

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// WritableFile is a file being written through a ByteStore.
type WritableFile interface {
	io.Writer
	Sync() error
	Close() error
}

// ReadableFile is a file opened for random access through a ByteStore.
type ReadableFile interface {
	io.ReaderAt
	io.Closer
}

// ByteStore is the untransformed file store a Directory encrypts into.
type ByteStore interface {
	Create(name string) (WritableFile, error)
	Open(name string) (ReadableFile, error)
	Remove(name string) error
	Rename(from, to string) error
	Exists(name string) (bool, error)
	Length(name string) (int64, error)
	List() ([]string, error)
	Sync(names []string) error
	Close() error
}

// FSStore is a ByteStore over one operating system directory.
type FSStore struct {
	dir string
}

// NewFSStore creates the directory if needed and returns a store over it.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ceff: create dir: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the directory of the store.
func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("ceff: invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Create creates name, failing if it exists.
func (s *FSStore) Create(name string) (WritableFile, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
}

// Open opens name for reading.
func (s *FSStore) Open(name string) (ReadableFile, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove deletes name.
func (s *FSStore) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Rename moves from to to, replacing to.
func (s *FSStore) Rename(from, to string) error {
	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// Exists reports whether name is present.
func (s *FSStore) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Length returns the stored size of name.
func (s *FSStore) Length(name string) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// List returns the sorted names of regular files in the store.
func (s *FSStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Sync flushes the named files and the directory entry.
func (s *FSStore) Sync(names []string) error {
	for _, name := range names {
		p, err := s.path(name)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(p, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		err = f.Sync()
		f.Close()
		if err != nil {
			return fmt.Errorf("ceff: sync %s: %w", name, err)
		}
	}
	d, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}

// Close releases the store. FSStore holds no resources.
func (s *FSStore) Close() error { return nil }
