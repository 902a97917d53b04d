package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps each container as a directory under a root.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blobstore: fs dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Container returns the container at path.
func (s *FSStore) Container(path string) Container {
	p := cleanPath(path)
	return &fsContainer{path: p, dir: filepath.Join(s.root, filepath.FromSlash(p))}
}

// Close is a no-op.
func (s *FSStore) Close() error { return nil }

type fsContainer struct {
	path string
	dir  string
}

func (c *fsContainer) Path() string { return c.path }

func (c *fsContainer) file(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name), nil
}

func (c *fsContainer) Exists(_ context.Context, name string) (bool, error) {
	p, err := c.file(name)
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

func (c *fsContainer) Read(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := c.file(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.path, name)
	}
	return f, err
}

func (c *fsContainer) ReadRange(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	p, err := c.file(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.path, name)
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	start, end, err := rangeBounds(info.Size(), offset, length)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sectionReadCloser{Reader: io.NewSectionReader(f, start, end-start), Closer: f}, nil
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}

func (c *fsContainer) Write(ctx context.Context, name string, r io.Reader, size int64, failIfExists bool) error {
	p, err := c.file(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("blobstore: create container: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+name+".part*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, size))
	if err == nil && n != size {
		err = fmt.Errorf("%w: wrote %d of %d bytes", ErrSizeMismatch, n, size)
	}
	if err == nil {
		err = expectEOF(r)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("blobstore: write %s/%s: %w", c.path, name, err)
	}

	if failIfExists {
		if err := os.Link(tmp.Name(), p); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.path, name)
			}
			return err
		}
		return nil
	}
	return os.Rename(tmp.Name(), p)
}

func (c *fsContainer) Delete(_ context.Context, names ...string) error {
	for _, name := range names {
		p, err := c.file(name)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *fsContainer) List(_ context.Context, prefix string) (map[string]int64, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[name] = info.Size()
	}
	return out, nil
}
