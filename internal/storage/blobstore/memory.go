package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/yndnr/cloudlock-go/pkg/cmap"
)

// MemoryStore keeps blobs in a sharded map. It is meant for tests and
// single-process deployments.
type MemoryStore struct {
	blobs  *cmap.Map[[]byte]
	closed atomic.Bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: cmap.New[[]byte](cmap.DefaultShardCount)}
}

// Container returns the container at path.
func (s *MemoryStore) Container(path string) Container {
	return &memoryContainer{store: s, path: cleanPath(path)}
}

// Close drops all blobs.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	s.blobs.Clear()
	return nil
}

// Len returns the number of blobs across all containers.
func (s *MemoryStore) Len() int { return s.blobs.Count() }

type memoryContainer struct {
	store *MemoryStore
	path  string
}

func (c *memoryContainer) Path() string { return c.path }

func (c *memoryContainer) key(name string) (string, error) {
	if c.store.closed.Load() {
		return "", ErrClosed
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return c.path + "/" + name, nil
}

func (c *memoryContainer) get(name string) ([]byte, error) {
	k, err := c.key(name)
	if err != nil {
		return nil, err
	}
	b, ok := c.store.blobs.Get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return b, nil
}

func (c *memoryContainer) Exists(_ context.Context, name string) (bool, error) {
	k, err := c.key(name)
	if err != nil {
		return false, err
	}
	return c.store.blobs.Has(k), nil
}

func (c *memoryContainer) Read(_ context.Context, name string) (io.ReadCloser, error) {
	b, err := c.get(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *memoryContainer) ReadRange(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	b, err := c.get(name)
	if err != nil {
		return nil, err
	}
	start, end, err := rangeBounds(int64(len(b)), offset, length)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b[start:end])), nil
}

func (c *memoryContainer) Write(ctx context.Context, name string, r io.Reader, size int64, failIfExists bool) error {
	k, err := c.key(name)
	if err != nil {
		return err
	}
	b, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("blobstore: write %s: %w", k, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failIfExists {
		if !c.store.blobs.SetIfAbsent(k, b) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, k)
		}
		return nil
	}
	c.store.blobs.Set(k, b)
	return nil
}

func (c *memoryContainer) Delete(_ context.Context, names ...string) error {
	for _, name := range names {
		k, err := c.key(name)
		if err != nil {
			return err
		}
		c.store.blobs.Delete(k)
	}
	return nil
}

func (c *memoryContainer) List(_ context.Context, prefix string) (map[string]int64, error) {
	if c.store.closed.Load() {
		return nil, ErrClosed
	}
	out := make(map[string]int64)
	c.store.blobs.RangePrefix(c.path+"/"+prefix, func(k string, v []byte) bool {
		if name := k[len(c.path)+1:]; !strings.Contains(name, "/") {
			out[name] = int64(len(v))
		}
		return true
	})
	return out, nil
}
