// Package blobstore defines the snapshot repository abstraction: a store of
// containers, each holding named immutable blobs, and its backends.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blobstore: blob not found")

	// ErrAlreadyExists is returned by a failIfExists write over an existing blob.
	ErrAlreadyExists = errors.New("blobstore: blob already exists")

	// ErrSizeMismatch is returned when a write delivers a different byte count than declared.
	ErrSizeMismatch = errors.New("blobstore: size mismatch")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("blobstore: store closed")
)

// Container holds the blobs under one path of a store.
type Container interface {
	// Path returns the container path within its store.
	Path() string

	Exists(ctx context.Context, name string) (bool, error)

	// Read opens a blob for sequential reading.
	Read(ctx context.Context, name string) (io.ReadCloser, error)

	// ReadRange opens length bytes of a blob starting at offset.
	ReadRange(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error)

	// Write stores exactly size bytes from r under name.
	Write(ctx context.Context, name string, r io.Reader, size int64, failIfExists bool) error

	// Delete removes blobs. Missing names are ignored.
	Delete(ctx context.Context, names ...string) error

	// List returns the sizes of blobs whose name starts with prefix.
	List(ctx context.Context, prefix string) (map[string]int64, error)
}

// Store hands out containers.
type Store interface {
	Container(path string) Container
	Close() error
}

// Backend types.
const (
	TypeFS     = "fs"
	TypeBadger = "badger"
	TypeMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Type   string
	Dir    string
	Badger BadgerConfig
}

// Open creates a store of the configured type.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case TypeFS, "":
		s, err := NewFSStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeBadger:
		s, err := NewBadgerStore(cfg.Dir, cfg.Badger, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("blobstore: unknown type %q", cfg.Type)
	}
}

// ValidateName rejects blob names that could escape their container.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("blobstore: invalid blob name %q", name)
	}
	return nil
}

func cleanPath(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// readExactly reads size bytes from r and fails unless r ends right there.
func readExactly(r io.Reader, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrSizeMismatch, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short read: %v", ErrSizeMismatch, err)
		}
		return nil, err
	}
	if err := expectEOF(r); err != nil {
		return nil, err
	}
	return buf, nil
}

func expectEOF(r io.Reader) error {
	var probe [1]byte
	for range 100 {
		n, err := r.Read(probe[:])
		if n > 0 {
			return fmt.Errorf("%w: more data than declared", ErrSizeMismatch)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return io.ErrNoProgress
}

func rangeBounds(total, offset, length int64) (int64, int64, error) {
	if offset < 0 || length < 0 || offset > total {
		return 0, 0, fmt.Errorf("blobstore: range [%d, +%d) outside blob of %d bytes", offset, length, total)
	}
	return offset, min(offset+length, total), nil
}
