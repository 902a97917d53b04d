// Package keyfile persists wrapped keys next to the data they protect.
//
// Key files are written once with exclusive-create semantics and flushed
// to stable storage. A second writer never replaces an existing file; it
// gets domain.ErrKeyAlreadyExists and is expected to read the winner's key.
package keyfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
)

// Well-known key file names.
const (
	ClusterKeyName  = "_encrypted_cluster_key"
	ShardKeyName    = "_encrypted_ceff_shard_key"
	TranslogKeyName = "_encrypted_translog_key"
)

// MaxSize bounds the size of a key file read back from disk.
const MaxSize = 64 << 10

// ErrModeMismatch is returned when a key file holds a key of an unexpected mode.
var ErrModeMismatch = errors.New("keyfile: key mode mismatch")

// CreateExclusive writes data to path, failing with domain.ErrKeyAlreadyExists
// if the file is already present. The content is written and synced to a
// temporary file first and then hard-linked into place, so a reader never
// observes a partially written key.
func CreateExclusive(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("keyfile: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("keyfile: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keyfile: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("keyfile: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keyfile: close %s: %w", path, err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrKeyAlreadyExists.WithDetails(path)
		}
		return fmt.Errorf("keyfile: link %s: %w", path, err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("keyfile: open dir: %w", err)
	}
	defer d.Close()
	// Some filesystems reject fsync on directories; the file itself is already durable.
	_ = d.Sync()
	return nil
}

// Read returns the content of a key file.
func Read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxSize {
		return nil, fmt.Errorf("keyfile: %s is %d bytes, larger than %d", path, info.Size(), MaxSize)
	}
	return os.ReadFile(path)
}

// Exists reports whether a key file is present.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Resolve returns the key stored at path, minting and persisting one of the
// given mode if none exists. created reports whether this call wrote the file.
// When two callers race, exactly one creates the file and the other opens it.
func Resolve(ctx context.Context, path string, h *kek.Hierarchy, mode envelope.KeyMode) (key *envelope.OpenedKey, created bool, err error) {
	key, err = load(ctx, path, h, mode)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	minted, err := h.MintKey(ctx, mode)
	if err != nil {
		return nil, false, err
	}
	if err := CreateExclusive(path, minted.Wrapped().Bytes()); err != nil {
		minted.Destroy()
		if !errors.Is(err, domain.ErrKeyAlreadyExists) {
			return nil, false, err
		}
		key, err = load(ctx, path, h, mode)
		return key, false, err
	}
	return minted, true, nil
}

func load(ctx context.Context, path string, h *kek.Hierarchy, mode envelope.KeyMode) (*envelope.OpenedKey, error) {
	b, err := Read(path)
	if err != nil {
		return nil, err
	}
	wk, err := envelope.ParseWrappedKey(b)
	if err != nil {
		return nil, fmt.Errorf("keyfile: %s: %w", path, err)
	}
	if wk.Mode != mode {
		return nil, fmt.Errorf("%w: %s holds %s, want %s", ErrModeMismatch, path, wk.Mode, mode)
	}
	key, err := h.OpenKey(ctx, wk)
	if err != nil {
		return nil, fmt.Errorf("keyfile: %s: %w", path, err)
	}
	return key, nil
}
