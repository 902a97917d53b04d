package ceff

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// State is the lifecycle state of a Directory.
type State int

const (
	StateUninitialized State = iota
	StateKeyResolved
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateKeyResolved:
		return "key_resolved"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// KeyPath returns the location of the key file for a shard directory: the
// shard key lives in the parent, next to the directory it protects.
func KeyPath(dir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(dir)), keyfile.ShardKeyName)
}

// IsPassThrough reports whether a file of this name is always stored
// unencrypted. Segment manifests, segment info files and the write lock
// must stay readable by tooling that runs without the cluster key.
func IsPassThrough(name string) bool {
	return strings.HasPrefix(name, "segments_") ||
		strings.HasPrefix(name, "pending_segments_") ||
		strings.HasSuffix(name, ".si") ||
		name == "write.lock"
}

// Option configures a Directory.
type Option func(*Directory)

// WithChunkLength sets the plaintext chunk size of new files.
func WithChunkLength(n int) Option {
	return func(d *Directory) { d.chunkLength = n }
}

// WithCipher selects the cipher family of new files.
func WithCipher(t adaptive.CipherType) Option {
	return func(d *Directory) {
		if f, err := t.Family(); err == nil {
			d.family = f
		}
	}
}

// WithStrict makes reads of files without the encrypted header fail.
func WithStrict(strict bool) Option {
	return func(d *Directory) { d.strict = strict }
}

// WithMetrics records written bytes and authentication failures.
func WithMetrics(m *metric.Registry) Option {
	return func(d *Directory) { d.metrics = m }
}

// Directory is an encrypting view over a ByteStore. Every file except the
// pass-through names is written in the chunked encrypted format.
type Directory struct {
	mu      sync.RWMutex
	state   State
	store   ByteStore
	keyPath string
	key     []byte
	keyID   string

	family      adaptive.Family
	chunkLength int
	strict      bool
	metrics     *metric.Registry
}

// NewDirectory returns an uninitialized directory over store whose key is
// kept at keyPath.
func NewDirectory(store ByteStore, keyPath string, opts ...Option) (*Directory, error) {
	fam, _ := adaptive.Preferred().Family()
	d := &Directory{
		store:       store,
		keyPath:     keyPath,
		family:      fam,
		chunkLength: DefaultChunkLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.chunkLength < MinChunkLength || d.chunkLength > MaxChunkLength {
		return nil, fmt.Errorf("ceff: chunk length %d outside [%d, %d]", d.chunkLength, MinChunkLength, MaxChunkLength)
	}
	return d, nil
}

// OpenDirectory resolves the directory key under h and opens the directory.
// A nil hierarchy fails with domain.ErrKeyNotReady.
func OpenDirectory(ctx context.Context, store ByteStore, keyPath string, h *kek.Hierarchy, opts ...Option) (*Directory, error) {
	d, err := NewDirectory(store, keyPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.ResolveKey(ctx, h); err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveKey loads the directory key, minting and persisting it on first use.
func (d *Directory) ResolveKey(ctx context.Context, h *kek.Hierarchy) error {
	if h == nil {
		return domain.ErrKeyNotReady
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateUninitialized {
		return fmt.Errorf("ceff: resolve key in state %s", d.state)
	}

	key, created, err := keyfile.Resolve(ctx, d.keyPath, h, envelope.ModeRawSymmetric)
	if err != nil {
		return err
	}
	defer key.Destroy()
	raw, err := key.Raw()
	if err != nil {
		return err
	}
	d.key = append([]byte(nil), raw...)
	d.keyID = h.ID()
	d.state = StateKeyResolved
	if created {
		logger.L(ctx).Info("created directory key", "component", "ceff", "path", d.keyPath, "hierarchy_id", h.ID())
	}
	return nil
}

// Open makes the directory available for file operations.
func (d *Directory) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateKeyResolved {
		return fmt.Errorf("ceff: open in state %s", d.state)
	}
	d.state = StateOpen
	return nil
}

// State returns the lifecycle state.
func (d *Directory) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// HierarchyID returns the id of the hierarchy that protects the directory key.
func (d *Directory) HierarchyID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keyID
}

func (d *Directory) checkOpen() error {
	switch d.state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return domain.ErrKeyNotReady
	}
}

// fileCipher derives the chunk cipher of a file from the directory key.
func (d *Directory) fileCipher(h header) (adaptive.Cipher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.key == nil {
		return nil, ErrClosed
	}
	return fileCipher(d.key, h)
}

// Create creates a new file for writing.
func (d *Directory) Create(name string) (*Output, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	f, err := d.store.Create(name)
	if err != nil {
		return nil, err
	}
	return newOutput(d, name, f, IsPassThrough(name)), nil
}

// OpenInput opens a file for reading.
func (d *Directory) OpenInput(name string) (*Input, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	stored, err := d.store.Length(name)
	if err != nil {
		return nil, err
	}
	f, err := d.store.Open(name)
	if err != nil {
		return nil, err
	}
	if IsPassThrough(name) || stored < HeaderLength {
		return newRawInput(d, name, f, stored), nil
	}

	hdr := make([]byte, HeaderLength)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("ceff: read %s header: %w", name, err)
	}
	if !hasMagic(hdr) {
		if d.strict {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrNotEncrypted, name)
		}
		return newRawInput(d, name, f, stored), nil
	}

	in, err := newEncryptedInput(d, name, f, stored, hdr)
	if err != nil {
		f.Close()
		return nil, err
	}
	return in, nil
}

// FileLength returns the plaintext length of name without decrypting it.
func (d *Directory) FileLength(name string) (int64, error) {
	in, err := d.OpenInput(name)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return in.Length(), nil
}

// Remove deletes a file.
func (d *Directory) Remove(name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.store.Remove(name)
}

// Rename renames a file. Encrypted content does not depend on the file
// name, so the bytes move unchanged.
func (d *Directory) Rename(from, to string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if IsPassThrough(from) != IsPassThrough(to) {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("rename %s to %s changes encryption", from, to))
	}
	return d.store.Rename(from, to)
}

// List returns the file names in the directory.
func (d *Directory) List() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.store.List()
}

// Exists reports whether name is present.
func (d *Directory) Exists(name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	return d.store.Exists(name)
}

// Sync flushes the named files.
func (d *Directory) Sync(names []string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.store.Sync(names)
}

// Close releases the key and the underlying store. Closing twice is a no-op.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	clear(d.key)
	d.key = nil
	if err := d.store.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
