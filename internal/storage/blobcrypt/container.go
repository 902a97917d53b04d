package blobcrypt

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/storage/blobstore"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// ErrRangeUnsupported is returned by ReadRange. Encrypted blobs can only
// be read from the start.
var ErrRangeUnsupported = errors.New("blobcrypt: ranged reads of encrypted blobs are not supported")

const (
	lengthPrefix  = 4
	maxWrappedKey = 4096
	writeBuffer   = 64 << 10
)

// KeySource supplies the master key hierarchy. keystore.Registry implements it.
type KeySource interface {
	Hierarchy() (*kek.Hierarchy, error)
}

// EncryptedSize returns the stored size of a blob holding p plaintext bytes
// under a wrapped key of wrappedLen bytes.
func EncryptedSize(p int64, wrappedLen int) int64 {
	return lengthPrefix + int64(wrappedLen) + ExpectedCiphertextSize(p)
}

// Container encrypts blobs written to a delegate container. Each blob
// carries its own SegmentedAead key: [u32 BE key length][wrapped key][stream].
type Container struct {
	delegate blobstore.Container
	keys     KeySource
	metrics  *metric.Registry
}

var _ blobstore.Container = (*Container)(nil)

// NewContainer wraps delegate.
func NewContainer(delegate blobstore.Container, keys KeySource, m *metric.Registry) *Container {
	return &Container{delegate: delegate, keys: keys, metrics: m}
}

func (c *Container) Path() string { return c.delegate.Path() }

func (c *Container) Exists(ctx context.Context, name string) (bool, error) {
	return c.delegate.Exists(ctx, name)
}

func (c *Container) Delete(ctx context.Context, names ...string) error {
	return c.delegate.Delete(ctx, names...)
}

// List returns stored (encrypted) sizes.
func (c *Container) List(ctx context.Context, prefix string) (map[string]int64, error) {
	return c.delegate.List(ctx, prefix)
}

// Write encrypts size bytes from r into the delegate. Encryption runs in a
// producer goroutine feeding the delegate through a pipe; cancelling ctx
// closes both ends of the pipe and stops both sides.
func (c *Container) Write(ctx context.Context, name string, r io.Reader, size int64, failIfExists bool) error {
	h, err := c.keys.Hierarchy()
	if err != nil {
		return err
	}
	key, err := h.MintKey(ctx, envelope.ModeSegmentedAead)
	if err != nil {
		return err
	}
	defer key.Destroy()
	wrapped := key.Wrapped().Bytes()

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		pr.CloseWithError(gctx.Err())
		pw.CloseWithError(gctx.Err())
	})
	defer stop()

	g.Go(func() error {
		err := c.produce(pw, r, size, wrapped, key)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := c.delegate.Write(gctx, name, pr, EncryptedSize(size, len(wrapped)), failIfExists)
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("blobcrypt: write %s/%s: %w", c.Path(), name, err)
	}
	c.metrics.BlobWritten(size)
	return nil
}

func (c *Container) produce(pw io.Writer, r io.Reader, size int64, wrapped []byte, key *envelope.OpenedKey) error {
	bw := bufio.NewWriterSize(pw, writeBuffer)
	var prefix [lengthPrefix]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(wrapped)))
	if _, err := bw.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := bw.Write(wrapped); err != nil {
		return err
	}

	sw, err := NewWriter(bw, key)
	if err != nil {
		return err
	}
	n, err := io.Copy(sw, io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("%w: read %d of %d plaintext bytes", blobstore.ErrSizeMismatch, n, size)
	}
	if err := sw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// Read opens a blob and decrypts it as it is read.
func (c *Container) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	h, err := c.keys.Hierarchy()
	if err != nil {
		return nil, err
	}
	rc, err := c.delegate.Read(ctx, name)
	if err != nil {
		return nil, err
	}

	key, err := c.readKey(ctx, h, rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("blobcrypt: read %s/%s: %w", c.Path(), name, err)
	}
	sr, err := NewReader(rc, key)
	if err != nil {
		key.Destroy()
		rc.Close()
		return nil, fmt.Errorf("blobcrypt: read %s/%s: %w", c.Path(), name, err)
	}
	return &decryptingReader{Reader: sr, src: rc, key: key, metrics: c.metrics}, nil
}

func (c *Container) readKey(ctx context.Context, h *kek.Hierarchy, r io.Reader) (*envelope.OpenedKey, error) {
	var prefix [lengthPrefix]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: key length: %v", ErrTruncated, err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxWrappedKey {
		return nil, fmt.Errorf("blobcrypt: wrapped key length %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: wrapped key: %v", ErrTruncated, err)
	}
	wk, err := envelope.ParseWrappedKey(b)
	if err != nil {
		return nil, err
	}
	if wk.Mode != envelope.ModeSegmentedAead {
		return nil, domain.ErrUnsupportedMode.WithDetails("blob key mode " + wk.Mode.String())
	}
	key, err := h.OpenKey(ctx, wk)
	if err != nil {
		c.metrics.AuthFailure(metric.ComponentBlob)
		return nil, err
	}
	return key, nil
}

// ReadRange always fails with ErrRangeUnsupported.
func (c *Container) ReadRange(context.Context, string, int64, int64) (io.ReadCloser, error) {
	return nil, ErrRangeUnsupported
}

type decryptingReader struct {
	*Reader
	src     io.Closer
	key     *envelope.OpenedKey
	metrics *metric.Registry
	failed  bool
}

func (d *decryptingReader) Read(p []byte) (int, error) {
	n, err := d.Reader.Read(p)
	if !d.failed && errors.Is(err, domain.ErrAuthentication) {
		d.failed = true
		d.metrics.AuthFailure(metric.ComponentBlob)
	}
	return n, err
}

func (d *decryptingReader) Close() error {
	d.key.Destroy()
	return d.src.Close()
}

// Store wraps a delegate store so every container encrypts.
type Store struct {
	delegate blobstore.Store
	keys     KeySource
	metrics  *metric.Registry
}

var _ blobstore.Store = (*Store)(nil)

// NewStore wraps delegate.
func NewStore(delegate blobstore.Store, keys KeySource, m *metric.Registry) *Store {
	return &Store{delegate: delegate, keys: keys, metrics: m}
}

// Container returns an encrypting view of the delegate container at path.
func (s *Store) Container(path string) blobstore.Container {
	return NewContainer(s.delegate.Container(path), s.keys, s.metrics)
}

// Close closes the delegate.
func (s *Store) Close() error { return s.delegate.Close() }
