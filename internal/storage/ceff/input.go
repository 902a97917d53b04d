package ceff

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// Input reads one file of a Directory. It caches the most recently
// decrypted chunk, so an Input must not be shared between goroutines that
// seek independently; open one Input per reader.
type Input struct {
	name   string
	file   ReadableFile
	dir    *Directory
	raw    bool
	stored int64
	length int64

	header      []byte
	cipher      adaptive.Cipher
	chunkLength int64
	chunks      int64

	mu      sync.Mutex
	pos     int64
	cached  int64
	chunk   []byte
	scratch []byte
	nonce   []byte
	closed  bool
}

func newRawInput(d *Directory, name string, file ReadableFile, stored int64) *Input {
	return &Input{name: name, file: file, dir: d, raw: true, stored: stored, length: stored, cached: -1}
}

// newEncryptedInput is called with d.mu held.
func newEncryptedInput(d *Directory, name string, file ReadableFile, stored int64, hdr []byte) (*Input, error) {
	h, err := parseHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("ceff: %s: %w", name, err)
	}
	c, err := fileCipher(d.key, h)
	if err != nil {
		return nil, err
	}
	chunkLength := int64(h.chunkLength)
	length, err := PlaintextLength(stored, chunkLength)
	if err != nil {
		return nil, fmt.Errorf("ceff: %s: %w", name, err)
	}
	return &Input{
		name:        name,
		file:        file,
		dir:         d,
		stored:      stored,
		length:      length,
		header:      hdr,
		cipher:      c,
		chunkLength: chunkLength,
		chunks:      chunkCount(length, chunkLength),
		cached:      -1,
		nonce:       make([]byte, nonceLength),
	}, nil
}

// Name returns the file name.
func (in *Input) Name() string { return in.name }

// Length returns the plaintext length of the file.
func (in *Input) Length() int64 { return in.length }

// Encrypted reports whether the file is stored in the encrypted format.
func (in *Input) Encrypted() bool { return !in.raw }

// Read reads from the current position.
func (in *Input) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	n, err := in.readAt(p, in.pos)
	in.pos += int64(n)
	return n, err
}

// ReadAt reads len(p) plaintext bytes starting at off.
func (in *Input) ReadAt(p []byte, off int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.readAt(p, off)
}

// Seek sets the position for the next Read.
func (in *Input) Seek(offset int64, whence int) (int64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0, ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = in.pos + offset
	case io.SeekEnd:
		abs = in.length + offset
	default:
		return 0, fmt.Errorf("ceff: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("ceff: negative position %d", abs)
	}
	in.pos = abs
	return abs, nil
}

// Close releases the file and drops the cached plaintext.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	clear(in.chunk)
	in.chunk = nil
	in.cached = -1
	return in.file.Close()
}

func (in *Input) readAt(p []byte, off int64) (int, error) {
	if in.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("ceff: negative offset %d", off)
	}
	if off >= in.length {
		return 0, io.EOF
	}
	if in.raw {
		return in.file.ReadAt(p, off)
	}

	n := 0
	for n < len(p) && off < in.length {
		idx := off / in.chunkLength
		if err := in.load(idx); err != nil {
			return n, err
		}
		c := copy(p[n:], in.chunk[off-idx*in.chunkLength:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (in *Input) load(idx int64) error {
	if in.cached == idx {
		return nil
	}
	start := HeaderLength + idx*(in.chunkLength+Overhead)
	size := min(in.chunkLength+Overhead, in.stored-start)
	if cap(in.scratch) < int(size) {
		in.scratch = make([]byte, in.chunkLength+Overhead)
	}
	buf := in.scratch[:size]
	if _, err := in.file.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ceff: read %s chunk %d: %w", in.name, idx, err)
	}

	in.nonce = chunkNonce(in.nonce, idx, idx == in.chunks-1)
	plain, err := in.cipher.OpenAt(in.chunk[:0], in.nonce, buf, in.header)
	if err != nil {
		in.cached = -1
		in.dir.metrics.AuthFailure(metric.ComponentFile)
		return domain.ErrAuthentication.
			WithDetails(fmt.Sprintf("%s chunk %d", in.name, idx)).
			WithCause(err)
	}
	in.chunk = plain
	in.cached = idx
	return nil
}
