// Package blobcrypt encrypts snapshot blobs with a segmented streaming AEAD
// and wraps any blob store so everything written through it is encrypted.
//
// A stream starts with a header (one length byte, a 32 byte salt and a 7
// byte nonce prefix) followed by 4096 byte ciphertext segments, the first
// shortened by the header. Segment nonces are the prefix, the big-endian
// segment number and a flag marking the final segment.
package blobcrypt

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

const (
	// SegmentSize is the ciphertext size of a full segment.
	SegmentSize = 4096

	// TagSize is the authentication tag appended to each segment.
	TagSize = 16

	// HeaderSize is the stream header: length byte, salt and nonce prefix.
	HeaderSize = 1 + saltSize + prefixSize

	saltSize           = 32
	prefixSize         = 7
	nonceSize          = prefixSize + 4 + 1
	plaintextSegment   = SegmentSize - TagSize
	firstPlaintextSize = plaintextSegment - HeaderSize
)

var (
	// ErrTruncated is returned when a stream ends before its final segment.
	ErrTruncated = errors.New("blobcrypt: stream truncated")

	// ErrBadHeader is returned for a stream header of the wrong size.
	ErrBadHeader = errors.New("blobcrypt: invalid stream header")
)

// ExpectedCiphertextSize returns the stream size for p plaintext bytes.
func ExpectedCiphertextSize(p int64) int64 {
	offset := int64(HeaderSize)
	full := (p + offset) / plaintextSegment
	size := full * SegmentSize
	if rem := (p + offset) % plaintextSegment; rem > 0 {
		size += rem + TagSize
	}
	return size
}

func segmentCipher(key *envelope.OpenedKey, salt []byte) (adaptive.Cipher, error) {
	if key.Mode() != envelope.ModeSegmentedAead {
		return nil, domain.ErrUnsupportedMode.WithDetails("blob key mode " + key.Mode().String())
	}
	seed, err := key.Raw()
	if err != nil {
		return nil, err
	}
	sk := make([]byte, adaptive.KeySize)
	defer clear(sk)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, salt, nil), sk); err != nil {
		return nil, fmt.Errorf("blobcrypt: derive segment key: %w", err)
	}
	return adaptive.NewWithFamily(sk, key.CipherFamily())
}

func segmentNonce(dst, prefix []byte, segment uint32, last bool) []byte {
	copy(dst, prefix)
	binary.BigEndian.PutUint32(dst[prefixSize:], segment)
	dst[nonceSize-1] = 0
	if last {
		dst[nonceSize-1] = 1
	}
	return dst
}

// Writer encrypts a plaintext stream. The final segment is sealed by Close.
type Writer struct {
	w       io.Writer
	cipher  adaptive.Cipher
	prefix  []byte
	nonce   []byte
	buf     []byte
	out     []byte
	segment uint32
	closed  bool
}

// NewWriter writes the stream header to w and returns a Writer sealing
// segments under key, which must be a SegmentedAead key.
func NewWriter(w io.Writer, key *envelope.OpenedKey) (*Writer, error) {
	hdr := make([]byte, HeaderSize)
	hdr[0] = HeaderSize
	if _, err := io.ReadFull(rand.Reader, hdr[1:]); err != nil {
		return nil, fmt.Errorf("blobcrypt: generate salt: %w", err)
	}
	c, err := segmentCipher(key, hdr[1:1+saltSize])
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(hdr); err != nil {
		return nil, err
	}
	return &Writer{
		w:      w,
		cipher: c,
		prefix: hdr[1+saltSize:],
		nonce:  make([]byte, nonceSize),
		buf:    make([]byte, 0, plaintextSegment),
		out:    make([]byte, 0, SegmentSize),
	}, nil
}

func (w *Writer) limit() int {
	if w.segment == 0 {
		return firstPlaintextSize
	}
	return plaintextSegment
}

// Write buffers p and seals every segment known not to be the last.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("blobcrypt: write after close")
	}
	n := 0
	for len(p) > 0 {
		if len(w.buf) == w.limit() {
			if err := w.seal(false); err != nil {
				return n, err
			}
		}
		c := copy(w.buf[len(w.buf):w.limit()], p)
		w.buf = w.buf[:len(w.buf)+c]
		p = p[c:]
		n += c
	}
	return n, nil
}

// Close seals the final segment. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.seal(true)
	clear(w.buf)
	return err
}

func (w *Writer) seal(last bool) error {
	segmentNonce(w.nonce, w.prefix, w.segment, last)
	var err error
	w.out, err = w.cipher.SealAt(w.out[:0], w.nonce, w.buf, nil)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(w.out); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.segment++
	return nil
}

// Reader decrypts a stream produced by Writer.
type Reader struct {
	r       *bufio.Reader
	cipher  adaptive.Cipher
	prefix  []byte
	nonce   []byte
	in      []byte
	out     []byte
	plain   []byte
	segment uint32
	done    bool
	err     error
}

// NewReader reads the stream header from r.
func NewReader(r io.Reader, key *envelope.OpenedKey) (*Reader, error) {
	br := bufio.NewReaderSize(r, 2*SegmentSize)
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if hdr[0] != HeaderSize {
		return nil, fmt.Errorf("%w: length byte %d", ErrBadHeader, hdr[0])
	}
	c, err := segmentCipher(key, hdr[1:1+saltSize])
	if err != nil {
		return nil, err
	}
	return &Reader{
		r:      br,
		cipher: c,
		prefix: hdr[1+saltSize:],
		nonce:  make([]byte, nonceSize),
		in:     make([]byte, SegmentSize),
		out:    make([]byte, 0, plaintextSegment),
	}, nil
}

// Read returns decrypted plaintext. Every byte returned has been authenticated.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		r.err = r.next()
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *Reader) next() error {
	size := SegmentSize
	if r.segment == 0 {
		size = SegmentSize - HeaderSize
	}
	n, err := io.ReadFull(r.r, r.in[:size])
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		r.done = true
	case err != nil:
		return err
	default:
		if _, perr := r.r.Peek(1); errors.Is(perr, io.EOF) {
			r.done = true
		} else if perr != nil {
			return perr
		}
	}
	if n < TagSize {
		return ErrTruncated
	}

	segmentNonce(r.nonce, r.prefix, r.segment, r.done)
	var oerr error
	r.out, oerr = r.cipher.OpenAt(r.out[:0], r.nonce, r.in[:n], nil)
	if oerr != nil {
		return domain.ErrAuthentication.WithDetails(fmt.Sprintf("blob segment %d", r.segment)).WithCause(oerr)
	}
	r.plain = r.out
	r.segment++
	return nil
}
