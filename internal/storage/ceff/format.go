// Package ceff implements the chunked encrypted file format that protects
// the files of a shard directory at rest.
//
// An encrypted file is a fixed header followed by independently sealed
// chunks:
//
//	+-------+---------+--------+----------+-----------+----------+
//	| magic | version | cipher | reserved | chunk len | salt     |
//	| 4     | 1       | 1      | 2        | 4 (BE)    | 16       |
//	+-------+---------+--------+----------+-----------+----------+
//	| chunk 0 ciphertext + tag | chunk 1 ... | last chunk + tag  |
//
// Each file derives its own chunk key from the directory key and the salt
// with HKDF-SHA256. The nonce of chunk i is its big-endian index followed by
// a flag byte that marks the final chunk, so chunks cannot be reordered or
// the file truncated at a chunk boundary without detection. The header is
// the associated data of every chunk.
package ceff

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

const (
	// HeaderLength is the size of the file header.
	HeaderLength = 28

	// Overhead is the per-chunk authentication overhead.
	Overhead = 16

	// DefaultChunkLength is the default plaintext chunk size.
	DefaultChunkLength = 16 * 1024

	// MinChunkLength and MaxChunkLength bound the configurable chunk size.
	MinChunkLength = 512
	MaxChunkLength = 4 << 20

	formatVersion = 1
	saltLength    = 16
	nonceLength   = 12
)

// Magic identifies an encrypted file.
var Magic = [4]byte{'C', 'E', 'F', 'F'}

var chunkKeyInfo = []byte("cloudlock ceff chunk key v1")

var (
	// ErrNotEncrypted is returned in strict mode for a file without the magic header.
	ErrNotEncrypted = errors.New("ceff: file is not encrypted")

	// ErrInvalidLength is returned when a stored length cannot belong to an encrypted file.
	ErrInvalidLength = errors.New("ceff: invalid encrypted file length")

	// ErrClosed is returned by operations on a closed directory or file.
	ErrClosed = errors.New("ceff: closed")
)

// CiphertextLength returns the payload size of p plaintext bytes in chunks of c:
// every full chunk costs c+Overhead and a trailing partial chunk costs (p mod c)+Overhead.
func CiphertextLength(p, c int64) int64 {
	if p <= 0 {
		return 0
	}
	n := (p / c) * (c + Overhead)
	if rem := p % c; rem > 0 {
		n += rem + Overhead
	}
	return n
}

// EncryptedFileLength returns the stored size of an encrypted file.
func EncryptedFileLength(p, c int64) int64 {
	return HeaderLength + CiphertextLength(p, c)
}

// PlaintextLength inverts EncryptedFileLength.
func PlaintextLength(stored, c int64) (int64, error) {
	n := stored - HeaderLength
	if n < 0 {
		return 0, ErrInvalidLength
	}
	full := n / (c + Overhead)
	rem := n % (c + Overhead)
	if rem == 0 {
		return full * c, nil
	}
	if rem <= Overhead {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLength, stored)
	}
	return full*c + rem - Overhead, nil
}

// chunkCount returns how many chunks hold p plaintext bytes.
func chunkCount(p, c int64) int64 {
	return (p + c - 1) / c
}

type header struct {
	family      adaptive.Family
	chunkLength uint32
	salt        [saltLength]byte
}

func newHeader(family adaptive.Family, chunkLength int) (header, error) {
	h := header{family: family, chunkLength: uint32(chunkLength)}
	if _, err := io.ReadFull(rand.Reader, h.salt[:]); err != nil {
		return header{}, fmt.Errorf("ceff: generate salt: %w", err)
	}
	return h, nil
}

func (h header) marshal() []byte {
	b := make([]byte, HeaderLength)
	copy(b[0:4], Magic[:])
	b[4] = formatVersion
	b[5] = byte(h.family)
	binary.BigEndian.PutUint32(b[8:12], h.chunkLength)
	copy(b[12:], h.salt[:])
	return b
}

func hasMagic(b []byte) bool {
	return len(b) >= len(Magic) && [4]byte(b[:4]) == Magic
}

func parseHeader(b []byte) (header, error) {
	if len(b) < HeaderLength || !hasMagic(b) {
		return header{}, ErrNotEncrypted
	}
	if b[4] != formatVersion {
		return header{}, domain.ErrUnsupportedMode.WithDetails(fmt.Sprintf("ceff version %d", b[4]))
	}
	family := adaptive.Family(b[5])
	if _, err := family.Type(); err != nil {
		return header{}, domain.ErrUnsupportedMode.WithCause(err)
	}
	chunk := binary.BigEndian.Uint32(b[8:12])
	if chunk < MinChunkLength || chunk > MaxChunkLength {
		return header{}, fmt.Errorf("ceff: header chunk length %d out of range", chunk)
	}
	h := header{family: family, chunkLength: chunk}
	copy(h.salt[:], b[12:HeaderLength])
	return h, nil
}

// fileCipher derives the per-file chunk cipher.
func fileCipher(dirKey []byte, h header) (adaptive.Cipher, error) {
	key := make([]byte, adaptive.KeySize)
	defer clear(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, dirKey, h.salt[:], chunkKeyInfo), key); err != nil {
		return nil, fmt.Errorf("ceff: derive chunk key: %w", err)
	}
	return adaptive.NewWithFamily(key, h.family)
}

func chunkNonce(dst []byte, index int64, last bool) []byte {
	dst = dst[:nonceLength]
	clear(dst)
	binary.BigEndian.PutUint64(dst[0:8], uint64(index))
	if last {
		dst[nonceLength-1] = 1
	}
	return dst
}
