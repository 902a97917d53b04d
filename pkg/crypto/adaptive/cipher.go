package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
)

// KeySize is the key length accepted by every supported family.
const KeySize = 32

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Family is the on-disk identifier of a CipherType.
type Family byte

const (
	FamilyAESGCM   Family = 1
	FamilyChaCha20 Family = 2
)

var (
	// ErrUnknownCipher is returned for an unrecognized cipher type or family.
	ErrUnknownCipher = errors.New("adaptive: unknown cipher")

	// ErrInvalidKeySize is returned when the key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("adaptive: key must be 32 bytes")

	// ErrCiphertextTooShort is returned when a ciphertext cannot hold a nonce and tag.
	ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

	// ErrInvalidNonce is returned when an explicit nonce has the wrong length.
	ErrInvalidNonce = errors.New("adaptive: invalid nonce length")
)

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Family returns the one byte identifier of the cipher type.
	Family() Family

	// Encrypt encrypts plaintext under a random nonce which is prepended to the result.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt reverses Encrypt.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)

	// SealAt appends the encryption of plaintext under nonce to dst.
	SealAt(dst, nonce, plaintext, additionalData []byte) ([]byte, error)

	// OpenAt appends the decryption of ciphertext under nonce to dst.
	OpenAt(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)

	// AEAD exposes the underlying primitive.
	AEAD() cipher.AEAD

	// NonceSize returns the nonce size in bytes.
	NonceSize() int

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// New creates a cipher of the family preferred on this platform.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, Preferred())
}

// Preferred returns AES-GCM where the runtime has hardware AES and ChaCha20 otherwise.
func Preferred() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, cipherType)
	}
}

// NewWithFamily creates a cipher from its on-disk identifier.
func NewWithFamily(key []byte, family Family) (Cipher, error) {
	t, err := family.Type()
	if err != nil {
		return nil, err
	}
	return NewWithType(key, t)
}

// ParseCipherType validates a configured cipher name.
func ParseCipherType(s string) (CipherType, error) {
	switch t := CipherType(s); t {
	case CipherAESGCM, CipherChaCha20:
		return t, nil
	case "":
		return Preferred(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCipher, s)
	}
}

// Family returns the on-disk identifier of t.
func (t CipherType) Family() (Family, error) {
	switch t {
	case CipherAESGCM:
		return FamilyAESGCM, nil
	case CipherChaCha20:
		return FamilyChaCha20, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCipher, t)
	}
}

// Type returns the cipher type identified by f.
func (f Family) Type() (CipherType, error) {
	switch f {
	case FamilyAESGCM:
		return CipherAESGCM, nil
	case FamilyChaCha20:
		return CipherChaCha20, nil
	default:
		return "", fmt.Errorf("%w: family 0x%02x", ErrUnknownCipher, byte(f))
	}
}

// aeadCipher adapts a cipher.AEAD to the Cipher interface.
type aeadCipher struct {
	aead   cipher.AEAD
	kind   CipherType
	family Family
}

func (c *aeadCipher) Type() CipherType { return c.kind }

func (c *aeadCipher) Family() Family { return c.family }

func (c *aeadCipher) AEAD() cipher.AEAD { return c.aead }

func (c *aeadCipher) NonceSize() int { return c.aead.NonceSize() }

func (c *aeadCipher) Overhead() int { return c.aead.Overhead() }

func (c *aeadCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (c *aeadCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], additionalData)
}

func (c *aeadCipher) SealAt(dst, nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, ErrInvalidNonce
	}
	return c.aead.Seal(dst, nonce, plaintext, additionalData), nil
}

func (c *aeadCipher) OpenAt(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, ErrInvalidNonce
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(dst, nonce, ciphertext, additionalData)
}
