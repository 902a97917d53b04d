// Package keywrap wraps and unwraps key material under one master key.
//
// The engine is a thin layer over the go-kms-wrapping AEAD wrapper:
// AES-256-GCM with a random 96 bit IV prepended to the ciphertext and no
// associated data.
package keywrap

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/wrappers/aead/v2"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

const (
	// KeySize is the master key length.
	KeySize = 32

	ivSize  = 12
	tagSize = 16

	// Overhead is the number of bytes Wrap adds to its input.
	Overhead = ivSize + tagSize
)

// ErrInvalidKey is returned for master keys of the wrong length.
var ErrInvalidKey = errors.New("keywrap: master key must be 32 bytes")

// Engine wraps and unwraps payloads under a single master key.
// It is safe for concurrent use.
type Engine struct {
	w *aead.Wrapper
}

// New creates an engine from cleartext master key bytes.
func New(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	w := aead.NewWrapper()
	buf := make([]byte, KeySize)
	copy(buf, key)
	if err := w.SetAesGcmKeyBytes(buf); err != nil {
		return nil, fmt.Errorf("keywrap: %w", err)
	}
	return &Engine{w: w}, nil
}

// NewFromAEAD creates an engine around an already opened AEAD handle.
// The handle must use a 12 byte nonce.
func NewFromAEAD(c cipher.AEAD) (*Engine, error) {
	if c == nil || c.NonceSize() != ivSize {
		return nil, errors.New("keywrap: AEAD handle must use a 12 byte nonce")
	}
	w := aead.NewWrapper()
	w.SetAead(c)
	return &Engine{w: w}, nil
}

// Wrap encrypts plaintext.
func (e *Engine) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	if plaintext == nil {
		plaintext = []byte{}
	}
	blob, err := e.w.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("keywrap: wrap: %w", err)
	}
	return blob.Ciphertext, nil
}

// Unwrap decrypts ciphertext produced by Wrap under the same key.
// Any failure to authenticate is reported as domain.ErrAuthentication.
func (e *Engine) Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, domain.ErrAuthentication.WithDetails("wrapped payload too short")
	}
	pt, err := e.w.Decrypt(ctx, &wrapping.BlobInfo{Ciphertext: ciphertext})
	if err != nil {
		return nil, domain.ErrAuthentication.WithCause(err)
	}
	return pt, nil
}

// KeyBytes returns the master key bytes. Engines built from an AEAD handle
// have none and return an error. Only the transport sealer reads them.
func (e *Engine) KeyBytes(ctx context.Context) ([]byte, error) {
	b, err := e.w.KeyBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("keywrap: key bytes: %w", err)
	}
	return b, nil
}
