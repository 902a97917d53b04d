package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// SecretSize is the length of every generated key secret.
const SecretSize = 32

var (
	// ErrWrongForm is returned when a key is asked for a representation its mode does not carry.
	ErrWrongForm = errors.New("envelope: key mode does not carry this form")

	// ErrDestroyed is returned by accessors after Destroy.
	ErrDestroyed = errors.New("envelope: key destroyed")
)

// OpenedKey holds a key in both its wrapped and its usable plaintext form.
// Exactly one plaintext form is populated: raw bytes for RawSymmetric and
// SegmentedAead, an AEAD handle for OneShotAead.
//
// An OpenedKey is never persisted or sent as is. Only Wrapped() leaves the process.
type OpenedKey struct {
	mode    KeyMode
	wrapped WrappedKey
	family  adaptive.Family
	raw     []byte
	aead    adaptive.Cipher
}

// NewSecret generates a fresh SecretSize byte secret from crypto/rand.
func NewSecret() ([]byte, error) {
	b := make([]byte, SecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("envelope: generate secret: %w", err)
	}
	return b, nil
}

// MarshalMaterial serializes the plaintext key material of the given mode.
// RawSymmetric material is the secret itself; AEAD modes prefix the cipher family.
func MarshalMaterial(mode KeyMode, family adaptive.Family, secret []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("envelope: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	switch mode {
	case ModeRawSymmetric:
		out := make([]byte, SecretSize)
		copy(out, secret)
		return out, nil
	case ModeOneShotAead, ModeSegmentedAead:
		if _, err := family.Type(); err != nil {
			return nil, err
		}
		out := make([]byte, 0, 1+SecretSize)
		out = append(out, byte(family))
		return append(out, secret...), nil
	default:
		return nil, domain.ErrUnsupportedMode.WithDetails(mode.String())
	}
}

// Open reconstructs the typed plaintext form from unwrapped material.
// The material slice is owned by the returned key afterwards.
func Open(wrapped WrappedKey, material []byte) (*OpenedKey, error) {
	k := &OpenedKey{mode: wrapped.Mode, wrapped: wrapped}

	switch wrapped.Mode {
	case ModeRawSymmetric:
		if len(material) != SecretSize {
			return nil, fmt.Errorf("envelope: raw key material has %d bytes", len(material))
		}
		k.raw = material
		return k, nil

	case ModeOneShotAead, ModeSegmentedAead:
		if len(material) != 1+SecretSize {
			return nil, fmt.Errorf("envelope: %s key material has %d bytes", wrapped.Mode, len(material))
		}
		k.family = adaptive.Family(material[0])
		secret := material[1:]
		if wrapped.Mode == ModeSegmentedAead {
			if _, err := k.family.Type(); err != nil {
				return nil, err
			}
			k.raw = secret
			return k, nil
		}
		c, err := adaptive.NewWithFamily(secret, k.family)
		if err != nil {
			return nil, err
		}
		k.aead = c
		clear(material)
		return k, nil

	default:
		return nil, domain.ErrUnsupportedMode.WithDetails(wrapped.Mode.String())
	}
}

// Mode returns the key mode.
func (k *OpenedKey) Mode() KeyMode { return k.mode }

// Wrapped returns the persistable wrapped form.
func (k *OpenedKey) Wrapped() WrappedKey { return k.wrapped }

// CipherFamily returns the cipher family of AEAD modes and zero for RawSymmetric.
func (k *OpenedKey) CipherFamily() adaptive.Family { return k.family }

// Raw returns the secret bytes of a RawSymmetric key or the seed of a SegmentedAead key.
// The slice is shared with the key and must not be modified.
func (k *OpenedKey) Raw() ([]byte, error) {
	if k.mode == ModeOneShotAead {
		return nil, ErrWrongForm
	}
	if k.raw == nil {
		return nil, ErrDestroyed
	}
	return k.raw, nil
}

// AEAD returns the primitive of a OneShotAead key.
func (k *OpenedKey) AEAD() (adaptive.Cipher, error) {
	if k.mode != ModeOneShotAead {
		return nil, ErrWrongForm
	}
	if k.aead == nil {
		return nil, ErrDestroyed
	}
	return k.aead, nil
}

// Destroy zeroes raw key bytes and drops the AEAD handle.
func (k *OpenedKey) Destroy() {
	clear(k.raw)
	k.raw = nil
	k.aead = nil
}
