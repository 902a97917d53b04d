package kek

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/wrappers/aead/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// MinTransportSecret is the minimum cluster secret length.
const MinTransportSecret = 16

var (
	transportInfo = []byte("cloudlock transport key v1")
	transportAad  = []byte("cloudlock hierarchy")
)

// Sealed is the transport form of a Hierarchy. The master key is AES-wrapped
// under a key derived from the cluster secret; the RSA-wrapped bytes travel as is.
type Sealed struct {
	WrappedMaster []byte `json:"wrapped_master"`
	RSAWrapped    []byte `json:"rsa_wrapped"`
}

// TransportSealer seals hierarchies for node-to-node distribution.
type TransportSealer struct {
	w    *aead.Wrapper
	opts []Option
}

// NewTransportSealer derives the transport key from the shared cluster secret.
// Options are applied to every hierarchy it opens.
func NewTransportSealer(secret []byte, opts ...Option) (*TransportSealer, error) {
	if len(secret) < MinTransportSecret {
		return nil, fmt.Errorf("kek: cluster secret must be at least %d bytes", MinTransportSecret)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, transportInfo), key); err != nil {
		return nil, fmt.Errorf("kek: derive transport key: %w", err)
	}
	w := aead.NewWrapper()
	if err := w.SetAesGcmKeyBytes(key); err != nil {
		return nil, fmt.Errorf("kek: transport key: %w", err)
	}
	return &TransportSealer{w: w, opts: opts}, nil
}

// Seal produces the transport form of h.
func (t *TransportSealer) Seal(ctx context.Context, h *Hierarchy) (*Sealed, error) {
	master, err := h.masterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("kek: hierarchy has no exportable master key: %w", err)
	}
	blob, err := t.w.Encrypt(ctx, master, wrapping.WithAad(transportAad))
	if err != nil {
		return nil, fmt.Errorf("kek: seal hierarchy: %w", err)
	}
	return &Sealed{WrappedMaster: blob.Ciphertext, RSAWrapped: h.RSAWrapped()}, nil
}

// Open reconstructs a Hierarchy from its transport form.
func (t *TransportSealer) Open(ctx context.Context, s *Sealed) (*Hierarchy, error) {
	if s == nil || len(s.WrappedMaster) < 28 || len(s.RSAWrapped) == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("incomplete sealed hierarchy")
	}
	master, err := t.w.Decrypt(ctx, &wrapping.BlobInfo{Ciphertext: s.WrappedMaster}, wrapping.WithAad(transportAad))
	if err != nil {
		return nil, domain.ErrAuthentication.WithDetails("sealed hierarchy").WithCause(err)
	}
	defer clear(master)
	return New(master, s.RSAWrapped, t.opts...)
}
