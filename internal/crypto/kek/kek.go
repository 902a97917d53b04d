// Package kek implements the master key hierarchy: one long-lived master
// key that wraps every per-purpose data key the cluster mints.
//
// The master key exists only in three forms: opened inside a Hierarchy,
// sealed for node-to-node transport (see TransportSealer) and RSA-wrapped
// in the bootstrap file (see Mint and FromBootstrap).
package kek

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/internal/crypto/keywrap"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// Hierarchy mints and opens data keys under the master key.
// It is immutable after construction and safe for concurrent use.
type Hierarchy struct {
	engine        *keywrap.Engine
	rsaWrapped    []byte
	defaultFamily adaptive.Family
	id            string
}

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithDefaultCipher sets the cipher family used by MintKey when none is given.
func WithDefaultCipher(t adaptive.CipherType) Option {
	return func(h *Hierarchy) {
		if f, err := t.Family(); err == nil {
			h.defaultFamily = f
		}
	}
}

// New builds a hierarchy from cleartext master key bytes and their RSA-wrapped form.
func New(masterKey, rsaWrapped []byte, opts ...Option) (*Hierarchy, error) {
	engine, err := keywrap.New(masterKey)
	if err != nil {
		return nil, err
	}
	if len(rsaWrapped) == 0 {
		return nil, fmt.Errorf("kek: rsa wrapped bootstrap bytes are required")
	}

	sum := sha256.Sum256(rsaWrapped)
	h := &Hierarchy{
		engine:        engine,
		rsaWrapped:    append([]byte(nil), rsaWrapped...),
		defaultFamily: adaptive.FamilyAESGCM,
		id:            hex.EncodeToString(sum[:8]),
	}
	if f, err := adaptive.Preferred().Family(); err == nil {
		h.defaultFamily = f
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ID returns a short fingerprint of the RSA-wrapped bootstrap bytes.
// Two nodes holding the same hierarchy report the same ID.
func (h *Hierarchy) ID() string { return h.id }

// RSAWrapped returns a copy of the RSA-wrapped master key.
func (h *Hierarchy) RSAWrapped() []byte {
	return append([]byte(nil), h.rsaWrapped...)
}

// MintOption configures a single MintKey call.
type MintOption func(*mintOptions)

type mintOptions struct {
	family adaptive.Family
}

// WithCipher selects the cipher family of an AEAD-mode key.
func WithCipher(t adaptive.CipherType) MintOption {
	return func(o *mintOptions) {
		if f, err := t.Family(); err == nil {
			o.family = f
		}
	}
}

// MintKey generates a fresh key of the given mode and wraps it under the master key.
func (h *Hierarchy) MintKey(ctx context.Context, mode envelope.KeyMode, opts ...MintOption) (*envelope.OpenedKey, error) {
	if !mode.Valid() {
		return nil, domain.ErrUnsupportedMode.WithDetails(mode.String())
	}
	o := mintOptions{family: h.defaultFamily}
	for _, opt := range opts {
		opt(&o)
	}

	secret, err := envelope.NewSecret()
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	material, err := envelope.MarshalMaterial(mode, o.family, secret)
	if err != nil {
		return nil, err
	}

	ct, err := h.engine.Wrap(ctx, material)
	if err != nil {
		clear(material)
		return nil, fmt.Errorf("kek: mint %s: %w", mode, err)
	}
	return envelope.Open(envelope.WrappedKey{Mode: mode, Ciphertext: ct}, material)
}

// OpenKey unwraps a key minted by this hierarchy.
func (h *Hierarchy) OpenKey(ctx context.Context, wk envelope.WrappedKey) (*envelope.OpenedKey, error) {
	if _, err := envelope.ParseMode(byte(wk.Mode)); err != nil {
		return nil, err
	}
	material, err := h.engine.Unwrap(ctx, wk.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kek: open %s key: %w", wk.Mode, err)
	}
	return envelope.Open(wk, material)
}

// OpenKeyBytes parses the wire form of a wrapped key and opens it.
func (h *Hierarchy) OpenKeyBytes(ctx context.Context, b []byte) (*envelope.OpenedKey, error) {
	wk, err := envelope.ParseWrappedKey(b)
	if err != nil {
		return nil, err
	}
	return h.OpenKey(ctx, wk)
}

// masterKey exposes the master key bytes to the transport sealer.
func (h *Hierarchy) masterKey(ctx context.Context) ([]byte, error) {
	return h.engine.KeyBytes(ctx)
}
