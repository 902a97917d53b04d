// Package keystore holds the active key hierarchy of a node.
//
// A Registry is created once per process and passed to every component
// that needs key material. Both of its values are set-once: the first
// successful set wins and is kept until the process exits.
package keystore

import (
	"crypto/rsa"
	"sync"
	"sync/atomic"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
)

// Registry is the set-once holder of the hierarchy and the public cluster key.
type Registry struct {
	hierarchy atomic.Pointer[kek.Hierarchy]
	publicKey atomic.Pointer[rsa.PublicKey]

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{ready: make(chan struct{})}
}

// TrySet stores h if no hierarchy is set yet and reports whether it did.
func (r *Registry) TrySet(h *kek.Hierarchy) bool {
	if h == nil {
		return false
	}
	if !r.hierarchy.CompareAndSwap(nil, h) {
		return false
	}
	r.readyOnce.Do(func() { close(r.ready) })
	return true
}

// SetOrGet stores h if no hierarchy is set yet. It returns the hierarchy in
// effect afterwards and whether h was the one stored.
func (r *Registry) SetOrGet(h *kek.Hierarchy) (*kek.Hierarchy, bool) {
	if r.TrySet(h) {
		return h, true
	}
	return r.hierarchy.Load(), false
}

// Hierarchy returns the active hierarchy or domain.ErrKeyNotReady.
func (r *Registry) Hierarchy() (*kek.Hierarchy, error) {
	if h := r.hierarchy.Load(); h != nil {
		return h, nil
	}
	return nil, domain.ErrKeyNotReady
}

// IsSet reports whether a hierarchy is established.
func (r *Registry) IsSet() bool {
	return r.hierarchy.Load() != nil
}

// Ready is closed once a hierarchy has been set.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// SetPublicKey stores the public cluster key once.
func (r *Registry) SetPublicKey(pub *rsa.PublicKey) bool {
	if pub == nil {
		return false
	}
	return r.publicKey.CompareAndSwap(nil, pub)
}

// PublicKey returns the configured public cluster key or domain.ErrPublicKeyMissing.
func (r *Registry) PublicKey() (*rsa.PublicKey, error) {
	if pub := r.publicKey.Load(); pub != nil {
		return pub, nil
	}
	return nil, domain.ErrPublicKeyMissing
}
