package keywrap

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

func key(seed byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = seed ^ byte(i*7)
	}
	return k
}

func TestNew_InvalidKey(t *testing.T) {
	for _, n := range []int{0, 16, 31, 64} {
		if _, err := New(make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("New(%d bytes) error = %v, want ErrInvalidKey", n, err)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	ctx := context.Background()
	e, err := New(key(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, p := range [][]byte{nil, {}, []byte("k"), bytes.Repeat([]byte{7}, 33)} {
		ct, err := e.Wrap(ctx, p)
		if err != nil {
			t.Fatalf("Wrap() error = %v", err)
		}
		if len(ct) != len(p)+Overhead {
			t.Errorf("Wrap() length = %d, want %d", len(ct), len(p)+Overhead)
		}
		pt, err := e.Unwrap(ctx, ct)
		if err != nil {
			t.Fatalf("Unwrap() error = %v", err)
		}
		if !bytes.Equal(pt, p) {
			t.Errorf("Unwrap() = %x, want %x", pt, p)
		}
	}
}

func TestUnwrap_Rejects(t *testing.T) {
	ctx := context.Background()
	a, _ := New(key(1))
	b, _ := New(key(2))

	ct, err := a.Wrap(ctx, []byte("secret material"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x80
		if _, err := a.Unwrap(ctx, tampered); !errors.Is(err, domain.ErrAuthentication) {
			t.Fatalf("Unwrap() with byte %d flipped error = %v, want ErrAuthentication", i, err)
		}
	}

	if _, err := b.Unwrap(ctx, ct); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("Unwrap() with wrong key error = %v, want ErrAuthentication", err)
	}
}

func TestUnwrap_ShortPayload(t *testing.T) {
	ctx := context.Background()
	e, _ := New(key(1))
	for _, n := range []int{0, 1, ivSize - 1, ivSize, ivSize + 1, Overhead - 1} {
		payload := make([]byte, n)
		if _, err := e.Unwrap(ctx, payload); !errors.Is(err, domain.ErrAuthentication) {
			t.Errorf("Unwrap() of %d bytes error = %v, want ErrAuthentication", n, err)
		}
	}
}

func TestNewFromAEAD(t *testing.T) {
	ctx := context.Background()
	block, _ := aes.NewCipher(key(3))
	gcm, _ := cipher.NewGCM(block)

	fromHandle, err := NewFromAEAD(gcm)
	if err != nil {
		t.Fatalf("NewFromAEAD() error = %v", err)
	}
	fromBytes, _ := New(key(3))

	ct, err := fromBytes.Wrap(ctx, []byte("interop"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	pt, err := fromHandle.Unwrap(ctx, ct)
	if err != nil || string(pt) != "interop" {
		t.Errorf("Unwrap() = %q, %v", pt, err)
	}
	if b, err := fromHandle.KeyBytes(ctx); err == nil || b != nil {
		t.Errorf("KeyBytes() of a handle-built engine = %x, %v, want an error", b, err)
	}
	if b, err := fromBytes.KeyBytes(ctx); err != nil || !bytes.Equal(b, key(3)) {
		t.Errorf("KeyBytes() = %x, %v, want the master key", b, err)
	}
}
