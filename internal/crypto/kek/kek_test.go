package kek

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

var (
	pairOnce          sync.Once
	testPub, otherPub string
	testPriv          string
)

func testKeys(t *testing.T) (pub, priv string, other string) {
	t.Helper()
	pairOnce.Do(func() {
		var err error
		testPub, testPriv, err = GenerateKeyPair(MinRSABits)
		if err != nil {
			panic(err)
		}
		otherPub, _, err = GenerateKeyPair(MinRSABits)
		if err != nil {
			panic(err)
		}
	})
	return testPub, testPriv, otherPub
}

func mustMint(t *testing.T) (*Hierarchy, *rsa.PrivateKey) {
	t.Helper()
	pubS, privS, _ := testKeys(t)
	pub, err := ParsePublicKey(pubS)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	priv, err := ParsePrivateKey(privS)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	h, err := Mint(pub)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	return h, priv
}

func TestMintKey_RoundTripAllModes(t *testing.T) {
	ctx := context.Background()
	h, _ := mustMint(t)

	modes := []envelope.KeyMode{envelope.ModeRawSymmetric, envelope.ModeOneShotAead, envelope.ModeSegmentedAead}
	families := []adaptive.CipherType{adaptive.CipherAESGCM, adaptive.CipherChaCha20}

	for _, mode := range modes {
		for _, ct := range families {
			t.Run(mode.String()+"/"+string(ct), func(t *testing.T) {
				minted, err := h.MintKey(ctx, mode, WithCipher(ct))
				if err != nil {
					t.Fatalf("MintKey() error = %v", err)
				}
				wire := minted.Wrapped().Bytes()
				if wire[0] != byte(mode) {
					t.Fatalf("tag byte = 0x%02x, want 0x%02x", wire[0], byte(mode))
				}

				opened, err := h.OpenKeyBytes(ctx, wire)
				if err != nil {
					t.Fatalf("OpenKeyBytes() error = %v", err)
				}
				if opened.Mode() != mode {
					t.Errorf("Mode() = %s, want %s", opened.Mode(), mode)
				}

				switch mode {
				case envelope.ModeOneShotAead:
					enc, _ := mustAEAD(t, minted).Encrypt([]byte("payload"), []byte("aad"))
					dec, err := mustAEAD(t, opened).Decrypt(enc, []byte("aad"))
					if err != nil || string(dec) != "payload" {
						t.Errorf("AEAD round trip = %q, %v", dec, err)
					}
					if mustAEAD(t, opened).Type() != ct {
						t.Errorf("cipher = %s, want %s", mustAEAD(t, opened).Type(), ct)
					}
				default:
					a, _ := minted.Raw()
					b, _ := opened.Raw()
					if len(a) != envelope.SecretSize || !bytes.Equal(a, b) {
						t.Errorf("raw material differs after reopen")
					}
				}
			})
		}
	}
}

func mustAEAD(t *testing.T, k *envelope.OpenedKey) adaptive.Cipher {
	t.Helper()
	c, err := k.AEAD()
	if err != nil {
		t.Fatalf("AEAD() error = %v", err)
	}
	return c
}

func TestOpenKey_WrongHierarchy(t *testing.T) {
	ctx := context.Background()
	a, _ := mustMint(t)
	b, _ := mustMint(t)

	k, err := a.MintKey(ctx, envelope.ModeRawSymmetric)
	if err != nil {
		t.Fatalf("MintKey() error = %v", err)
	}
	if _, err := b.OpenKey(ctx, k.Wrapped()); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("OpenKey() with other hierarchy error = %v, want ErrAuthentication", err)
	}
}

func TestOpenKey_UnsupportedTag(t *testing.T) {
	ctx := context.Background()
	h, _ := mustMint(t)

	k, _ := h.MintKey(ctx, envelope.ModeOneShotAead)
	wire := k.Wrapped().Bytes()
	wire[0] = 0x01
	if _, err := h.OpenKeyBytes(ctx, wire); !errors.Is(err, domain.ErrUnsupportedMode) {
		t.Errorf("OpenKeyBytes() error = %v, want ErrUnsupportedMode", err)
	}
	if _, err := h.MintKey(ctx, envelope.KeyMode(0x10)); !errors.Is(err, domain.ErrUnsupportedMode) {
		t.Errorf("MintKey(0x10) error = %v, want ErrUnsupportedMode", err)
	}
}

func TestBootstrap_RoundTrip(t *testing.T) {
	ctx := context.Background()
	h, priv := mustMint(t)

	k, _ := h.MintKey(ctx, envelope.ModeRawSymmetric)

	recovered, err := FromBootstrap(priv, h.RSAWrapped())
	if err != nil {
		t.Fatalf("FromBootstrap() error = %v", err)
	}
	if recovered.ID() != h.ID() {
		t.Errorf("ID() = %s, want %s", recovered.ID(), h.ID())
	}
	opened, err := recovered.OpenKey(ctx, k.Wrapped())
	if err != nil {
		t.Fatalf("OpenKey() after bootstrap error = %v", err)
	}
	a, _ := k.Raw()
	b, _ := opened.Raw()
	if !bytes.Equal(a, b) {
		t.Error("recovered hierarchy opened different key bytes")
	}
}

func TestFromBootstrap_WrongPrivateKey(t *testing.T) {
	h, _ := mustMint(t)
	_, otherPriv, err := GenerateKeyPair(MinRSABits)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	priv, _ := ParsePrivateKey(otherPriv)
	if _, err := FromBootstrap(priv, h.RSAWrapped()); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("FromBootstrap() error = %v, want ErrAuthentication", err)
	}
}

func TestIsKeyPair(t *testing.T) {
	pubS, privS, otherS := testKeys(t)
	pub, _ := ParsePublicKey(pubS)
	other, _ := ParsePublicKey(otherS)
	priv, _ := ParsePrivateKey(privS)

	if !IsKeyPair(pub, priv) {
		t.Error("IsKeyPair() = false for matching pair")
	}
	if IsKeyPair(other, priv) {
		t.Error("IsKeyPair() = true for foreign public key")
	}
	if IsKeyPair(nil, priv) {
		t.Error("IsKeyPair(nil) = true")
	}
}

func TestParseKeys_Invalid(t *testing.T) {
	_, privS, _ := testKeys(t)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"empty public", func() error { _, err := ParsePublicKey(""); return err }},
		{"public not base64", func() error { _, err := ParsePublicKey("%%%"); return err }},
		{"private as public", func() error { _, err := ParsePublicKey(privS); return err }},
		{"private garbage", func() error { _, err := ParsePrivateKey("AAAA"); return err }},
		{"wrong pem type", func() error {
			_, err := ParsePrivateKey("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----")
			return err
		}},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%s: error = %v, want ErrInvalidArgument", tt.name, err)
		}
	}
}

func TestTransportSealer(t *testing.T) {
	ctx := context.Background()
	h, _ := mustMint(t)

	sealer, err := NewTransportSealer([]byte("0123456789abcdef-cluster"))
	if err != nil {
		t.Fatalf("NewTransportSealer() error = %v", err)
	}
	sealed, err := sealer.Seal(ctx, h)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	master, err := h.masterKey(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(sealed.WrappedMaster, master) {
		t.Fatal("sealed form contains the master key in the clear")
	}

	opened, err := sealer.Open(ctx, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened.ID() != h.ID() {
		t.Errorf("ID() = %s, want %s", opened.ID(), h.ID())
	}

	k, _ := h.MintKey(ctx, envelope.ModeSegmentedAead)
	if _, err := opened.OpenKey(ctx, k.Wrapped()); err != nil {
		t.Errorf("transported hierarchy cannot open keys: %v", err)
	}

	other, _ := NewTransportSealer([]byte("another-cluster-secret"))
	if _, err := other.Open(ctx, sealed); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("Open() with other secret error = %v, want ErrAuthentication", err)
	}
	if _, err := NewTransportSealer([]byte("short")); err == nil {
		t.Error("NewTransportSealer() accepted a short secret")
	}
}
