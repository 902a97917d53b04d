package kek

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/keywrap"
)

// MinRSABits is the smallest accepted cluster key size.
const MinRSABits = 2048

var oaepLabel = []byte("cloudlock cluster key")

// ParsePublicKey decodes a base64 X.509 SubjectPublicKeyInfo or a PEM "PUBLIC KEY" block.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := decodeKey(s, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("public cluster key is not X.509").WithCause(err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, domain.ErrInvalidArgument.WithDetails("public cluster key is not RSA")
	}
	if rsaPub.N.BitLen() < MinRSABits {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("public cluster key must have at least %d bits", MinRSABits))
	}
	return rsaPub, nil
}

// ParsePrivateKey decodes a base64 PKCS#8 DER key or a PEM "PRIVATE KEY" block.
func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	der, err := decodeKey(s, "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("private cluster key is not PKCS#8").WithCause(err)
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, domain.ErrInvalidArgument.WithDetails("private cluster key is not RSA")
	}
	return rsaPriv, nil
}

func decodeKey(s, pemType string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("empty key")
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil || block.Type != pemType {
			return nil, domain.ErrInvalidArgument.WithDetails("expected PEM block " + pemType)
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("key is not base64").WithCause(err)
	}
	return der, nil
}

// IsKeyPair reports whether priv is the private half of pub.
func IsKeyPair(pub *rsa.PublicKey, priv *rsa.PrivateKey) bool {
	if pub == nil || priv == nil {
		return false
	}
	return pub.Equal(&priv.PublicKey)
}

// GenerateKeyPair creates a cluster key pair and returns it as base64
// X.509 public and PKCS#8 private DER.
func GenerateKeyPair(bits int) (public, private string, err error) {
	if bits < MinRSABits {
		return "", "", fmt.Errorf("kek: key size must be at least %d bits", MinRSABits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("kek: generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("kek: marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("kek: marshal private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pubDER), base64.StdEncoding.EncodeToString(privDER), nil
}

// Mint creates a hierarchy with a fresh master key RSA-wrapped under pub.
// The returned bytes are what the bootstrap file stores.
func Mint(pub *rsa.PublicKey, opts ...Option) (*Hierarchy, error) {
	if pub == nil {
		return nil, domain.ErrPublicKeyMissing
	}
	master := make([]byte, keywrap.KeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("kek: generate master key: %w", err)
	}
	defer clear(master)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, master, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("kek: rsa wrap master key: %w", err)
	}
	return New(master, wrapped, opts...)
}

// FromBootstrap recovers a hierarchy from RSA-wrapped bootstrap bytes.
func FromBootstrap(priv *rsa.PrivateKey, rsaWrapped []byte, opts ...Option) (*Hierarchy, error) {
	if priv == nil {
		return nil, errors.New("kek: private key is required")
	}
	master, err := rsa.DecryptOAEP(sha256.New(), nil, priv, rsaWrapped, oaepLabel)
	if err != nil {
		return nil, domain.ErrAuthentication.WithDetails("bootstrap key does not open with this private key").WithCause(err)
	}
	defer clear(master)
	return New(master, rsaWrapped, opts...)
}
