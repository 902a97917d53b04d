package envelope

import (
	"encoding/base64"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// WrappedKey is key material encrypted under the hierarchy's master key.
// Its wire form is the mode tag byte followed by the ciphertext.
type WrappedKey struct {
	Mode       KeyMode
	Ciphertext []byte
}

// ParseWrappedKey decodes the wire form. The tag is checked before anything else.
func ParseWrappedKey(b []byte) (WrappedKey, error) {
	if len(b) == 0 {
		return WrappedKey{}, domain.ErrUnsupportedMode.WithDetails("empty wrapped key")
	}
	mode, err := ParseMode(b[0])
	if err != nil {
		return WrappedKey{}, err
	}
	if len(b) == 1 {
		return WrappedKey{}, domain.ErrAuthentication.WithDetails("wrapped key has no ciphertext")
	}
	ct := make([]byte, len(b)-1)
	copy(ct, b[1:])
	return WrappedKey{Mode: mode, Ciphertext: ct}, nil
}

// ParseWrappedKeyBase64 decodes the base64 text form.
func ParseWrappedKeyBase64(s string) (WrappedKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return WrappedKey{}, domain.ErrInvalidArgument.WithDetails("wrapped key is not base64").WithCause(err)
	}
	return ParseWrappedKey(b)
}

// Bytes returns the wire form.
func (w WrappedKey) Bytes() []byte {
	out := make([]byte, 0, 1+len(w.Ciphertext))
	out = append(out, byte(w.Mode))
	return append(out, w.Ciphertext...)
}

// Base64 returns the wire form as standard base64 text.
func (w WrappedKey) Base64() string {
	return base64.StdEncoding.EncodeToString(w.Bytes())
}

// Len returns the length of the wire form.
func (w WrappedKey) Len() int {
	return 1 + len(w.Ciphertext)
}
