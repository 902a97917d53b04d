// Package envelope defines the typed carriers of key material: the key mode
// tag, the wrapped on-disk form and the opened in-memory form.
package envelope

import (
	"fmt"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// KeyMode selects how a key is consumed. The value is the tag byte that
// prefixes every wrapped key.
type KeyMode byte

const (
	// ModeRawSymmetric is a bare 32 byte secret.
	ModeRawSymmetric KeyMode = 0xF4

	// ModeOneShotAead is a key for single AEAD calls on small payloads.
	ModeOneShotAead KeyMode = 0xF2

	// ModeSegmentedAead is the seed of a streaming, segment-chunked AEAD.
	ModeSegmentedAead KeyMode = 0xE5
)

// ParseMode validates a tag byte. Every unwrap path goes through it first.
func ParseMode(tag byte) (KeyMode, error) {
	switch m := KeyMode(tag); m {
	case ModeRawSymmetric, ModeOneShotAead, ModeSegmentedAead:
		return m, nil
	default:
		return 0, domain.ErrUnsupportedMode.WithDetails(fmt.Sprintf("tag 0x%02x", tag))
	}
}

// String returns the mode name.
func (m KeyMode) String() string {
	switch m {
	case ModeRawSymmetric:
		return "raw_symmetric"
	case ModeOneShotAead:
		return "one_shot_aead"
	case ModeSegmentedAead:
		return "segmented_aead"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m KeyMode) Valid() bool {
	_, err := ParseMode(byte(m))
	return err == nil
}
