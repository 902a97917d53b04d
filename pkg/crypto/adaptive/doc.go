// Package adaptive provides the AEAD primitives used by cloudlock.
//
// Two cipher families are supported and both take 256-bit keys:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for systems without AES-NI
//
// A Cipher can be used in two ways. Encrypt and Decrypt generate a random
// nonce and prepend it to the ciphertext, which suits small one-shot
// payloads such as log fields. SealAt and OpenAt take a caller supplied
// nonce for formats that derive nonces from a chunk or segment counter.
//
// Each family has a one byte identifier (Family) that key material and
// file headers carry so the reader can reconstruct the right primitive.
//
// Usage:
//
//	c, err := adaptive.NewWithType(key, adaptive.CipherChaCha20)
//	encrypted, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(encrypted, aad)
package adaptive
