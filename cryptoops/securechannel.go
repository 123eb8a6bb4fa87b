// Package cryptoops implements the sealchat connection security
// primitives: the RSA-OAEP key exchange that seeds each connection, the
// AES-256-GCM secure channel the exchange produces, and the
// deterministic account identity derivation.
package cryptoops

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrDecryption      = errors.New("decryption failed")
	ErrInvalidKeySize  = errors.New("invalid key size")
)

const (
	// KeySize is the symmetric key length; AES-256.
	KeySize = 32

	gcmNonceSize = 12 // standard GCM nonce
	gcmTagSize   = 16 // GCM authentication tag
)

// SecureChannel provides authenticated encryption for one connection.
// Each ciphertext is nonce(12B) || GCM ciphertext+tag, base64 encoded
// for transport inside an encrypted_payload envelope. Nonces are drawn
// fresh from crypto/rand per message; no counter state is kept, so a
// channel may be shared by concurrent encryptors without coordination.
//
// Decrypt reports every failure as ErrDecryption. The caller learns
// nothing about whether the key, the tag, the encoding, or the
// plaintext encoding was at fault.
type SecureChannel struct {
	aead cipher.AEAD
}

// NewSecureChannel builds a channel over a 32-byte AES-256 key.
func NewSecureChannel(key []byte) (*SecureChannel, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecureChannel{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce || ciphertext+tag).
func (c *SecureChannel) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, gcmNonceSize, gcmNonceSize+len(plaintext)+gcmTagSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The plaintext must be valid UTF-8 because
// every inner envelope is JSON text; binary output means the blob was
// not produced by a well-behaved peer.
func (c *SecureChannel) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return nil, ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	if !utf8.Valid(plaintext) {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
