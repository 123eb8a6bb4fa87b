package cryptoops

import (
	"encoding/json"
	"fmt"

	"github.com/gosuda/sealchat/wire"
)

// SealEnvelope encrypts an inner envelope and wraps the ciphertext in
// an outer encrypted_payload envelope ready for the wire.
func (c *SecureChannel) SealEnvelope(inner *wire.Envelope) (*wire.Envelope, error) {
	plaintext, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("marshal inner envelope: %w", err)
	}
	blob, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return wire.NewEnvelope(wire.TypeEncryptedPayload, blob)
}

// OpenEnvelope decrypts an outer envelope back into its inner envelope.
// The outer type tag is not consulted: any frame whose payload is a
// base64 string sealed under this channel's key opens, everything else
// fails with ErrDecryption. Inner bytes that decrypt but do not parse
// as an envelope fail with wire.ErrMalformed.
func (c *SecureChannel) OpenEnvelope(outer *wire.Envelope) (*wire.Envelope, error) {
	var blob string
	if err := json.Unmarshal(outer.Payload, &blob); err != nil {
		return nil, ErrDecryption
	}
	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var inner wire.Envelope
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}
	return &inner, nil
}
