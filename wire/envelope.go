// Package wire defines the sealchat framing and envelope catalogue shared
// by the server and the client: newline-delimited JSON envelopes, the
// plaintext handshake shapes, and the inner command/response payloads
// carried inside encrypted frames.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrLineTooLong = errors.New("line exceeds maximum length")
	ErrMalformed   = errors.New("malformed envelope")
)

// Envelope type tags. Pre-handshake frames use the handshake tags in
// plaintext; after the handshake every frame on the wire is an
// encrypted_payload whose decrypted body is again an Envelope carrying
// one of the inner tags.
const (
	TypeHandshakeStart    = "handshake_start"
	TypeKeyExchange       = "key_exchange"
	TypeHandshakeComplete = "handshake_complete"
	TypeEncryptedPayload  = "encrypted_payload"

	TypeLogin       = "login"
	TypeSignup      = "signup"
	TypeChat        = "chat"
	TypeWhoIsOnline = "whoisonline"
	TypeLogout      = "logout"
	TypeResponse    = "response"
	TypeNewMessage  = "new_message"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusInfo  = "info"
)

// Envelope is the outer JSON object of every frame. Payload is kept raw
// because its shape depends on Type: an object for plaintext and inner
// envelopes, a base64 string for encrypted_payload frames.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it under the given type tag.
func NewEnvelope(typ string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Envelope{Type: typ, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// PayloadHasKeys reports whether the envelope payload is a JSON object
// containing every one of the given keys. Present-but-empty values
// count as present; this mirrors the distinction the dispatch layer
// draws between a malformed envelope and bad field contents.
func (e *Envelope) PayloadHasKeys(keys ...string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &obj); err != nil {
		return false
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}
