package cryptoops

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/gosuda/sealchat/wire"
)

// rsaKeyBits sizes the server keypair. 2048 is large enough to wrap a
// 32-byte key under OAEP/SHA-256 and cheap enough to generate at boot.
const rsaKeyBits = 2048

// Handshaker holds the server's long-lived RSA keypair. One Handshaker
// is created at startup and shared by every session; the keypair lives
// for the process lifetime and the private key is never written out.
type Handshaker struct {
	key    *rsa.PrivateKey
	pubPEM string
}

// NewHandshaker generates the server keypair and caches its public half
// as a PEM (SPKI) string ready to be sent in handshake_start frames.
func NewHandshaker() (*Handshaker, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &Handshaker{key: key, pubPEM: string(pubPEM)}, nil
}

// PublicKeyPEM returns the PEM encoding sent to clients.
func (h *Handshaker) PublicKeyPEM() string {
	return h.pubPEM
}

// ServerHandshake performs the responder side of the key exchange.
//
// Message flow:
//
//	handshake_start    (server → client, plaintext): RSA public key (PEM, SPKI)
//	key_exchange       (client → server, plaintext): base64 RSA-OAEP(SHA-256) wrapped 32-byte AES key
//	handshake_complete (server → client, sealed):    first frame through the new channel
//
// Any failure (transport, unexpected type, bad base64, OAEP failure,
// wrong key length) aborts without sending further frames; the caller
// closes the connection. The reader must be the one that will keep
// serving the connection afterwards so no buffered bytes are lost.
func (h *Handshaker) ServerHandshake(ctx context.Context, conn net.Conn, r *wire.Reader) (*SecureChannel, error) {
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", ErrHandshakeFailed, err)
		}
		defer conn.SetDeadline(time.Time{}) // Clear deadline after handshake
	}

	start, err := wire.NewEnvelope(wire.TypeHandshakeStart, wire.HandshakeStartPayload{PublicKey: h.pubPEM})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := wire.WriteEnvelope(conn, start); err != nil {
		return nil, fmt.Errorf("%w: send handshake_start: %w", ErrHandshakeFailed, err)
	}

	env, err := r.ReadEnvelope()
	if err != nil {
		return nil, fmt.Errorf("%w: recv key_exchange: %w", ErrHandshakeFailed, err)
	}
	if env.Type != wire.TypeKeyExchange {
		return nil, fmt.Errorf("%w: unexpected envelope type %q", ErrHandshakeFailed, env.Type)
	}
	var kx wire.KeyExchangePayload
	if err := env.DecodePayload(&kx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	wrapped, err := base64.StdEncoding.DecodeString(kx.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped key: %w", ErrHandshakeFailed, err)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, h.key, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %w", ErrHandshakeFailed, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped key is %d bytes, want %d", ErrHandshakeFailed, len(key), KeySize)
	}
	channel, err := NewSecureChannel(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	complete, err := wire.NewEnvelope(wire.TypeHandshakeComplete, wire.HandshakeCompletePayload{Message: "Secure channel established."})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	sealed, err := channel.SealEnvelope(complete)
	if err != nil {
		return nil, fmt.Errorf("%w: seal handshake_complete: %w", ErrHandshakeFailed, err)
	}
	if err := wire.WriteEnvelope(conn, sealed); err != nil {
		return nil, fmt.Errorf("%w: send handshake_complete: %w", ErrHandshakeFailed, err)
	}

	return channel, nil
}

// ClientHandshake performs the initiator side of the key exchange: it
// reads the server's handshake_start, generates a fresh 32-byte key,
// wraps it with RSA-OAEP(SHA-256) into a key_exchange frame, and
// confirms the channel by decrypting the server's handshake_complete.
func ClientHandshake(ctx context.Context, conn net.Conn, r *wire.Reader) (*SecureChannel, error) {
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", ErrHandshakeFailed, err)
		}
		defer conn.SetDeadline(time.Time{}) // Clear deadline after handshake
	}

	env, err := r.ReadEnvelope()
	if err != nil {
		return nil, fmt.Errorf("%w: recv handshake_start: %w", ErrHandshakeFailed, err)
	}
	if env.Type != wire.TypeHandshakeStart {
		return nil, fmt.Errorf("%w: unexpected envelope type %q", ErrHandshakeFailed, env.Type)
	}
	var start wire.HandshakeStartPayload
	if err := env.DecodePayload(&start); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	pub, err := parsePublicKeyPEM(start.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %w", ErrHandshakeFailed, err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key: %w", ErrHandshakeFailed, err)
	}
	kx, err := wire.NewEnvelope(wire.TypeKeyExchange, wire.KeyExchangePayload{Key: base64.StdEncoding.EncodeToString(wrapped)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := wire.WriteEnvelope(conn, kx); err != nil {
		return nil, fmt.Errorf("%w: send key_exchange: %w", ErrHandshakeFailed, err)
	}

	channel, err := NewSecureChannel(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	outer, err := r.ReadEnvelope()
	if err != nil {
		return nil, fmt.Errorf("%w: recv handshake_complete: %w", ErrHandshakeFailed, err)
	}
	inner, err := channel.OpenEnvelope(outer)
	if err != nil {
		return nil, fmt.Errorf("%w: open handshake_complete: %w", ErrHandshakeFailed, err)
	}
	if inner.Type != wire.TypeHandshakeComplete {
		return nil, fmt.Errorf("%w: unexpected envelope type %q", ErrHandshakeFailed, inner.Type)
	}

	return channel, nil
}

// parsePublicKeyPEM decodes a PEM (SPKI) block into an RSA public key.
func parsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return pub, nil
}
