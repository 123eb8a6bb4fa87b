package sealchat

import (
	"errors"
	"time"

	"github.com/gosuda/sealchat/wire"
)

var (
	ErrClientClosed = errors.New("client is closed")
	ErrNotConnected = errors.New("not connected")
)

type ClientConfig struct {
	Addr             string
	HandshakeTimeout time.Duration // bound on dial + key exchange (default: 10 seconds)
	ReconnectMin     time.Duration // first retry delay (default: 1 second)
	ReconnectMax     time.Duration // retry delay ceiling (default: 10 seconds)

	// OnConnect fires after each successful handshake, including
	// reconnects. Authentication does not survive a reconnect; callers
	// must log in again.
	OnConnect func()
	// OnDisconnect fires when an established session ends. err is nil
	// on clean server close.
	OnDisconnect func(err error)
	// OnResponse receives every response envelope from the server.
	OnResponse func(resp wire.ResponsePayload)
	// OnMessage receives incoming chat messages.
	OnMessage func(msg wire.NewMessagePayload)
	// OnError surfaces non-fatal errors: failed dial attempts and
	// frames that would not decrypt or parse.
	OnError func(err error)
}

type ClientOption func(*ClientConfig)

func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.HandshakeTimeout = d
	}
}

// WithReconnectBackoff sets the retry delay window. The delay starts
// at min, doubles per consecutive failure, caps at max, and resets
// after a successful handshake.
func WithReconnectBackoff(min, max time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.ReconnectMin = min
		c.ReconnectMax = max
	}
}

func WithConnectHandler(fn func()) ClientOption {
	return func(c *ClientConfig) {
		c.OnConnect = fn
	}
}

func WithDisconnectHandler(fn func(err error)) ClientOption {
	return func(c *ClientConfig) {
		c.OnDisconnect = fn
	}
}

func WithResponseHandler(fn func(resp wire.ResponsePayload)) ClientOption {
	return func(c *ClientConfig) {
		c.OnResponse = fn
	}
}

func WithMessageHandler(fn func(msg wire.NewMessagePayload)) ClientOption {
	return func(c *ClientConfig) {
		c.OnMessage = fn
	}
}

func WithErrorHandler(fn func(err error)) ClientOption {
	return func(c *ClientConfig) {
		c.OnError = fn
	}
}
