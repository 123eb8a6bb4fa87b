package server

import (
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8888
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultAcceptRate       = 5
	DefaultAcceptBurst      = 10
)

// Config holds the runtime knobs for a chat server instance.
type Config struct {
	Host string
	// Port 0 binds an OS-assigned port (the bound address is available
	// from Server.Addr).
	Port int

	// HandshakeTimeout bounds the key exchange of each new connection.
	HandshakeTimeout time.Duration

	// AcceptRate and AcceptBurst throttle new connections per remote
	// host (connections per second). A rate <= 0 disables throttling.
	AcceptRate  int64
	AcceptBurst int64
}

// DefaultConfig returns the stock configuration: loopback listener on
// port 8888, 10s handshake deadline, 5 connects/sec per IP with a
// burst of 10.
func DefaultConfig() Config {
	return Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		HandshakeTimeout: DefaultHandshakeTimeout,
		AcceptRate:       DefaultAcceptRate,
		AcceptBurst:      DefaultAcceptBurst,
	}
}

// withDefaults fills unset fields so a partially populated Config
// still yields a working server. Port and AcceptRate are left alone:
// port zero means OS-assigned, rate zero means the throttle is off.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// Addr returns the host:port the listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
