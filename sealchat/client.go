// Package sealchat is the client library for the sealchat server: it
// dials, runs the key exchange, and exposes the authenticated command
// set while transparently re-dialing a dropped link.
package sealchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/wire"
)

// Client maintains one connection to a chat server. Commands are
// fire-and-forget; their outcomes arrive asynchronously through the
// configured handlers. Safe for concurrent use.
type Client struct {
	cfg ClientConfig

	mu        sync.Mutex
	conn      net.Conn
	channel   *cryptoops.SecureChannel
	connected bool

	writeMu sync.Mutex

	stopch   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient configures a client for the given server address. The
// connection is not opened until Start.
func NewClient(addr string, opts ...ClientOption) *Client {
	cfg := ClientConfig{
		Addr:             addr,
		HandshakeTimeout: 10 * time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     10 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Client{cfg: cfg, stopch: make(chan struct{})}
}

// Start launches the connection loop and returns immediately. The loop
// dials, hands the session to the receive loop, and re-dials with
// exponential backoff until Close.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close stops the connection loop and waits for it to exit.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopch)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	c.wg.Wait()
}

// Connected reports whether a secure channel is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopch:
		return true
	default:
		return false
	}
}

// Login submits credentials. The server's verdict arrives through the
// response handler.
func (c *Client) Login(email, password string) error {
	return c.sendCommand(wire.TypeLogin, wire.LoginPayload{Email: email, Password: password})
}

// Signup requests a new account. The account is not logged in on
// success; call Login afterwards.
func (c *Client) Signup(fullName, email, password string) error {
	return c.sendCommand(wire.TypeSignup, wire.SignupPayload{FullName: fullName, Email: email, Password: password})
}

// SendChat sends text to the user with the given id. Delivery to an
// online recipient is unacknowledged; an offline recipient produces an
// info response.
func (c *Client) SendChat(recipientID, text string) error {
	return c.sendCommand(wire.TypeChat, wire.ChatPayload{RecipientID: recipientID, Text: text})
}

// WhoIsOnline asks for the current online-user list. The list includes
// the caller.
func (c *Client) WhoIsOnline() error {
	return c.sendCommand(wire.TypeWhoIsOnline, struct{}{})
}

// Logout asks the server to close the session. The server closes the
// connection without a response; the client then re-dials into a fresh
// unauthenticated session unless Close is called.
func (c *Client) Logout() error {
	return c.sendCommand(wire.TypeLogout, struct{}{})
}

func (c *Client) sendCommand(typ string, payload any) error {
	env, err := wire.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) send(env *wire.Envelope) error {
	if c.stopped() {
		return ErrClientClosed
	}
	c.mu.Lock()
	conn, channel := c.conn, c.channel
	c.mu.Unlock()
	if conn == nil || channel == nil {
		return ErrNotConnected
	}
	outer, err := channel.SealEnvelope(env)
	if err != nil {
		return fmt.Errorf("seal envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteEnvelope(conn, outer)
}

func (c *Client) run() {
	defer c.wg.Done()

	delay := c.cfg.ReconnectMin
	for {
		if c.stopped() {
			return
		}

		connected, err := c.runOnce()
		if c.stopped() {
			return
		}
		if connected {
			// The link was up; retry from the shortest delay again.
			delay = c.cfg.ReconnectMin
			continue
		}

		c.notifyError(err)
		select {
		case <-time.After(delay):
		case <-c.stopch:
			return
		}
		delay = nextBackoff(delay, c.cfg.ReconnectMax)
	}
}

// runOnce dials and serves one session. connected reports whether the
// handshake succeeded; when false, err says why.
func (c *Client) runOnce() (connected bool, err error) {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, c.cfg.HandshakeTimeout)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	reader := wire.NewReader(conn)
	hsCtx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	channel, err := cryptoops.ClientHandshake(hsCtx, conn, reader)
	cancel()
	if err != nil {
		_ = conn.Close()
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.connected = true
	c.mu.Unlock()

	log.Debug().Str("addr", c.cfg.Addr).Msg("[Client] secure channel established")
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	sessionErr := c.recvLoop(reader, channel)

	c.mu.Lock()
	c.conn = nil
	c.channel = nil
	c.connected = false
	c.mu.Unlock()
	_ = conn.Close()

	if !c.stopped() {
		log.Debug().Err(sessionErr).Str("addr", c.cfg.Addr).Msg("[Client] disconnected")
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(sessionErr)
		}
	}
	return true, nil
}

// recvLoop reads until the transport fails. Frames that fail to
// decrypt or parse are surfaced through the error handler and skipped;
// the channel itself remains usable.
func (c *Client) recvLoop(reader *wire.Reader, channel *cryptoops.SecureChannel) error {
	for {
		outer, err := reader.ReadEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		inner, err := channel.OpenEnvelope(outer)
		if err != nil {
			c.notifyError(fmt.Errorf("bad frame from server: %w", err))
			continue
		}
		c.dispatch(inner)
	}
}

func (c *Client) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeResponse:
		var resp wire.ResponsePayload
		if err := env.DecodePayload(&resp); err != nil {
			c.notifyError(fmt.Errorf("decode response payload: %w", err))
			return
		}
		if c.cfg.OnResponse != nil {
			c.cfg.OnResponse(resp)
		}
	case wire.TypeNewMessage:
		var msg wire.NewMessagePayload
		if err := env.DecodePayload(&msg); err != nil {
			c.notifyError(fmt.Errorf("decode new_message payload: %w", err))
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	default:
		c.notifyError(fmt.Errorf("unexpected envelope type %q from server", env.Type))
	}
}

func (c *Client) notifyError(err error) {
	if err == nil {
		return
	}
	log.Debug().Err(err).Msg("[Client] error")
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

// nextBackoff doubles delay, capped at max.
func nextBackoff(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		return max
	}
	return delay
}
