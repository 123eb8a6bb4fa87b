package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/metrics"
	"github.com/gosuda/sealchat/store"
	"github.com/gosuda/sealchat/wire"
)

type sessionState int

const (
	stateHandshake sessionState = iota
	stateUnauth
	stateAuth
	stateClosed
)

// sessionDeps bundles the shared server machinery handed to every
// session.
type sessionDeps struct {
	cfg        Config
	handshaker *cryptoops.Handshaker
	auth       *Authenticator
	registry   *Registry
	router     *Router
	obs        metrics.Observer
}

// Session owns one client connection from accept to close: the key
// exchange, authentication, and the encrypted command loop. Reads
// happen only on the session's own goroutine. Writes may come from any
// goroutine (the router delivers on behalf of other sessions) and are
// serialized by writeMu so frames never interleave on the wire.
type Session struct {
	deps    sessionDeps
	conn    *countingConn
	reader  *wire.Reader
	channel *cryptoops.SecureChannel

	writeMu sync.Mutex

	mu    sync.Mutex
	state sessionState
	user  *store.User

	started   time.Time
	closeOnce sync.Once
}

func newSession(conn net.Conn, deps sessionDeps) *Session {
	cc := &countingConn{Conn: conn}
	return &Session{
		deps:    deps,
		conn:    cc,
		reader:  wire.NewReader(cc),
		state:   stateHandshake,
		started: time.Now(),
	}
}

// User returns the authenticated user record, or nil before login.
func (s *Session) User() *store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) setAuthenticated(u *store.User) {
	s.mu.Lock()
	s.user = u
	s.state = stateAuth
	s.mu.Unlock()
}

func (s *Session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) remote() string {
	return s.conn.RemoteAddr().String()
}

// Send seals env into an encrypted frame and writes it out. Safe for
// concurrent use. Must not be called before the handshake completes.
func (s *Session) Send(env *wire.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	outer, err := s.channel.SealEnvelope(env)
	if err != nil {
		return fmt.Errorf("seal envelope: %w", err)
	}
	return wire.WriteEnvelope(s.conn, outer)
}

func (s *Session) sendError(message string) error {
	resp, err := errorResponse(message)
	if err != nil {
		return err
	}
	return s.Send(resp)
}

// run drives the session to completion, then tears it down.
func (s *Session) run(ctx context.Context) {
	s.close(s.serve(ctx))
}

func (s *Session) serve(ctx context.Context) metrics.CloseReason {
	hsCtx, cancel := context.WithTimeout(ctx, s.deps.cfg.HandshakeTimeout)
	channel, err := s.deps.handshaker.ServerHandshake(hsCtx, s.conn, s.reader)
	cancel()
	if err != nil {
		s.deps.obs.Handshake(metrics.HandshakeFail)
		log.Warn().Err(err).Str("remote", s.remote()).Msg("[Session] handshake failed")
		return metrics.CloseReasonHandshake
	}
	s.deps.obs.Handshake(metrics.HandshakeOK)
	s.channel = channel
	s.setState(stateUnauth)
	log.Debug().Str("remote", s.remote()).Msg("[Session] secure channel established")

	for {
		outer, err := s.reader.ReadEnvelope()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return metrics.CloseReasonEOF
			case errors.Is(err, wire.ErrLineTooLong), errors.Is(err, wire.ErrMalformed):
				log.Warn().Err(err).Str("remote", s.remote()).Msg("[Session] framing error")
				return metrics.CloseReasonFraming
			default:
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("remote", s.remote()).Msg("[Session] read error")
				}
				return metrics.CloseReasonTransport
			}
		}

		inner, err := s.channel.OpenEnvelope(outer)
		if err != nil {
			if errors.Is(err, cryptoops.ErrDecryption) {
				// No response: anything we said would need the very
				// channel that just failed.
				log.Warn().Str("remote", s.remote()).Msg("[Session] undecryptable frame")
				return metrics.CloseReasonCrypto
			}
			log.Warn().Err(err).Str("remote", s.remote()).Msg("[Session] malformed inner envelope")
			return metrics.CloseReasonFraming
		}

		closing, err := s.dispatch(ctx, inner)
		if err != nil {
			log.Error().Err(err).Str("remote", s.remote()).Msg("[Session] dispatch failed")
			return metrics.CloseReasonInternal
		}
		if closing {
			return metrics.CloseReasonLogout
		}
	}
}

// dispatch handles one decrypted envelope. A true result means the
// client asked to close (logout); a non-nil error tears the session
// down.
func (s *Session) dispatch(ctx context.Context, env *wire.Envelope) (bool, error) {
	if s.currentState() != stateAuth {
		return false, s.dispatchUnauth(ctx, env)
	}
	return s.dispatchAuth(ctx, env)
}

func (s *Session) dispatchUnauth(ctx context.Context, env *wire.Envelope) error {
	switch env.Type {
	case wire.TypeLogin:
		return s.handleLogin(ctx, env)
	case wire.TypeSignup:
		return s.handleSignup(ctx, env)
	default:
		return s.sendError("Not authenticated. Send 'login' or 'signup'.")
	}
}

func (s *Session) dispatchAuth(ctx context.Context, env *wire.Envelope) (bool, error) {
	switch env.Type {
	case wire.TypeChat:
		resp, err := s.deps.router.RouteChat(ctx, s, env)
		if err != nil {
			return false, err
		}
		if resp != nil {
			return false, s.Send(resp)
		}
		return false, nil
	case wire.TypeWhoIsOnline:
		return false, s.handleWhoIsOnline()
	case wire.TypeLogout:
		return true, nil
	default:
		return false, s.sendError("Unknown command type: " + env.Type)
	}
}

func (s *Session) handleLogin(ctx context.Context, env *wire.Envelope) error {
	if !env.PayloadHasKeys("email", "password") {
		return s.sendError("Malformed login envelope.")
	}
	var creds wire.LoginPayload
	if err := env.DecodePayload(&creds); err != nil {
		return s.sendError("Malformed login envelope.")
	}

	user, err := s.deps.auth.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if user == nil {
		s.deps.obs.Login(metrics.AuthFail)
		log.Info().Str("remote", s.remote()).Msg("[Session] login rejected")
		return s.sendError("Login failed. Invalid credentials.")
	}

	s.setAuthenticated(user)
	s.deps.registry.Register(user.ID, s)
	s.deps.obs.Login(metrics.AuthOK)
	s.deps.obs.SessionCount(s.deps.registry.Count())
	log.Info().
		Str("remote", s.remote()).
		Str("user_id", user.ID).
		Msg("[Session] login successful")

	resp, err := wire.NewEnvelope(wire.TypeResponse, wire.ResponsePayload{
		Status:   wire.StatusOK,
		Message:  fmt.Sprintf("Login successful. Welcome, %s!", user.FullName),
		UserInfo: &wire.UserInfo{ID: user.ID, FullName: user.FullName, Email: user.Email},
	})
	if err != nil {
		return err
	}
	return s.Send(resp)
}

func (s *Session) handleSignup(ctx context.Context, env *wire.Envelope) error {
	if !env.PayloadHasKeys("full_name", "email", "password") {
		return s.sendError("Malformed sign-up envelope.")
	}
	var req wire.SignupPayload
	if err := env.DecodePayload(&req); err != nil {
		return s.sendError("Malformed sign-up envelope.")
	}

	id, err := s.deps.auth.Register(ctx, req.FullName, req.Email, req.Password)
	if errors.Is(err, store.ErrEmailExists) {
		s.deps.obs.Signup(metrics.AuthFail)
		return s.sendError("Sign-up failed. Email already exists.")
	}
	if err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	s.deps.obs.Signup(metrics.AuthOK)
	log.Info().
		Str("remote", s.remote()).
		Str("user_id", id).
		Msg("[Session] account created")

	resp, err := wire.NewEnvelope(wire.TypeResponse, wire.ResponsePayload{
		Status:  wire.StatusOK,
		Message: "Sign-up successful. Please login to authenticate.",
	})
	if err != nil {
		return err
	}
	return s.Send(resp)
}

func (s *Session) handleWhoIsOnline() error {
	resp, err := wire.NewEnvelope(wire.TypeResponse, wire.ResponsePayload{
		Status: wire.StatusOK,
		Users:  s.deps.registry.ListOnline(),
	})
	if err != nil {
		return err
	}
	return s.Send(resp)
}

// close releases the session exactly once: drops the registry binding
// (unless a newer session already took it over), closes the socket,
// and records final metrics.
func (s *Session) close(reason metrics.CloseReason) {
	s.closeOnce.Do(func() {
		s.setState(stateClosed)
		if user := s.User(); user != nil {
			s.deps.registry.Unregister(user.ID, s)
			s.deps.obs.SessionCount(s.deps.registry.Count())
		}
		_ = s.conn.Close()
		s.deps.obs.ConnTraffic(s.conn.bytesIn.Load(), s.conn.bytesOut.Load())
		lifetime := time.Since(s.started)
		s.deps.obs.SessionClosed(reason, lifetime)
		log.Info().
			Str("remote", s.remote()).
			Str("reason", string(reason)).
			Dur("lifetime", lifetime).
			Msg("[Session] closed")
	})
}

// countingConn tallies the bytes crossing a session's socket.
type countingConn struct {
	net.Conn
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.bytesIn.Add(int64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.bytesOut.Add(int64(n))
	return n, err
}
