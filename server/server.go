// Package server implements the chat server: the TCP listener, the
// per-connection session state machine, credential verification, the
// online-user registry, and the online/offline routing decision.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/sealchat/cryptoops"
	"github.com/gosuda/sealchat/metrics"
	"github.com/gosuda/sealchat/server/ratelimit"
	"github.com/gosuda/sealchat/store"
)

// Server accepts TCP connections and runs one session goroutine per
// client. All sessions share one RSA keypair, one registry, and one
// account store.
type Server struct {
	cfg     Config
	deps    sessionDeps
	limiter *ratelimit.PerIP

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// New assembles a server around the given account store. Passing a nil
// observer disables instrumentation.
func New(cfg Config, accounts store.AccountStore, obs metrics.Observer) (*Server, error) {
	cfg = cfg.withDefaults()
	if obs == nil {
		obs = metrics.NopObserver
	}
	handshaker, err := cryptoops.NewHandshaker()
	if err != nil {
		return nil, fmt.Errorf("generate server keypair: %w", err)
	}
	registry := NewRegistry()
	return &Server{
		cfg: cfg,
		deps: sessionDeps{
			cfg:        cfg,
			handshaker: handshaker,
			auth:       NewAuthenticator(accounts),
			registry:   registry,
			router:     NewRouter(registry, accounts, obs),
			obs:        obs,
		},
		limiter: ratelimit.NewPerIP(cfg.AcceptRate, cfg.AcceptBurst),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Registry exposes the online-user registry for diagnostics.
func (s *Server) Registry() *Registry {
	return s.deps.registry
}

// Addr returns the bound listener address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on the configured address and serves until ctx is
// canceled or the listener fails. Cancellation closes the listener and
// every live connection (unblocking session reads), then waits for all
// session goroutines to drain.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("[Server] listening")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("[Server] accept error")
			continue
		}

		if host, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String()); splitErr == nil && !s.limiter.Allow(host) {
			log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("[Server] connection throttled")
			_ = conn.Close()
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			break
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("[Server] new connection")

		sess := newSession(conn, s.deps)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			sess.run(ctx)
		}()
	}

	s.wg.Wait()
	log.Info().Msg("[Server] stopped")
	return nil
}

// track registers conn for shutdown teardown. Reports false once the
// server is closing.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// shutdown closes the listener and all live connections so blocked
// session reads return.
func (s *Server) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
}
