// Package rpc serves the broker's JSON-lines RPC protocol over Unix
// and TCP sockets and enforces per-call authorization.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/authbroker/internal/audit"
	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/events"
	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/internal/peercred"
	"github.com/org/authbroker/internal/twofactor"
	"github.com/org/authbroker/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	maxMessageSize     = 1 << 20
	subscriptionBuffer = 64
)

// Config holds server configuration.
type Config struct {
	UnixSocket string
	ListenAddr string
	// LoginRate and LoginBurst bound login attempts per origin.
	LoginRate  float64
	LoginBurst int
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Service   *auth.Service
	Elevator  *auth.Elevator
	TwoFactor *twofactor.Service
	Auditor   *audit.Logger
	Bus       *events.Bus
	Clock     clock.Clock
}

type handlerFunc func(ctx context.Context, conn *Conn, params []json.RawMessage) (any, error)

type method struct {
	fn handlerFunc

	// noAuth methods skip the CALL authorization check.
	noAuth bool

	// throttled methods are subject to the per-origin login limiter.
	throttled bool
}

// Server is the RPC server.
type Server struct {
	svc       *auth.Service
	elevator  *auth.Elevator
	twoFactor *twofactor.Service
	auditor   *audit.Logger
	bus       *events.Bus
	limiter   *rateLimiter
	methods   map[string]method
	cfg       Config

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*Conn]struct{}
	wg        sync.WaitGroup
}

// NewServer creates a fully wired Server.
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = 1
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 10
	}
	s := &Server{
		svc:       deps.Service,
		elevator:  deps.Elevator,
		twoFactor: deps.TwoFactor,
		auditor:   deps.Auditor,
		bus:       deps.Bus,
		limiter:   newRateLimiter(deps.Clock, cfg.LoginRate, cfg.LoginBurst),
		cfg:       cfg,
		conns:     make(map[*Conn]struct{}),
	}
	s.methods = s.buildMethods()
	return s
}

// Start opens the configured listeners and serves them in the
// background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.UnixSocket != "" {
		if err := os.Remove(s.cfg.UnixSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale socket: %w", err)
		}
		ln, err := net.Listen("unix", s.cfg.UnixSocket)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.cfg.UnixSocket, err)
		}
		// Access is decided per peer, not by file mode.
		if err := os.Chmod(s.cfg.UnixSocket, 0o666); err != nil {
			ln.Close()
			return fmt.Errorf("chmod %s: %w", s.cfg.UnixSocket, err)
		}
		s.serveInBackground(ctx, ln)
		log.Info().Str("socket", s.cfg.UnixSocket).Msg("listening on unix socket")
	}
	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
		}
		s.serveInBackground(ctx, ln)
		log.Info().Str("addr", ln.Addr().String()).Msg("listening on tcp")
	}
	return nil
}

func (s *Server) serveInBackground(ctx context.Context, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ctx, ln); err != nil {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("listener failed")
		}
	}()
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		o, err := originOf(nc)
		if err != nil {
			log.Warn().Err(err).Msg("unable to identify connection origin")
			nc.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, nc, o)
		}()
	}
}

func originOf(nc net.Conn) (origin.Origin, error) {
	switch c := nc.(type) {
	case *net.UnixConn:
		return peercred.UnixPeer(c)
	case *net.TCPConn:
		if o, ok := origin.FromTCPAddr(c.RemoteAddr()); ok {
			return o, nil
		}
	}
	return nil, fmt.Errorf("unsupported connection type %T", nc)
}

// ServeConn runs the request loop for one connection with a known origin.
// It returns when the peer disconnects or the connection is closed.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn, o origin.Origin) {
	conn := newConn(nc, o)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		conn.Close() //nolint:errcheck
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	log.Debug().Str("session", conn.SessionID()).Str("origin", o.String()).Msg("connection accepted")
	s.elevator.OnConnect(ctx, conn)

	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for sc.Scan() {
		conn.messageReceived()

		var req Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			if err := conn.send(Response{Error: errorf(CodeInvalid, "malformed request")}); err != nil {
				return
			}
			continue
		}
		if err := conn.send(s.dispatch(ctx, conn, &req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Conn, req *Request) Response {
	start := time.Now()
	ctx = withRequestID(ctx, uuid.NewString())

	label := req.Method
	if _, ok := s.methods[label]; !ok {
		label = "unknown"
	}

	resp := Response{ID: req.ID}
	status := "ok"
	result, err := s.call(ctx, conn, req)
	if err != nil {
		resp.Error = s.toRPCError(ctx, req.Method, err)
		status = resp.Error.Code
	} else {
		resp.Result = result
	}

	callsTotal.WithLabelValues(label, status).Inc()
	callDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return resp
}

func (s *Server) call(ctx context.Context, conn *Conn, req *Request) (any, error) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, errorf(CodeNoMethod, "method %q not found", req.Method)
	}
	if !m.noAuth {
		cred := conn.Credentials()
		if cred == nil {
			return nil, auth.ErrNotAuthenticated
		}
		if !cred.Authorize(models.MethodCall, req.Method) {
			return nil, auth.ErrNotAuthorized
		}
	}
	if m.throttled && !s.limiter.allow(limiterKey(conn.Origin())) {
		log.Warn().Str("origin", conn.Origin().String()).Str("method", req.Method).Msg("login rate limit exceeded")
		return nil, errorf(CodeRateLimit, "too many login attempts")
	}
	return m.fn(ctx, conn, req.Params)
}

func (s *Server) toRPCError(ctx context.Context, methodName string, err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, auth.ErrNotAuthenticated):
		return errorf(CodeAccess, "Not authenticated")
	case errors.Is(err, auth.ErrNotAuthorized):
		return errorf(CodeAccess, "Not authorized")
	case errors.Is(err, twofactor.ErrInvalidConfig):
		return errorf(CodeInvalid, "%s", err.Error())
	}
	log.Error().Err(err).Str("request_id", requestIDFromCtx(ctx)).Str("method", methodName).Msg("rpc call failed")
	return errorf(CodeFault, "%s", err.Error())
}

// RunMaintenance periodically drops idle rate limiter state until ctx
// is done.
func (s *Server) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.prune()
		}
	}
}

// Shutdown closes the listeners and every open connection, then waits
// for the connection handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, c := range conns {
		c.Close() //nolint:errcheck
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSessions implements StateSource.
func (s *Server) ActiveSessions() int { return s.svc.Sessions.Len() }

// ActiveTokens implements StateSource.
func (s *Server) ActiveTokens() int { return s.svc.Tokens.Len() }

// DroppedEvents implements StateSource.
func (s *Server) DroppedEvents() uint64 { return s.bus.Dropped() }
