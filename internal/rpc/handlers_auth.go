package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/internal/storage"
	"github.com/rs/zerolog/log"
)

// sessionQuery narrows auth.sessions. Unset fields match everything.
type sessionQuery struct {
	Internal    *bool  `json:"internal"`
	Current     *bool  `json:"current"`
	Credentials string `json:"credentials"`
}

func (q sessionQuery) filter() auth.SessionFilter {
	return func(info auth.SessionInfo) bool {
		if q.Internal != nil && info.Internal != *q.Internal {
			return false
		}
		if q.Current != nil && info.Current != *q.Current {
			return false
		}
		if q.Credentials != "" && info.Credentials != q.Credentials {
			return false
		}
		return true
	}
}

func (s *Server) sessions(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var q sessionQuery
	if err := decodeParams(params, &q); err != nil {
		return nil, err
	}
	return s.svc.ListSessions(conn, q.filter()), nil
}

func (s *Server) terminateSession(_ context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	var id string
	if err := requireParams(params, 1, &id); err != nil {
		return nil, err
	}
	return s.svc.TerminateSession(id)
}

func (s *Server) terminateOtherSessions(_ context.Context, conn *Conn, _ []json.RawMessage) (any, error) {
	if err := s.svc.TerminateOtherSessions(conn); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) checkPassword(ctx context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	var username, password string
	if err := requireParams(params, 2, &username, &password); err != nil {
		return nil, err
	}
	return s.svc.CheckPassword(ctx, username, password)
}

func (s *Server) generateToken(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var (
		ttl         *int
		attrs       map[string]any
		matchOrigin bool
	)
	if err := decodeParams(params, &ttl, &attrs, &matchOrigin); err != nil {
		return nil, err
	}
	var d time.Duration
	if ttl != nil {
		if *ttl <= 0 {
			return nil, errorf(CodeInvalid, "ttl must be positive")
		}
		d = time.Duration(*ttl) * time.Second
	}
	return s.svc.GenerateToken(conn, d, attrs, matchOrigin)
}

func (s *Server) getToken(_ context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	var id string
	if err := requireParams(params, 1, &id); err != nil {
		return nil, err
	}
	attrs, ok := s.svc.TokenAttributes(id)
	if !ok {
		return nil, nil
	}
	return map[string]any{"attributes": attrs}, nil
}

// originParam names the origin a token is redeemed from when the
// caller acts on behalf of another client. Empty means the caller.
type originParam struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`
	UID  *int   `json:"uid"`
}

func (p *originParam) resolve(conn *Conn) origin.Origin {
	switch {
	case p == nil:
		return conn.Origin()
	case p.UID != nil:
		return origin.UnixSocket{UID: *p.UID}
	case p.Addr != "":
		return origin.TCP{Addr: p.Addr, Port: p.Port}
	}
	return conn.Origin()
}

func (s *Server) getTokenForAction(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var (
		id, methodName, resource string
		from                     *originParam
	)
	if err := requireParams(params, 3, &id, &methodName, &resource, &from); err != nil {
		return nil, err
	}
	cred := s.svc.TokenForAction(id, from.resolve(conn), methodName, resource)
	if cred == nil {
		return nil, nil
	}
	return auth.DumpCredentials(cred), nil
}

func (s *Server) getTokenForShell(_ context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var (
		id   string
		from *originParam
	)
	if err := requireParams(params, 1, &id, &from); err != nil {
		return nil, err
	}
	username, ok := s.svc.TokenForShell(id, from.resolve(conn))
	if !ok {
		return nil, nil
	}
	return map[string]any{"username": username}, nil
}

func (s *Server) twoFactorAuth(ctx context.Context, _ *Conn, _ []json.RawMessage) (any, error) {
	return s.svc.TwoFactorEnabled(ctx)
}

func (s *Server) login(ctx context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var (
		username, password string
		otp                *string
	)
	if err := requireParams(params, 2, &username, &password, &otp); err != nil {
		return nil, err
	}
	var code string
	if otp != nil {
		code = *otp
	}
	ok, err := s.svc.Login(ctx, conn, username, password, code)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, conn, "auth.login", username, ok)
	return ok, nil
}

func (s *Server) loginWithAPIKey(ctx context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var key string
	if err := requireParams(params, 1, &key); err != nil {
		return nil, err
	}
	ok, err := s.svc.LoginWithAPIKey(ctx, conn, key)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, conn, "auth.login_with_api_key", "", ok)
	return ok, nil
}

func (s *Server) loginWithToken(ctx context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	var token string
	if err := requireParams(params, 1, &token); err != nil {
		return nil, err
	}
	ok := s.svc.LoginWithToken(conn, token)
	s.recordLogin(ctx, conn, "auth.login_with_token", "", ok)
	return ok, nil
}

func (s *Server) deprecatedToken(ctx context.Context, conn *Conn, params []json.RawMessage) (any, error) {
	log.Warn().Str("session", conn.SessionID()).Msg("auth.token is deprecated, use auth.login_with_token")
	return s.loginWithToken(ctx, conn, params)
}

func (s *Server) logout(_ context.Context, conn *Conn, _ []json.RawMessage) (any, error) {
	return s.svc.Logout(conn), nil
}

func (s *Server) recordLogin(ctx context.Context, conn *Conn, methodName, username string, ok bool) {
	loginsTotal.WithLabelValues(methodName, loginResult(ok)).Inc()
	if !ok {
		log.Warn().Str("origin", conn.Origin().String()).Str("method", methodName).Str("username", username).Msg("login failed")
	}
	if s.auditor != nil {
		s.auditor.LogLogin(ctx, conn.SessionID(), conn.Origin().String(), username, methodName, ok)
	}
}

type auditQuery struct {
	Event     string     `json:"event"`
	SessionID string     `json:"session_id"`
	Since     *time.Time `json:"since"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

func (s *Server) auditLog(ctx context.Context, _ *Conn, params []json.RawMessage) (any, error) {
	if s.auditor == nil {
		return nil, errorf(CodeFault, "audit log is not configured")
	}
	q := auditQuery{Limit: 100}
	if err := decodeParams(params, &q); err != nil {
		return nil, err
	}
	return s.auditor.Query(ctx, storage.AuditFilter{
		Event:     q.Event,
		SessionID: q.SessionID,
		Since:     q.Since,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
}
