package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/pkg/models"
)

// DefaultTokenTTL applies when a token is requested without a TTL.
const DefaultTokenTTL = 600 * time.Second

// APIKeyAuthenticator resolves a presented API key. It returns
// (nil, nil) when the key is unknown or does not match.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error)
}

// TwoFactorGate is the one-time-password check consulted on password login.
type TwoFactorGate interface {
	Enabled(ctx context.Context) (bool, error)
	Verify(ctx context.Context, otp string) (bool, error)
}

// Service implements the login surface on top of the registries.
type Service struct {
	Sessions *SessionRegistry
	Tokens   *TokenRegistry

	accounts   AccountResolver
	keys       APIKeyAuthenticator
	twoFactor  TwoFactorGate
	defaultTTL time.Duration
}

// NewService wires the login surface. defaultTTL <= 0 selects DefaultTokenTTL.
func NewService(sessions *SessionRegistry, tokens *TokenRegistry, accounts AccountResolver, keys APIKeyAuthenticator, twoFactor TwoFactorGate, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	return &Service{
		Sessions:   sessions,
		Tokens:     tokens,
		accounts:   accounts,
		keys:       keys,
		twoFactor:  twoFactor,
		defaultTTL: defaultTTL,
	}
}

// Login authenticates conn with a username and password. The OTP is
// checked whenever 2FA is enabled, even if the password was wrong, so
// failure latency does not reveal which factor failed.
func (s *Service) Login(ctx context.Context, conn Conn, username, password, otp string) (bool, error) {
	user, err := s.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return false, fmt.Errorf("authenticating %q: %w", username, err)
	}

	enabled, err := s.twoFactor.Enabled(ctx)
	if err != nil {
		return false, fmt.Errorf("reading two-factor config: %w", err)
	}
	if enabled {
		ok, err := s.twoFactor.Verify(ctx, otp)
		if err != nil {
			return false, fmt.Errorf("verifying otp: %w", err)
		}
		if !ok {
			user = nil
		}
	}

	if user == nil {
		return false, nil
	}
	return s.Sessions.Login(conn, NewLoginPasswordCredentials(user)), nil
}

// CheckPassword verifies a username and password without logging in.
func (s *Service) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	user, err := s.accounts.Authenticate(ctx, username, password)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// TwoFactorEnabled reports whether password logins require an OTP.
func (s *Service) TwoFactorEnabled(ctx context.Context) (bool, error) {
	return s.twoFactor.Enabled(ctx)
}

// LoginWithAPIKey authenticates conn with an API key.
func (s *Service) LoginWithAPIKey(ctx context.Context, conn Conn, key string) (bool, error) {
	apiKey, err := s.keys.AuthenticateAPIKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("authenticating api key: %w", err)
	}
	if apiKey == nil {
		return false, nil
	}
	return s.Sessions.Login(conn, NewAPIKeyCredentials(apiKey)), nil
}

// LoginWithToken authenticates conn with a token issued by GenerateToken.
// Tokens that carry attributes are reserved for specific internal flows
// and are refused here.
func (s *Service) LoginWithToken(conn Conn, tokenID string) bool {
	token := s.Tokens.Get(tokenID, conn.Origin())
	if token == nil {
		return false
	}
	if len(token.Attributes) > 0 {
		return false
	}
	return s.Sessions.Login(conn, NewTokenCredentials(s.Tokens, token))
}

// GenerateToken issues a token whose parent is conn's credential. ttl of
// zero selects the default. With matchOrigin the token may only be
// redeemed from conn's origin.
func (s *Service) GenerateToken(conn Conn, ttl time.Duration, attributes map[string]any, matchOrigin bool) (string, error) {
	cred := conn.Credentials()
	if !conn.Authenticated() || cred == nil {
		return "", ErrNotAuthenticated
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	var o origin.Origin
	if matchOrigin {
		o = conn.Origin()
	}
	token, err := s.Tokens.Create(ttl, attributes, o, cred)
	if err != nil {
		return "", err
	}
	return token.ID, nil
}

// TokenAttributes returns the attribute payload of a valid token.
func (s *Service) TokenAttributes(tokenID string) (map[string]any, bool) {
	return s.Tokens.Attributes(tokenID)
}

// TokenForAction resolves a token for a single action without creating a
// session. It returns nil unless the token is redeemable from o, carries
// no attributes, and its parent authorizes the action.
func (s *Service) TokenForAction(tokenID string, o origin.Origin, method, resource string) *TokenCredentials {
	token := s.Tokens.Get(tokenID, o)
	if token == nil || len(token.Attributes) > 0 {
		return nil
	}
	if token.Parent == nil || !token.Parent.Authorize(method, resource) {
		return nil
	}
	return NewTokenCredentials(s.Tokens, token)
}

// TokenForShell resolves a token to the username allowed to open a web
// shell. The token's root credential must be a user session whose
// privilege grants web shell access.
func (s *Service) TokenForShell(tokenID string, o origin.Origin) (string, bool) {
	token := s.Tokens.Get(tokenID, o)
	if token == nil || len(token.Attributes) > 0 {
		return "", false
	}
	root, ok := token.RootCredentials().(UserSession)
	if !ok {
		return "", false
	}
	user := root.UserRecord()
	if !user.Privilege.WebShell {
		return "", false
	}
	return user.Username, true
}

// Logout ends conn's session. It always succeeds.
func (s *Service) Logout(conn Conn) bool {
	s.Sessions.Logout(conn)
	return true
}

// ListSessions returns the session listing as seen from conn.
func (s *Service) ListSessions(conn Conn, filter SessionFilter) []SessionInfo {
	return s.Sessions.List(conn.SessionID(), filter)
}

// TerminateSession force-closes the connection of session id. The
// connection's own close hook performs the logout.
func (s *Service) TerminateSession(id string) (bool, error) {
	conn, _, ok := s.Sessions.Lookup(id)
	if !ok {
		return false, nil
	}
	if err := conn.Close(); err != nil {
		return false, fmt.Errorf("closing session %s: %w", id, err)
	}
	return true, nil
}

// TerminateOtherSessions closes every non-internal session except conn's
// own. Failures are collected and reported together.
func (s *Service) TerminateOtherSessions(conn Conn) error {
	var errs []error
	for _, info := range s.Sessions.List(conn.SessionID(), nil) {
		if info.Current || info.Internal {
			continue
		}
		if _, err := s.TerminateSession(info.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("unable to terminate all sessions: %w", errors.Join(errs...))
	}
	return nil
}
