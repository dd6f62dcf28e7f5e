package auth

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/org/authbroker/internal/policy"
	"github.com/org/authbroker/pkg/models"
)

// Credential is the identity and permission object attached to a
// connection's session. The set of implementations is closed: every
// variant lives in this package.
type Credential interface {
	IsValid() bool
	Authorize(method, resource string) bool
	// NotifyUsed refreshes liveness; called on every inbound message.
	NotifyUsed()
	// Logout releases side effects when the session ends.
	Logout()
	// Dump returns identifying fields for listings and events. It never
	// contains secret material.
	Dump() map[string]any

	credential()
}

// UserSession is implemented by credentials that carry a user account.
type UserSession interface {
	Credential
	UserRecord() *models.User
}

// baseCredentials supplies the default behavior: always valid, always
// authorized, nothing to release, nothing to dump.
type baseCredentials struct{}

func (baseCredentials) IsValid() bool              { return true }
func (baseCredentials) Authorize(_, _ string) bool { return true }
func (baseCredentials) NotifyUsed()                {}
func (baseCredentials) Logout()                    {}
func (baseCredentials) Dump() map[string]any       { return map[string]any{} }
func (baseCredentials) credential()                {}

// AnonymousCredentials is the default variant.
type AnonymousCredentials struct{ baseCredentials }

// userCredentials is shared by the variants that wrap a user account.
// The allowlist is built once from the user's privilege.
type userCredentials struct {
	baseCredentials
	User      *models.User
	allowlist *policy.Allowlist
}

func newUserCredentials(user *models.User) userCredentials {
	return userCredentials{
		User:      user,
		allowlist: policy.NewAllowlist(user.Privilege.Allowlist),
	}
}

func (c *userCredentials) Authorize(method, resource string) bool {
	return c.allowlist.Authorize(method, resource)
}

func (c *userCredentials) Dump() map[string]any {
	return map[string]any{"username": c.User.Username}
}

func (c *userCredentials) UserRecord() *models.User { return c.User }

// UnixSocketCredentials is granted to local Unix socket peers whose uid
// resolved to an account.
type UnixSocketCredentials struct{ userCredentials }

// NewUnixSocketCredentials wraps user as a Unix socket session.
func NewUnixSocketCredentials(user *models.User) *UnixSocketCredentials {
	return &UnixSocketCredentials{newUserCredentials(user)}
}

// LoginPasswordCredentials is granted by a successful password login.
type LoginPasswordCredentials struct{ userCredentials }

// NewLoginPasswordCredentials wraps user as a password-login session.
func NewLoginPasswordCredentials(user *models.User) *LoginPasswordCredentials {
	return &LoginPasswordCredentials{newUserCredentials(user)}
}

// RootTCPSocketCredentials is trust granted solely because the peer
// process on a loopback TCP connection runs as uid 0.
type RootTCPSocketCredentials struct{ baseCredentials }

// NodeCredentials identifies the paired HA controller.
type NodeCredentials struct{ baseCredentials }

// APIKeyCredentials is granted by an API key login. Authorization reads
// the key's allowlist on every call.
type APIKeyCredentials struct {
	baseCredentials
	Key *models.APIKey
}

// NewAPIKeyCredentials wraps a resolved API key.
func NewAPIKeyCredentials(key *models.APIKey) *APIKeyCredentials {
	return &APIKeyCredentials{Key: key}
}

func (c *APIKeyCredentials) Authorize(method, resource string) bool {
	return policy.NewAllowlist(c.Key.Allowlist).Authorize(method, resource)
}

func (c *APIKeyCredentials) Dump() map[string]any {
	return map[string]any{
		"api_key": map[string]any{
			"id":   c.Key.ID,
			"name": c.Key.Name,
		},
	}
}

// TokenCredentials authenticates a connection with a token. Validity and
// liveness follow the token; authorization follows the token's parent,
// so a token is never more powerful than its issuer.
type TokenCredentials struct {
	baseCredentials
	Token    *Token
	registry *TokenRegistry
}

// NewTokenCredentials wraps token; logging out destroys it in registry.
func NewTokenCredentials(registry *TokenRegistry, token *Token) *TokenCredentials {
	return &TokenCredentials{Token: token, registry: registry}
}

func (c *TokenCredentials) IsValid() bool { return c.Token.IsValid() }

func (c *TokenCredentials) NotifyUsed() { c.Token.NotifyUsed() }

func (c *TokenCredentials) Authorize(method, resource string) bool {
	if c.Token.Parent == nil {
		return false
	}
	return c.Token.Parent.Authorize(method, resource)
}

func (c *TokenCredentials) Logout() {
	c.registry.Destroy(c.Token.ID)
}

func (c *TokenCredentials) Dump() map[string]any {
	return map[string]any{"parent": DumpCredentials(c.Token.Parent)}
}

// DumpCredentials returns the kind label and the variant's dump.
func DumpCredentials(c Credential) map[string]any {
	if c == nil {
		return map[string]any{"credentials": nil, "credentials_data": map[string]any{}}
	}
	return map[string]any{
		"credentials":      Label(c),
		"credentials_data": c.Dump(),
	}
}

// Label derives the credential kind label from the variant's type name:
// RootTCPSocketCredentials becomes ROOT_TCP_SOCKET.
func Label(c Credential) string {
	t := reflect.TypeOf(c)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return upperSnake(strings.TrimSuffix(t.Name(), "Credentials"))
}

// upperSnake converts a CamelCase identifier to UPPER_SNAKE_CASE,
// keeping acronym runs together (APIKey -> API_KEY).
func upperSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
