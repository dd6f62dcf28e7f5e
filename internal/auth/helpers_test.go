package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/events"
	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/pkg/models"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// --- fake connection ---

type fakeConn struct {
	id     string
	origin origin.Origin

	mu        sync.Mutex
	cred      Credential
	onMessage []func()
	onClose   []func()
	closed    bool
	closeErr  error
}

func newFakeConn(id string, o origin.Origin) *fakeConn {
	return &fakeConn{id: id, origin: o}
}

func (c *fakeConn) SessionID() string     { return c.id }
func (c *fakeConn) Origin() origin.Origin { return c.origin }

func (c *fakeConn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred != nil
}

func (c *fakeConn) Credentials() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

func (c *fakeConn) SetCredentials(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
}

func (c *fakeConn) OnMessage(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *fakeConn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// message simulates an inbound RPC message.
func (c *fakeConn) message() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onMessage...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closeErr != nil {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := append([]func(){}, c.onClose...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// --- recording publisher ---

type publishedEvent struct {
	kind events.Kind
	info SessionInfo
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(collection string, kind events.Kind, fields any) {
	if collection != SessionsCollection {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{kind: kind, info: fields.(SessionInfo)})
}

func (p *recordingPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent{}, p.events...)
}

// --- account store ---

type memAccounts struct {
	root      *models.User
	byUID     map[int]*models.User
	passwords map[string]string
	users     map[string]*models.User
	err       error
	authCalls int
}

func newMemAccounts() *memAccounts {
	root := &models.User{ID: 1, UID: 0, Username: "root", Privilege: models.Privilege{
		Name:      "full_admin",
		Allowlist: []models.AllowlistEntry{{Method: models.MethodAny, Resource: "*"}},
		WebShell:  true,
	}}
	alice := &models.User{ID: 2, UID: 1000, Username: "alice", Privilege: models.Privilege{
		Name:      "readonly",
		Allowlist: []models.AllowlistEntry{{Method: models.MethodCall, Resource: "system.*"}},
	}}
	return &memAccounts{
		root:      root,
		byUID:     map[int]*models.User{0: root, 1000: alice},
		users:     map[string]*models.User{"root": root, "alice": alice},
		passwords: map[string]string{"root": "rootpw", "alice": "alicepw"},
	}
}

func (m *memAccounts) ResolveRootIdentity(context.Context) (*models.User, error) {
	return m.root, m.err
}

func (m *memAccounts) ResolveLocalUser(_ context.Context, uid int) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byUID[uid], nil
}

func (m *memAccounts) Authenticate(_ context.Context, username, password string) (*models.User, error) {
	m.authCalls++
	if m.err != nil {
		return nil, m.err
	}
	if pw, ok := m.passwords[username]; ok && pw == password {
		return m.users[username], nil
	}
	return nil, nil
}

// --- api keys ---

type memKeys struct {
	keys map[string]*models.APIKey
}

func (m *memKeys) AuthenticateAPIKey(_ context.Context, key string) (*models.APIKey, error) {
	return m.keys[key], nil
}

// --- two-factor gate ---

type fakeTwoFactor struct {
	enabled     bool
	validOTP    string
	verifyCalls int
	lastOTP     string
}

func (f *fakeTwoFactor) Enabled(context.Context) (bool, error) { return f.enabled, nil }

func (f *fakeTwoFactor) Verify(_ context.Context, otp string) (bool, error) {
	f.verifyCalls++
	f.lastOTP = otp
	return otp == f.validOTP, nil
}

// --- peer resolver ---

type fakePeers struct {
	uid   int
	err   error
	calls int
}

func (p *fakePeers) TCPPeerEUID(string, int) (int, error) {
	p.calls++
	return p.uid, p.err
}

var errPeerGone = errors.New("process vanished")

// --- fixture ---

type fixture struct {
	clock     *clock.FakeClock
	publisher *recordingPublisher
	sessions  *SessionRegistry
	tokens    *TokenRegistry
	accounts  *memAccounts
	keys      *memKeys
	twoFactor *fakeTwoFactor
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		clock:     clock.Fake(testEpoch),
		publisher: &recordingPublisher{},
		accounts:  newMemAccounts(),
		keys:      &memKeys{keys: map[string]*models.APIKey{}},
		twoFactor: &fakeTwoFactor{},
	}
	f.sessions = NewSessionRegistry(f.clock, f.publisher)
	f.tokens = NewTokenRegistry(f.clock)
	f.svc = NewService(f.sessions, f.tokens, f.accounts, f.keys, f.twoFactor, 0)
	return f
}

func userCred(f *fixture, name string) *LoginPasswordCredentials {
	return NewLoginPasswordCredentials(f.accounts.users[name])
}
