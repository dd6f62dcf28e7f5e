package rpc

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/org/authbroker/internal/auth"
	"github.com/org/authbroker/internal/origin"
)

// Conn is one client connection. It carries the authentication state
// the session registry manipulates and serializes writes to the socket.
type Conn struct {
	id     string
	origin origin.Origin
	nc     net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu        sync.Mutex
	cred      auth.Credential
	onMessage []func()
	onClose   []func()
	closed    bool
	subs      map[string]func()
}

var _ auth.Conn = (*Conn)(nil)

func newConn(nc net.Conn, o origin.Origin) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		origin: o,
		nc:     nc,
		enc:    json.NewEncoder(nc),
		subs:   make(map[string]func()),
	}
}

func (c *Conn) SessionID() string     { return c.id }
func (c *Conn) Origin() origin.Origin { return c.origin }

func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred != nil
}

func (c *Conn) Credentials() auth.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

func (c *Conn) SetCredentials(cred auth.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
}

func (c *Conn) OnMessage(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messageReceived runs the message hooks. Hooks take registry locks, so
// they run without c.mu held.
func (c *Conn) messageReceived() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onMessage...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Close shuts the socket, cancels subscriptions, and runs the close
// hooks. Only the first call has any effect.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := append([]func(){}, c.onClose...)
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	err := c.nc.Close()
	for _, cancel := range subs {
		cancel()
	}
	for _, fn := range hooks {
		fn()
	}
	return err
}

func (c *Conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(v)
}

// addSubscription records cancel under id. It reports false if the
// connection is already closed, in which case cancel has been called.
func (c *Conn) addSubscription(id string, cancel func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return false
	}
	c.subs[id] = cancel
	c.mu.Unlock()
	return true
}

func (c *Conn) removeSubscription(id string) bool {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
