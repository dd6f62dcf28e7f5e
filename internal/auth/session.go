package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/events"
	"github.com/org/authbroker/internal/origin"
	"github.com/rs/zerolog/log"
)

// SessionsCollection is the event collection for session lifecycle.
const SessionsCollection = "auth.sessions"

// Conn is the connection abstraction supplied by the RPC layer.
//
// Hooks registered with OnMessage and OnClose must be invoked without
// holding any lock the connection's other methods take. The transport
// delivers message notifications serially per connection.
type Conn interface {
	SessionID() string
	Origin() origin.Origin
	Authenticated() bool
	Credentials() Credential
	// SetCredentials stores the connection's credential; nil marks it
	// unauthenticated.
	SetCredentials(c Credential)
	OnMessage(fn func())
	// OnClose registers fn to run once the connection closes. On a
	// connection that is already closed fn runs immediately.
	OnClose(fn func())
	// Closed reports whether Close has been called.
	Closed() bool
	// Close force-closes the transport, which fires the close hooks.
	Close() error
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(collection string, kind events.Kind, fields any)
}

// Session is one live authenticated connection.
type Session struct {
	Conn      Conn
	CreatedAt time.Time

	seq         uint64
	credentials Credential
	// announced is set between a published ADDED and its REMOVED.
	announced   bool
}

// SessionInfo is the observable shape of a session, used for listings
// and lifecycle events.
type SessionInfo struct {
	ID              string         `json:"id"`
	Current         bool           `json:"current"`
	Internal        bool           `json:"internal"`
	Origin          string         `json:"origin"`
	Credentials     string         `json:"credentials"`
	CredentialsData map[string]any `json:"credentials_data"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SessionFilter selects sessions in a listing.
type SessionFilter func(SessionInfo) bool

// ExcludeInternal drops sessions belonging to local or peer infrastructure.
func ExcludeInternal(s SessionInfo) bool { return !s.Internal }

// SessionRegistry is the authoritative map of connection id to session.
// Its lock covers one key's read-modify-write and is never held while
// publishing events or calling credential logout hooks.
type SessionRegistry struct {
	clock     clock.Clock
	publisher Publisher

	mu       sync.Mutex
	sessions map[string]*Session
	hooked   map[string]bool
	seq      uint64

	// pubMu is taken before mu is released so lifecycle events go out in
	// the order the registry changed.
	pubMu sync.Mutex
}

// NewSessionRegistry creates an empty registry. publisher may be nil.
func NewSessionRegistry(c clock.Clock, publisher Publisher) *SessionRegistry {
	return &SessionRegistry{
		clock:     c,
		publisher: publisher,
		sessions:  make(map[string]*Session),
		hooked:    make(map[string]bool),
	}
}

// Login attaches cred to conn and reports whether it did. A connection
// that already has a session keeps it and only has its credential
// replaced. A closed connection is never attached.
func (r *SessionRegistry) Login(conn Conn, cred Credential) bool {
	id := conn.SessionID()

	r.mu.Lock()
	hook := !r.hooked[id]
	r.hooked[id] = true
	r.mu.Unlock()

	// Hooks go in before the session exists: a close that lands after the
	// Closed check below is guaranteed to run onClose.
	if hook {
		conn.OnMessage(func() { r.OnMessage(conn) })
		conn.OnClose(func() { r.onClose(conn) })
	}

	r.mu.Lock()
	if conn.Closed() {
		conn.SetCredentials(nil)
		r.mu.Unlock()
		log.Debug().Str("session", id).Msg("login on closed connection ignored")
		return false
	}
	s, ok := r.sessions[id]
	if !ok {
		r.seq++
		s = &Session{Conn: conn, CreatedAt: r.clock.Now(), seq: r.seq}
		r.sessions[id] = s
	}
	s.credentials = cred
	conn.SetCredentials(cred)
	info := r.infoLocked(s, "")
	kind, emit := s.announce(info.Internal)
	r.pubMu.Lock()
	r.mu.Unlock()

	if emit {
		if kind == events.Added {
			log.Info().Str("session", id).Str("origin", info.Origin).Str("credentials", info.Credentials).Msg("session added")
		}
		r.publish(kind, info)
	}
	r.pubMu.Unlock()
	return true
}

// announce keeps subscribers' view of s in step with its visibility.
// A relogin can flip a session between internal and visible, in which
// case it is announced or withdrawn accordingly.
func (s *Session) announce(internal bool) (events.Kind, bool) {
	switch {
	case !internal && !s.announced:
		s.announced = true
		return events.Added, true
	case internal && s.announced:
		s.announced = false
		return events.Removed, true
	}
	return "", false
}

// OnMessage re-validates the session on every inbound message.
func (r *SessionRegistry) OnMessage(conn Conn) {
	r.mu.Lock()
	s, ok := r.sessions[conn.SessionID()]
	if ok && s.credentials.IsValid() {
		s.credentials.NotifyUsed()
		r.mu.Unlock()
		return
	}
	r.removeAndUnlock(conn)
}

// Logout removes the connection's session, if any, and marks the
// connection unauthenticated. Safe to call any number of times.
func (r *SessionRegistry) Logout(conn Conn) {
	r.mu.Lock()
	r.removeAndUnlock(conn)
}

func (r *SessionRegistry) onClose(conn Conn) {
	r.Logout(conn)

	r.mu.Lock()
	delete(r.hooked, conn.SessionID())
	r.mu.Unlock()
}

// removeAndUnlock deletes conn's session, if any, and marks conn
// unauthenticated. Caller holds r.mu; it is released before the
// credential's logout runs.
func (r *SessionRegistry) removeAndUnlock(conn Conn) {
	id := conn.SessionID()
	conn.SetCredentials(nil)
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	info := r.infoLocked(s, "")
	delete(r.sessions, id)
	announced := s.announced
	s.announced = false
	r.pubMu.Lock()
	r.mu.Unlock()

	if announced {
		log.Info().Str("session", id).Msg("session removed")
		r.publish(events.Removed, info)
	}
	r.pubMu.Unlock()

	s.credentials.Logout()
}

func (r *SessionRegistry) publish(kind events.Kind, info SessionInfo) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(SessionsCollection, kind, info)
}

// List returns a snapshot of sessions ordered by creation time. current
// is the caller's connection id; filter may be nil.
func (r *SessionRegistry) List(current string, filter SessionFilter) []SessionInfo {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].seq < all[j].seq
	})
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		info := r.infoLocked(s, current)
		if filter == nil || filter(info) {
			out = append(out, info)
		}
	}
	r.mu.Unlock()
	return out
}

// Lookup returns the connection and internal flag for a session id.
func (r *SessionRegistry) Lookup(id string) (Conn, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, false
	}
	return s.Conn, isInternal(s), true
}

// Credentials returns the current credential of a session.
func (r *SessionRegistry) Credentials(id string) (Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.credentials, true
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) infoLocked(s *Session, current string) SessionInfo {
	id := s.Conn.SessionID()
	dump := DumpCredentials(s.credentials)
	data, _ := dump["credentials_data"].(map[string]any)
	label, _ := dump["credentials"].(string)
	return SessionInfo{
		ID:              id,
		Current:         id == current,
		Internal:        isInternal(s),
		Origin:          originString(s.Conn.Origin()),
		Credentials:     label,
		CredentialsData: data,
		CreatedAt:       s.CreatedAt,
	}
}

// isInternal reports whether a session belongs to trusted local or peer
// infrastructure rather than an end user.
func isInternal(s *Session) bool {
	if u, ok := s.Conn.Origin().(origin.UnixSocket); ok && u.IsRoot() {
		return true
	}
	switch s.credentials.(type) {
	case *RootTCPSocketCredentials, *NodeCredentials:
		return true
	}
	return false
}

func originString(o origin.Origin) string {
	if o == nil {
		return ""
	}
	return o.String()
}
