package auth

import (
	"context"

	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/pkg/models"
	"github.com/rs/zerolog/log"
)

// AccountResolver resolves identities from the account store. Methods
// return (nil, nil) when the account does not exist or the password
// does not match.
type AccountResolver interface {
	ResolveRootIdentity(ctx context.Context) (*models.User, error)
	ResolveLocalUser(ctx context.Context, uid int) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// PeerResolver returns the effective uid of the process on the other
// end of a loopback TCP connection.
type PeerResolver interface {
	TCPPeerEUID(addr string, port int) (int, error)
}

// Elevator grants automatic trust to new connections based on where
// they came from. Every failure leaves the connection unauthenticated.
type Elevator struct {
	sessions     *SessionRegistry
	accounts     AccountResolver
	peers        PeerResolver
	trustHAPeers bool
}

// NewElevator creates an Elevator. When trustHAPeers is set, connections
// from the HA interconnect are elevated to the node credential.
func NewElevator(sessions *SessionRegistry, accounts AccountResolver, peers PeerResolver, trustHAPeers bool) *Elevator {
	return &Elevator{sessions: sessions, accounts: accounts, peers: peers, trustHAPeers: trustHAPeers}
}

// OnConnect runs once per new connection, before any explicit login.
func (e *Elevator) OnConnect(ctx context.Context, conn Conn) {
	cred := e.classify(ctx, conn.Origin())
	if cred == nil {
		return
	}
	e.sessions.Login(conn, cred)
}

func (e *Elevator) classify(ctx context.Context, o origin.Origin) Credential {
	switch o := o.(type) {
	case origin.UnixSocket:
		return e.classifyUnix(ctx, o)
	case origin.TCP:
		return e.classifyTCP(o)
	}
	return nil
}

func (e *Elevator) classifyUnix(ctx context.Context, o origin.UnixSocket) Credential {
	if o.IsRoot() {
		user, err := e.accounts.ResolveRootIdentity(ctx)
		if err != nil || user == nil {
			log.Warn().Err(err).Msg("unable to resolve root identity for unix socket peer")
			return nil
		}
		return NewUnixSocketCredentials(user)
	}

	user, err := e.accounts.ResolveLocalUser(ctx, o.UID)
	if err != nil {
		log.Debug().Err(err).Int("uid", o.UID).Msg("local user lookup failed")
		return nil
	}
	if user == nil {
		return nil
	}
	return NewUnixSocketCredentials(user)
}

func (e *Elevator) classifyTCP(o origin.TCP) Credential {
	if e.trustHAPeers && o.IsHAPeer() {
		return &NodeCredentials{}
	}
	if !o.IsLoopback() || e.peers == nil {
		return nil
	}

	// Walks the process table on every loopback connect; not cached.
	uid, err := e.peers.TCPPeerEUID(o.Addr, o.Port)
	if err != nil {
		log.Debug().Err(err).Str("origin", o.String()).Msg("loopback peer process not identified")
		return nil
	}
	if uid != 0 {
		return nil
	}
	return &RootTCPSocketCredentials{}
}
