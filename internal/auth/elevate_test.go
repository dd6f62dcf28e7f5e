package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/org/authbroker/internal/origin"
)

func TestElevateUnixSocket(t *testing.T) {
	cases := []struct {
		name     string
		uid      int
		username string
	}{
		{"root peer", 0, "root"},
		{"local account", 1000, "alice"},
		{"no account", 4242, ""},
	}
	for _, tc := range cases {
		f := newFixture()
		e := NewElevator(f.sessions, f.accounts, &fakePeers{}, false)
		conn := newFakeConn("c1", origin.UnixSocket{PID: 100, UID: tc.uid})

		e.OnConnect(context.Background(), conn)

		if tc.username == "" {
			if conn.Authenticated() || f.sessions.Len() != 0 {
				t.Errorf("%s: connection should stay unauthenticated", tc.name)
			}
			continue
		}
		cred, ok := conn.Credentials().(*UnixSocketCredentials)
		if !ok {
			t.Fatalf("%s: expected unix socket credentials, got %T", tc.name, conn.Credentials())
		}
		if cred.User.Username != tc.username {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.username, cred.User.Username)
		}
	}
}

func TestElevateUnixSocketLookupError(t *testing.T) {
	f := newFixture()
	f.accounts.err = errors.New("datastore unavailable")
	e := NewElevator(f.sessions, f.accounts, &fakePeers{}, false)

	for _, uid := range []int{0, 1000} {
		conn := newFakeConn("c1", origin.UnixSocket{UID: uid})
		e.OnConnect(context.Background(), conn)
		if conn.Authenticated() {
			t.Errorf("uid %d: lookup failure must not elevate", uid)
		}
	}
}

func TestElevateLoopbackTCP(t *testing.T) {
	cases := []struct {
		name     string
		addr     string
		peers    *fakePeers
		elevated bool
		lookedUp bool
	}{
		{"root process on 127.0.0.1", "127.0.0.1", &fakePeers{uid: 0}, true, true},
		{"root process on ::1", "::1", &fakePeers{uid: 0}, true, true},
		{"unprivileged process", "127.0.0.1", &fakePeers{uid: 1000}, false, true},
		{"process vanished", "127.0.0.1", &fakePeers{err: errPeerGone}, false, true},
		{"remote address", "192.168.0.10", &fakePeers{uid: 0}, false, false},
	}
	for _, tc := range cases {
		f := newFixture()
		e := NewElevator(f.sessions, f.accounts, tc.peers, false)
		conn := newFakeConn("c1", origin.TCP{Addr: tc.addr, Port: 45000})

		e.OnConnect(context.Background(), conn)

		_, isRoot := conn.Credentials().(*RootTCPSocketCredentials)
		if isRoot != tc.elevated {
			t.Errorf("%s: expected elevated=%v", tc.name, tc.elevated)
		}
		if (tc.peers.calls > 0) != tc.lookedUp {
			t.Errorf("%s: expected lookup=%v", tc.name, tc.lookedUp)
		}
		if tc.elevated && len(f.publisher.all()) != 0 {
			t.Errorf("%s: root tcp session is internal and must not publish", tc.name)
		}
	}
}

func TestElevateHAPeer(t *testing.T) {
	ha := origin.TCP{Addr: "169.254.10.1", Port: 700}

	f := newFixture()
	NewElevator(f.sessions, f.accounts, &fakePeers{}, false).OnConnect(context.Background(), newFakeConn("c1", ha))
	if f.sessions.Len() != 0 {
		t.Error("HA peers are not trusted unless configured")
	}

	f = newFixture()
	conn := newFakeConn("c2", ha)
	NewElevator(f.sessions, f.accounts, &fakePeers{}, true).OnConnect(context.Background(), conn)
	if _, ok := conn.Credentials().(*NodeCredentials); !ok {
		t.Errorf("expected node credentials, got %T", conn.Credentials())
	}

	f = newFixture()
	conn = newFakeConn("c3", origin.TCP{Addr: "169.254.10.1", Port: 40000})
	NewElevator(f.sessions, f.accounts, &fakePeers{}, true).OnConnect(context.Background(), conn)
	if conn.Authenticated() {
		t.Error("unprivileged source port must not be treated as HA peer")
	}
}
