package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/org/authbroker/internal/origin"
)

func TestOnCloseAfterCloseRunsImmediately(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := newConn(server, origin.TCP{Addr: "10.0.0.5", Port: 40000})

	before := 0
	conn.OnClose(func() { before++ })
	conn.Close() //nolint:errcheck
	conn.Close() //nolint:errcheck
	if before != 1 {
		t.Errorf("close hook ran %d times, want 1", before)
	}

	after := false
	conn.OnClose(func() { after = true })
	if !after {
		t.Error("hook registered on a closed connection should run at once")
	}
	if !conn.Closed() {
		t.Error("Closed should report true")
	}
}

func TestElevationAfterCloseLeavesNoSession(t *testing.T) {
	e := newTestEnv(t, Config{})
	server, client := net.Pipe()
	defer client.Close()
	conn := newConn(server, origin.UnixSocket{PID: 1, UID: 0})

	// Shutdown got to the connection before its connect handler ran.
	conn.Close() //nolint:errcheck
	e.srv.elevator.OnConnect(context.Background(), conn)

	if n := e.srv.ActiveSessions(); n != 0 {
		t.Errorf("closed connection left %d session(s)", n)
	}
	if conn.Authenticated() {
		t.Error("closed connection must not be authenticated")
	}
}

func TestLoginOnTerminatedConnectionFails(t *testing.T) {
	e := newTestEnv(t, Config{})
	server, client := net.Pipe()
	defer client.Close()
	conn := newConn(server, origin.TCP{Addr: "10.0.0.5", Port: 40000})

	ctx := context.Background()
	if ok, err := e.srv.svc.Login(ctx, conn, "alice", "alicepw", ""); err != nil || !ok {
		t.Fatalf("login: ok=%v err=%v", ok, err)
	}
	if ok, err := e.srv.svc.TerminateSession(conn.SessionID()); err != nil || !ok {
		t.Fatalf("terminate: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.srv.svc.Login(ctx, conn, "alice", "alicepw", ""); ok {
		t.Error("login on a terminated connection should fail")
	}
	if n := e.srv.ActiveSessions(); n != 0 {
		t.Errorf("terminated connection left %d session(s)", n)
	}
}
