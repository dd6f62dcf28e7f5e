package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/org/authbroker/internal/origin"
	"github.com/org/authbroker/pkg/models"
)

var remote = origin.TCP{Addr: "10.0.0.5", Port: 51000}

func TestLoginWithPassword(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	conn := newFakeConn("c1", remote)
	ok, err := f.svc.Login(ctx, conn, "alice", "wrong", "")
	if err != nil || ok {
		t.Fatalf("wrong password: ok=%v err=%v", ok, err)
	}
	if conn.Authenticated() {
		t.Fatal("failed login must not authenticate")
	}

	ok, err = f.svc.Login(ctx, conn, "alice", "alicepw", "")
	if err != nil || !ok {
		t.Fatalf("login: ok=%v err=%v", ok, err)
	}
	if _, isPw := conn.Credentials().(*LoginPasswordCredentials); !isPw {
		t.Errorf("expected password credentials, got %T", conn.Credentials())
	}
}

func TestLoginDatastoreError(t *testing.T) {
	f := newFixture()
	f.accounts.err = errors.New("connection refused")

	ok, err := f.svc.Login(context.Background(), newFakeConn("c1", remote), "alice", "alicepw", "")
	if ok || err == nil {
		t.Fatalf("expected error, got ok=%v err=%v", ok, err)
	}
}

func TestLoginRequiresOTPWhenEnabled(t *testing.T) {
	f := newFixture()
	f.twoFactor.enabled = true
	f.twoFactor.validOTP = "123456"
	ctx := context.Background()
	conn := newFakeConn("c1", remote)

	ok, _ := f.svc.Login(ctx, conn, "alice", "alicepw", "000000")
	if ok {
		t.Fatal("wrong otp must fail")
	}

	ok, _ = f.svc.Login(ctx, conn, "alice", "nope", "123456")
	if ok {
		t.Fatal("wrong password must fail even with a valid otp")
	}
	if f.twoFactor.verifyCalls != 2 {
		t.Errorf("otp should be verified on every attempt, got %d calls", f.twoFactor.verifyCalls)
	}

	ok, _ = f.svc.Login(ctx, conn, "alice", "alicepw", "123456")
	if !ok || !conn.Authenticated() {
		t.Fatal("correct password and otp should log in")
	}
}

func TestLoginSkipsOTPWhenDisabled(t *testing.T) {
	f := newFixture()
	ok, _ := f.svc.Login(context.Background(), newFakeConn("c1", remote), "alice", "alicepw", "")
	if !ok {
		t.Fatal("login should succeed without otp")
	}
	if f.twoFactor.verifyCalls != 0 {
		t.Error("otp must not be checked while two-factor is disabled")
	}
}

func TestCheckPasswordDoesNotLogin(t *testing.T) {
	f := newFixture()
	ok, err := f.svc.CheckPassword(context.Background(), "root", "rootpw")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if f.sessions.Len() != 0 {
		t.Error("check_password must not create a session")
	}
}

func TestLoginWithAPIKey(t *testing.T) {
	f := newFixture()
	key := &models.APIKey{ID: 3, Name: "ci", Allowlist: []models.AllowlistEntry{{Method: models.MethodCall, Resource: "pool.query"}}}
	f.keys.keys["3-secret"] = key
	ctx := context.Background()

	conn := newFakeConn("c1", remote)
	if ok, _ := f.svc.LoginWithAPIKey(ctx, conn, "3-bogus"); ok {
		t.Fatal("unknown key must not log in")
	}
	ok, err := f.svc.LoginWithAPIKey(ctx, conn, "3-secret")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	cred := conn.Credentials()
	if !cred.Authorize(models.MethodCall, "pool.query") || cred.Authorize(models.MethodCall, "pool.create") {
		t.Error("api key credential should follow the key allowlist")
	}
}

func TestGenerateTokenRequiresAuthentication(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GenerateToken(newFakeConn("c1", remote), 0, nil, false)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestGenerateTokenDefaults(t *testing.T) {
	f := newFixture()
	conn := newFakeConn("c1", remote)
	f.sessions.Login(conn, userCred(f, "alice"))

	id, err := f.svc.GenerateToken(conn, 0, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	token := f.tokens.Get(id, remote)
	if token == nil {
		t.Fatal("token should be redeemable from the issuing origin")
	}
	if token.TTL != DefaultTokenTTL {
		t.Errorf("expected default ttl %v, got %v", DefaultTokenTTL, token.TTL)
	}
	if token.Parent != conn.Credentials() {
		t.Error("token parent should be the issuing credential")
	}
	if f.tokens.Get(id, origin.TCP{Addr: "10.0.0.6", Port: 51000}) != nil {
		t.Error("token pinned to origin must not be redeemable elsewhere")
	}
}

func TestLoginWithToken(t *testing.T) {
	f := newFixture()
	issuer := newFakeConn("c1", remote)
	f.sessions.Login(issuer, userCred(f, "alice"))

	plain, _ := f.svc.GenerateToken(issuer, time.Minute, nil, false)
	scoped, _ := f.svc.GenerateToken(issuer, time.Minute, map[string]any{"filename": "debug.tgz"}, false)

	conn := newFakeConn("c2", remote)
	if f.svc.LoginWithToken(conn, scoped) {
		t.Error("token with attributes must not log in")
	}
	if f.svc.LoginWithToken(conn, "missing") {
		t.Error("unknown token must not log in")
	}
	if !f.svc.LoginWithToken(conn, plain) {
		t.Fatal("plain token should log in")
	}
	if _, ok := conn.Credentials().(*TokenCredentials); !ok {
		t.Errorf("expected token credentials, got %T", conn.Credentials())
	}

	// Logging the token session out destroys the token.
	f.svc.Logout(conn)
	if f.tokens.Get(plain, remote) != nil {
		t.Error("token should be destroyed when its session logs out")
	}
}

func TestTokenAuthorizationFollowsParent(t *testing.T) {
	f := newFixture()
	key := &models.APIKey{ID: 7, Name: "automation", Allowlist: []models.AllowlistEntry{{Method: models.MethodCall, Resource: "system.info"}}}
	f.keys.keys["7-k"] = key
	ctx := context.Background()

	issuer := newFakeConn("c1", remote)
	f.svc.LoginWithAPIKey(ctx, issuer, "7-k")
	id, _ := f.svc.GenerateToken(issuer, time.Minute, nil, false)

	conn := newFakeConn("c2", remote)
	f.svc.LoginWithToken(conn, id)
	cred := conn.Credentials()

	if !cred.Authorize(models.MethodCall, "system.info") {
		t.Fatal("token should inherit parent authorization")
	}
	key.Allowlist = nil
	if cred.Authorize(models.MethodCall, "system.info") {
		t.Error("revoking the key allowlist should revoke the token")
	}
}

func TestTokenForAction(t *testing.T) {
	f := newFixture()
	issuer := newFakeConn("c1", remote)
	f.sessions.Login(issuer, userCred(f, "alice"))
	id, _ := f.svc.GenerateToken(issuer, time.Minute, nil, false)

	if f.svc.TokenForAction(id, remote, models.MethodCall, "system.info") == nil {
		t.Error("allowed action should resolve")
	}
	if f.svc.TokenForAction(id, remote, models.MethodCall, "user.delete") != nil {
		t.Error("action outside the allowlist must not resolve")
	}
	if f.sessions.Len() != 1 {
		t.Error("token for action must not create a session")
	}
}

func TestTokenForShell(t *testing.T) {
	f := newFixture()
	rootConn := newFakeConn("c1", remote)
	f.sessions.Login(rootConn, userCred(f, "root"))
	aliceConn := newFakeConn("c2", remote)
	f.sessions.Login(aliceConn, userCred(f, "alice"))

	rootToken, _ := f.svc.GenerateToken(rootConn, time.Minute, nil, false)
	aliceToken, _ := f.svc.GenerateToken(aliceConn, time.Minute, nil, false)

	// Delegate once more to check the chain is unwrapped.
	delegated := newFakeConn("c3", remote)
	f.svc.LoginWithToken(delegated, rootToken)
	chained, _ := f.svc.GenerateToken(delegated, time.Minute, nil, false)

	if name, ok := f.svc.TokenForShell(chained, remote); !ok || name != "root" {
		t.Errorf("expected root shell, got %q %v", name, ok)
	}
	if _, ok := f.svc.TokenForShell(aliceToken, remote); ok {
		t.Error("privilege without web shell must be refused")
	}
}

func TestTokenForShellRejectsNonUserRoot(t *testing.T) {
	f := newFixture()
	conn := newFakeConn("c1", origin.TCP{Addr: "127.0.0.1", Port: 40000})
	f.sessions.Login(conn, &RootTCPSocketCredentials{})
	id, _ := f.svc.GenerateToken(conn, time.Minute, nil, false)

	if _, ok := f.svc.TokenForShell(id, remote); ok {
		t.Error("only user sessions may open a shell")
	}
}

func TestTerminateSession(t *testing.T) {
	f := newFixture()
	conn := newFakeConn("c1", remote)
	f.sessions.Login(conn, userCred(f, "alice"))

	ok, err := f.svc.TerminateSession("c1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !conn.Closed() || f.sessions.Len() != 0 {
		t.Error("terminated session should be closed and removed")
	}

	ok, err = f.svc.TerminateSession("c1")
	if err != nil || ok {
		t.Errorf("unknown session: ok=%v err=%v", ok, err)
	}
}

func TestTerminateOtherSessions(t *testing.T) {
	f := newFixture()
	self := newFakeConn("self", remote)
	f.sessions.Login(self, userCred(f, "root"))
	other := newFakeConn("other", remote)
	f.sessions.Login(other, userCred(f, "alice"))
	internal := newFakeConn("internal", origin.UnixSocket{PID: 1, UID: 0})
	f.sessions.Login(internal, NewUnixSocketCredentials(f.accounts.root))

	if err := f.svc.TerminateOtherSessions(self); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if self.Closed() || internal.Closed() {
		t.Error("current and internal sessions must be left alone")
	}
	if !other.Closed() {
		t.Error("other session should be closed")
	}
	if f.sessions.Len() != 2 {
		t.Errorf("expected 2 sessions left, got %d", f.sessions.Len())
	}
}

func TestTerminateOtherSessionsAggregatesErrors(t *testing.T) {
	f := newFixture()
	self := newFakeConn("self", remote)
	f.sessions.Login(self, userCred(f, "root"))
	stuck := newFakeConn("stuck", remote)
	stuck.closeErr = errors.New("socket busy")
	f.sessions.Login(stuck, userCred(f, "alice"))
	fine := newFakeConn("fine", remote)
	f.sessions.Login(fine, userCred(f, "alice"))

	err := f.svc.TerminateOtherSessions(self)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "socket busy") {
		t.Errorf("error should carry the close failure: %v", err)
	}
	if !fine.Closed() {
		t.Error("one failure must not stop the remaining terminations")
	}
}

func TestServiceLogoutAlwaysSucceeds(t *testing.T) {
	f := newFixture()
	if !f.svc.Logout(newFakeConn("c1", remote)) {
		t.Error("logout of an unauthenticated connection should succeed")
	}
}
