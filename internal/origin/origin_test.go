package origin

import (
	"net"
	"testing"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name  string
		a, b  Origin
		match bool
	}{
		{"same uid", UnixSocket{PID: 10, UID: 1000}, UnixSocket{PID: 99, UID: 1000}, true},
		{"different uid", UnixSocket{UID: 1000}, UnixSocket{UID: 1001}, false},
		{"same addr different port", TCP{Addr: "10.0.0.5", Port: 4000}, TCP{Addr: "10.0.0.5", Port: 5000}, true},
		{"different addr", TCP{Addr: "10.0.0.5"}, TCP{Addr: "10.0.0.6"}, false},
		{"unix vs tcp", UnixSocket{UID: 0}, TCP{Addr: "127.0.0.1"}, false},
		{"tcp vs unix", TCP{Addr: "127.0.0.1"}, UnixSocket{UID: 0}, false},
		{"nil", TCP{Addr: "127.0.0.1"}, nil, false},
	}
	for _, tc := range cases {
		if got := tc.a.Match(tc.b); got != tc.match {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.match, got)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":   true,
		"127.10.20.1": true,
		"::1":         true,
		"10.0.0.1":    false,
		"::2":         false,
		"128.0.0.1":   false,
		"not-an-ip":   false,
	}
	for addr, want := range cases {
		if got := (TCP{Addr: addr}).IsLoopback(); got != want {
			t.Errorf("%s: expected %v, got %v", addr, want, got)
		}
	}
}

func TestIsHAConnection(t *testing.T) {
	cases := []struct {
		addr string
		port int
		want bool
	}{
		{"169.254.10.1", 1023, true},
		{"169.254.10.2", 1024, true},
		{"169.254.10.2", 1025, false},
		{"169.254.10.3", 600, false},
		{"127.0.0.1", 600, false},
	}
	for _, tc := range cases {
		if got := IsHAConnection(tc.addr, tc.port); got != tc.want {
			t.Errorf("%s:%d: expected %v, got %v", tc.addr, tc.port, tc.want, got)
		}
	}
}

func TestString(t *testing.T) {
	if got := (TCP{Addr: "::1", Port: 8080}).String(); got != "[::1]:8080" {
		t.Errorf("unexpected tcp string %q", got)
	}
	if got := (UnixSocket{PID: 1, UID: 2, GID: 3}).String(); got != "UNIX socket (pid=1, uid=2, gid=3)" {
		t.Errorf("unexpected unix string %q", got)
	}
}

func TestFromTCPAddr(t *testing.T) {
	o, ok := FromTCPAddr(&net.TCPAddr{IP: net.ParseIP("192.168.1.4"), Port: 51000})
	if !ok || o.Addr != "192.168.1.4" || o.Port != 51000 {
		t.Errorf("unexpected origin %+v ok=%v", o, ok)
	}
	if _, ok := FromTCPAddr(&net.UnixAddr{Name: "/tmp/x"}); ok {
		t.Error("unix address should not convert")
	}
}
