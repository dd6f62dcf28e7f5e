package peercred

import (
	"fmt"
	"net"

	"github.com/org/authbroker/internal/origin"
	"golang.org/x/sys/unix"
)

// UnixPeer reads SO_PEERCRED from an accepted unix socket.
func UnixPeer(conn *net.UnixConn) (origin.UnixSocket, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return origin.UnixSocket{}, err
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return origin.UnixSocket{}, err
	}
	if credErr != nil {
		return origin.UnixSocket{}, fmt.Errorf("reading peer credentials: %w", credErr)
	}
	return origin.UnixSocket{PID: int(cred.Pid), UID: int(cred.Uid), GID: int(cred.Gid)}, nil
}
