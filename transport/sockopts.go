//go:build linux || darwin

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortAvailable is true on platforms where golang.org/x/sys/unix
// exposes SO_REUSEPORT; every bind adapter below gets its own listening
// socket only when this holds, per the accept_thread_num contract.
const reusePortAvailable = true

// listenConfig returns a net.ListenConfig whose Control callback sets
// SO_REUSEPORT, letting N bind adapters each own a listener on the same
// address instead of fanning out accepts from a single shared listener.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// setConnSockOpts applies TCP_NODELAY and SO_KEEPALIVE directly via
// setsockopt, then runs any caller-supplied custom hook.
func setConnSockOpts(nc net.Conn, custom func(fd uintptr) error) error {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	cerr := raw.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); sockErr != nil {
			return
		}
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); sockErr != nil {
			return
		}
		if custom != nil {
			sockErr = custom(fd)
		}
	})
	if cerr != nil {
		return cerr
	}
	return sockErr
}
