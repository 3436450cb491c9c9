//go:build !linux && !darwin

package transport

import "net"

// reusePortAvailable is false on platforms without a SO_REUSEPORT
// binding in golang.org/x/sys/unix; Bind returns a config error for
// accept_thread_num>1 in that case instead of asserting.
const reusePortAvailable = false

func listenConfig() net.ListenConfig { return net.ListenConfig{} }

func setConnSockOpts(nc net.Conn, custom func(fd uintptr) error) error {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}
	return nil
}
