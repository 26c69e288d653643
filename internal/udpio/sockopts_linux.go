//go:build linux

package udpio

import (
	"net"

	"golang.org/x/sys/unix"
)

// applySocketOptions enables SO_REUSEADDR so a restarted process can rebind
// the same port immediately rather than waiting out TIME_WAIT.
func applySocketOptions(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}
