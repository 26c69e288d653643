//go:build !linux

package udpio

import "net"

// applySocketOptions is a no-op on platforms where we don't bother tuning
// socket options beyond Go's defaults.
func applySocketOptions(conn *net.UDPConn) {}
