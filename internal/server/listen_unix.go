//go:build linux || darwin || freebsd

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlFunc sets SO_REUSEADDR, and SO_REUSEPORT when reusePort is set,
// on the listening socket before bind.
func controlFunc(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if sockErr == nil && reusePort {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
