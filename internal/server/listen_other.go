//go:build !linux && !darwin && !freebsd

package server

import "syscall"

// controlFunc leaves socket options at their platform defaults.
func controlFunc(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
