//go:build unix

package discovery

import (
	"syscall"
)

// reusePortControl lets multiple discovery sockets share one UDP port
// on the same host. Real deployments never need this (each node is a
// separate machine), but it keeps the production binding available for
// running several nodes in one process during tests and local
// multi-node rehearsals.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, soReusePort, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
