//go:build !windows

package discovery

import "syscall"

// enableBroadcast is the ListenConfig control hook that flips
// SO_BROADCAST on the socket before bind.
func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
