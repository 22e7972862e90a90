//go:build unix

package agent

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// pending reports whether the peer has sent bytes that are waiting in the
// socket's receive buffer, without consuming them or blocking.
func pending(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	var n int
	var perr error
	buf := make([]byte, 1)
	err = raw.Read(func(fd uintptr) bool {
		n, _, perr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	return err == nil && perr == nil && n > 0
}
