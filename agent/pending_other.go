//go:build !unix

package agent

import "net"

// pending is not implemented on this platform; only bytes already read into
// the worker's buffer count as waiting input.
func pending(net.Conn) bool { return false }
