//go:build windows

package udpconn

import (
	"errors"
	"net"
)

// actualBufferSizes is not implemented on Windows: there is no portable
// getsockopt wrapper for SO_RCVBUF/SO_SNDBUF in golang.org/x/sys/windows
// equivalent to the unix one, so newEndpoint falls back to logging only the
// requested sizes on this platform.
func actualBufferSizes(conn *net.UDPConn) (recv, send int, err error) {
	return 0, 0, errors.New("actual buffer size readback not supported on windows")
}
