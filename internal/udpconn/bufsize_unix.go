//go:build !windows

package udpconn

import (
	"net"

	"golang.org/x/sys/unix"
)

// actualBufferSizes reads back the OS-applied SO_RCVBUF/SO_SNDBUF values via
// getsockopt, since the kernel may round up (commonly doubling, per Linux's
// socket(7)) or clamp whatever was requested with SetReadBuffer/SetWriteBuffer.
func actualBufferSizes(conn *net.UDPConn) (recv, send int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}

	var rcvErr, sndErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		recv, rcvErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
		send, sndErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	})
	if ctrlErr != nil {
		return 0, 0, ctrlErr
	}
	if rcvErr != nil {
		return 0, 0, rcvErr
	}
	if sndErr != nil {
		return 0, 0, sndErr
	}
	return recv, send, nil
}
