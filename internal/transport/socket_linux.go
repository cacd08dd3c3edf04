//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket applies the TCP_NODELAY / SO_KEEPALIVE / buffer-size / SO_RCVTIMEO
// tuning spec.md §4.1 requires. net.TCPConn exposes SetNoDelay,
// SetKeepAlive, SetReadBuffer and SetWriteBuffer directly, and those are
// used; SO_RCVTIMEO is not surfaced by the standard library's portable API,
// so it alone goes through a raw setsockopt via SyscallConn, matching the
// pack's raw-socket-option style (other_examples' runZeroInc tcpinfo files).
func tuneSocket(conn *net.TCPConn, t Tuning) error {
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if t.SocketBufferBytes > 0 {
		if err := conn.SetReadBuffer(t.SocketBufferBytes); err != nil {
			return err
		}
		if err := conn.SetWriteBuffer(t.SocketBufferBytes); err != nil {
			return err
		}
	}
	if t.RecvTimeout <= 0 {
		return nil
	}
	// Go's runtime netpoller uses non-blocking sockets internally, so this
	// SO_RCVTIMEO is belt-and-suspenders: the actual per-call timeout is
	// enforced by Endpoint.RecvFrame via SetReadDeadline. Set it anyway so
	// anything inspecting the fd (ss, strace) sees the spec'd value.
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		tv := unix.NsecToTimeval(t.RecvTimeout.Nanoseconds())
		sockErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
