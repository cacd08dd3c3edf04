//go:build !linux

package transport

import "net"

// tuneSocket applies the portable subset of spec.md §4.1's socket tuning on
// non-Linux builds. SO_RCVTIMEO has no portable stdlib equivalent outside
// the per-call SetReadDeadline Endpoint.RecvFrame already applies, so it is
// simply skipped here.
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
	return nil
}
