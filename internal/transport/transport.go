// Package transport provides framed send/receive over one TCP endpoint:
// length-prefixed command packets, chunked send-with-backpressure, and a
// stream buffer that absorbs partial reads (spec.md §4.1).
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nextui-link/linklayer/internal/streambuf"
)

// Result is the outcome of a send/recv attempt, matching the Ok/Closed/
// Fatal/WouldBlock taxonomy spec.md §4.1 defines for Transport operations.
type Result int

const (
	Ok Result = iota
	WouldBlock
	Closed
	Fatal
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "Ok"
	case WouldBlock:
		return "WouldBlock"
	case Closed:
		return "Closed"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Sentinel errors naming the stall-budget and malformed-size conditions.
// Endpoint methods report only a Result and do not return these values.
var (
	ErrStallBudgetExceeded = errors.New("transport: send stall budget exceeded")
	ErrMalformedSize       = errors.New("transport: malformed frame size, stream resynced")
)

// HeaderCodec abstracts the per-mode frame header shape: netplay's
// cmd|frame|size and GBA-link's cmd|size|client_id share the same framing
// discipline (length-prefixed command packet) but disagree on which
// secondary field follows size. One Transport serves both by delegating
// header shape to a HeaderCodec.
type HeaderCodec interface {
	HeaderSize() int
	EncodeHeader(cmd uint8, frame uint32, clientID uint16, payloadLen int) []byte
	DecodeHeader(header []byte) (cmd uint8, frame uint32, clientID uint16, size int, err error)
}

// Frame is one fully decoded wire frame, generic across modes.
type Frame struct {
	Cmd      uint8
	Frame    uint32
	ClientID uint16
	Payload  []byte
}

// Tuning bundles the per-mode socket and timing parameters spec.md §4.1
// calls for (buffer sizes differ between netplay and GBA link by design,
// to surface Wi-Fi congestion faster on the smaller GBA-link buffers).
type Tuning struct {
	SocketBufferBytes int           // SO_RCVBUF/SO_SNDBUF
	RecvTimeout       time.Duration // SO_RCVTIMEO; 0 disables the socket-level timeout
	SendStallBudget   time.Duration // 0 means block indefinitely (netplay)
	MaxPayload        int
}

// DefaultNetplayTuning matches spec.md §4.1's netplay column: 64 KiB
// buffers, blocking send (no stall budget).
func DefaultNetplayTuning() Tuning {
	return Tuning{SocketBufferBytes: 64 * 1024, SendStallBudget: 0, MaxPayload: 1 << 16}
}

// DefaultGBALinkTuning matches spec.md §4.1's GBA-link column: 32 KiB
// buffers (intentionally smaller than kernel defaults), 1ms receive
// timeout, 2s per-frame send stall budget.
func DefaultGBALinkTuning() Tuning {
	return Tuning{
		SocketBufferBytes: 32 * 1024,
		RecvTimeout:       time.Millisecond,
		SendStallBudget:   2 * time.Second,
		MaxPayload:        2048,
	}
}

// Endpoint is the accepted/connected TCP connection plus its per-endpoint
// framing state (spec.md §3 "Endpoint").
type Endpoint struct {
	mu             sync.Mutex
	conn           *net.TCPConn
	remoteIP       string
	remotePort     int
	lastSentAt     time.Time
	lastReceivedAt time.Time
	recvBuf        *streambuf.Buffer
	codec          HeaderCodec
	tuning         Tuning
}

// NewEndpoint wraps an already-accepted/connected TCP connection, applies
// the mode's socket tuning, and allocates its StreamBuffer.
func NewEndpoint(conn *net.TCPConn, codec HeaderCodec, tuning Tuning) (*Endpoint, error) {
	if err := tuneSocket(conn, tuning); err != nil {
		return nil, fmt.Errorf("transport: socket tuning: %w", err)
	}
	remoteIP, remotePort := "", 0
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remoteIP = addr.IP.String()
		remotePort = addr.Port
	}
	now := time.Now()
	return &Endpoint{
		conn:           conn,
		remoteIP:       remoteIP,
		remotePort:     remotePort,
		lastSentAt:     now,
		lastReceivedAt: now,
		recvBuf:        streambuf.New(tuning.MaxPayload + codec.HeaderSize()),
		codec:          codec,
		tuning:         tuning,
	}, nil
}

// RemoteIP returns the endpoint's peer IP.
func (e *Endpoint) RemoteIP() string { return e.remoteIP }

// RemotePort returns the endpoint's peer port.
func (e *Endpoint) RemotePort() int { return e.remotePort }

// LastSentAt returns the timestamp of the last successful send.
func (e *Endpoint) LastSentAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSentAt
}

// LastReceivedAt returns the timestamp of the last successful receive.
func (e *Endpoint) LastReceivedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReceivedAt
}

// Close resets the StreamBuffer and tears down the underlying socket; the
// per-endpoint timestamps are simply discarded with it (spec.md §3).
func (e *Endpoint) Close() error {
	e.recvBuf.Reset()
	return e.conn.Close()
}

// SendFrame serializes header+payload as one logical frame and writes it in
// chunks, applying backpressure: when the kernel send buffer is full the
// writer sleeps briefly and, on each stall, drains the receive socket into
// the StreamBuffer to break the symmetric send-side deadlock two
// simultaneously-blocked peers can hit (spec.md §4.1, §9 "Send-while-
// receive deadlock").
//
// send_frame releases no Go-level lock across the syscalls (the caller's
// session mutex discipline from spec.md §5 is enforced by callers, not by
// Endpoint itself); it does re-validate nothing beyond the connection being
// open, matching the "callers must re-validate the endpoint" contract.
func (e *Endpoint) SendFrame(cmd uint8, frame uint32, clientID uint16, payload []byte) Result {
	header := e.codec.EncodeHeader(cmd, frame, clientID, len(payload))
	out := append(header, payload...)

	deadline := time.Time{}
	if e.tuning.SendStallBudget > 0 {
		deadline = time.Now().Add(e.tuning.SendStallBudget)
	}

	written := 0
	for written < len(out) {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Fatal
		}
		e.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
		n, err := e.conn.Write(out[written:])
		written += n
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// Kernel send buffer full: drain any pending receive data so a
			// peer blocked symmetrically on its own send can make progress,
			// then retry.
			e.drainIntoStreamBuffer()
			time.Sleep(time.Millisecond)
			continue
		}
		if isPeerClosed(err) {
			return Closed
		}
		return Fatal
	}
	e.conn.SetWriteDeadline(time.Time{})
	e.mu.Lock()
	e.lastSentAt = time.Now()
	e.mu.Unlock()
	return Ok
}

// drainIntoStreamBuffer performs one best-effort non-blocking recv into the
// StreamBuffer's tail, ignoring timeouts. It does not attempt to parse a
// frame; RecvFrame's caller is responsible for eventually draining parsed
// frames out of the buffer.
func (e *Endpoint) drainIntoStreamBuffer() {
	dst := e.recvBuf.PrepareAppend(e.recvBuf.Free())
	if len(dst) == 0 {
		return
	}
	e.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := e.conn.Read(dst)
	if n > 0 {
		e.recvBuf.CommitAppend(n)
		e.mu.Lock()
		e.lastReceivedAt = time.Now()
		e.mu.Unlock()
	}
	_ = err
}

// RecvFrame waits up to timeout for the socket to become readable, reads
// once into the tail of the StreamBuffer (compacting first if needed), and
// attempts to parse one complete frame out of it. Partial frames remain
// buffered for the next call. A timeout of zero or less still attempts the
// read, waiting at most 1ms.
func (e *Endpoint) RecvFrame(timeout time.Duration) (Frame, Result) {
	if f, ok := e.tryParseFrame(); ok {
		return f, Ok
	}

	dst := e.recvBuf.PrepareAppend(e.recvBuf.Free())
	if len(dst) == 0 {
		// Buffer is saturated without a parseable frame: malformed stream.
		e.recvBuf.Reset()
		return Frame{}, WouldBlock
	}

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	e.conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := e.conn.Read(dst)
	if n > 0 {
		e.recvBuf.CommitAppend(n)
		e.mu.Lock()
		e.lastReceivedAt = time.Now()
		e.mu.Unlock()
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Frame{}, WouldBlock
		}
		// Any other read error (EOF, ECONNRESET, EPIPE, ENOTCONN, ...) means
		// the peer is gone; role-specific teardown happens in the session
		// layer that owns this endpoint (spec.md §4.3).
		return Frame{}, Closed
	}

	if f, ok := e.tryParseFrame(); ok {
		return f, Ok
	}
	return Frame{}, WouldBlock
}

// tryParseFrame attempts to pull one complete frame out of the StreamBuffer.
// A malformed declared size resets the buffer (protocol resync) per
// spec.md §4.1 and is reported to the caller via the bool return being
// false; RecvFrame then reports WouldBlock, matching the spec.
func (e *Endpoint) tryParseFrame() (Frame, bool) {
	hsz := e.codec.HeaderSize()
	buffered := e.recvBuf.Peek()
	if len(buffered) < hsz {
		return Frame{}, false
	}
	cmd, frame, clientID, size, err := e.codec.DecodeHeader(buffered[:hsz])
	if err != nil {
		e.recvBuf.Reset()
		return Frame{}, false
	}
	if size > e.tuning.MaxPayload || hsz+size > e.recvBuf.Cap() {
		e.recvBuf.Reset()
		return Frame{}, false
	}
	if len(buffered) < hsz+size {
		return Frame{}, false
	}
	payload := make([]byte, size)
	copy(payload, buffered[hsz:hsz+size])
	if err := e.recvBuf.Consume(hsz + size); err != nil {
		e.recvBuf.Reset()
		return Frame{}, false
	}
	return Frame{Cmd: cmd, Frame: frame, ClientID: clientID, Payload: payload}, true
}

// WriteRaw writes data directly to the socket with no frame header,
// applying the same send-while-receive deadlock mitigation as SendFrame.
// Used for the netplay state-transfer stream, which spec.md §4.4 defines as
// raw bytes following a STATE_HDR frame rather than as further framed
// packets.
func (e *Endpoint) WriteRaw(data []byte) Result {
	deadline := time.Time{}
	if e.tuning.SendStallBudget > 0 {
		deadline = time.Now().Add(e.tuning.SendStallBudget)
	}
	written := 0
	for written < len(data) {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Fatal
		}
		e.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
		n, err := e.conn.Write(data[written:])
		written += n
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			e.drainIntoStreamBuffer()
			time.Sleep(time.Millisecond)
			continue
		}
		if isPeerClosed(err) {
			return Closed
		}
		return Fatal
	}
	e.conn.SetWriteDeadline(time.Time{})
	e.mu.Lock()
	e.lastSentAt = time.Now()
	e.mu.Unlock()
	return Ok
}

// ReadRawExact reads exactly n bytes with no frame header, first draining
// anything already buffered in the StreamBuffer (bytes that arrived
// alongside the STATE_HDR frame in the same socket read), then reading the
// remainder directly from the socket until deadline.
func (e *Endpoint) ReadRawExact(n int, deadline time.Time) ([]byte, Result) {
	out := make([]byte, 0, n)
	if buffered := e.recvBuf.Peek(); len(buffered) > 0 {
		take := len(buffered)
		if take > n {
			take = n
		}
		out = append(out, buffered[:take]...)
		e.recvBuf.Consume(take)
	}
	for len(out) < n {
		if time.Now().After(deadline) {
			return nil, WouldBlock
		}
		e.conn.SetReadDeadline(deadline)
		buf := make([]byte, n-len(out))
		got, err := e.conn.Read(buf)
		if got > 0 {
			out = append(out, buf[:got]...)
			e.mu.Lock()
			e.lastReceivedAt = time.Now()
			e.mu.Unlock()
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if len(out) < n {
					return nil, WouldBlock
				}
				break
			}
			return nil, Closed
		}
	}
	return out, Ok
}

func isPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true
}
