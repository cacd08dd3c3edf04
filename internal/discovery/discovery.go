// Package discovery implements the UDP broadcast advertisement and
// unicast point-to-point query protocol hosts and clients use to find
// each other (spec.md §4.2).
package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nextui-link/linklayer/internal/wire"
)

// Port returns the UDP discovery port for a link mode. Each mode gets a
// distinct port so broadcasts never cross-pollinate even without the
// magic-value check.
func Port(mode string) (int, error) {
	switch mode {
	case "netplay":
		return 55435, nil
	case "gba-link":
		return 55436, nil
	case "gb-link":
		return 55437, nil
	default:
		return 0, fmt.Errorf("discovery: unknown link mode %q", mode)
	}
}

// BroadcastInterval is the rate-limited advertisement cadence (spec.md §4.2).
const BroadcastInterval = 500 * time.Millisecond

// MaxHosts bounds the searcher's host table (spec.md §4.2).
const MaxHosts = 8

// QueryTimeout and QueryRetries bound a point-to-point query attempt
// (spec.md §4.2, §7).
const (
	QueryTimeout = 500 * time.Millisecond
	QueryRetries = 3
)

// Advertiser broadcasts a DiscoveryRecord at a rate-limited cadence while
// the session is Waiting, and answers unicast point-to-point queries on the
// same socket. One Advertiser is owned by a host session's listener thread.
type Advertiser struct {
	mode    string
	magics  wire.ModeMagics
	record  func() wire.DiscoveryRecord
	conn    *net.UDPConn
	port    int
	mu      sync.Mutex
	lastSent time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewAdvertiser opens the mode's broadcast/query-response UDP socket.
// record is called fresh on every broadcast and every query response so it
// always reflects current game/crc/port state.
func NewAdvertiser(mode string, record func() wire.DiscoveryRecord) (*Advertiser, error) {
	magics, err := wire.MagicsFor(mode)
	if err != nil {
		return nil, err
	}
	port, err := Port(mode)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("discovery: bind advertiser socket: %w", err)
	}
	return &Advertiser{
		mode:   mode,
		magics: magics,
		record: record,
		conn:   conn,
		port:   port,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run broadcasts at BroadcastInterval and answers queries until Stop is
// called. Intended to run inside the host's listener-thread select loop
// (spec.md §4.3.2); callers that already multiplex other sockets in their
// own select loop should use Tick/HandleDatagram directly instead of Run.
func (a *Advertiser) Run() {
	defer close(a.doneCh)
	buf := make([]byte, 512)
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}
		a.Tick()
		a.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		a.HandleDatagram(buf[:n], addr)
	}
}

// Tick sends one broadcast if BroadcastInterval has elapsed since the last
// send. Open Question #2 (SPEC_FULL.md §13): the rate limiter's clock is
// not reset across a Stop/Resume cycle, so a broadcast can fire immediately
// on rebind if enough time has already elapsed.
func (a *Advertiser) Tick() {
	a.mu.Lock()
	due := time.Since(a.lastSent) >= BroadcastInterval
	if due {
		a.lastSent = time.Now()
	}
	a.mu.Unlock()
	if !due {
		return
	}
	rec := a.record()
	rec.Magic = a.magics.Advertise
	rec.ProtocolVersion = wire.ProtocolVersion
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: a.port}
	a.conn.WriteToUDP(rec.Encode(), dst)
}

// HandleDatagram answers a point-to-point query with a unicast response;
// any other magic (including our own broadcasts echoing back) is ignored.
func (a *Advertiser) HandleDatagram(buf []byte, from *net.UDPAddr) {
	rec, err := wire.DecodeDiscoveryRecord(buf)
	if err != nil || rec.Magic != a.magics.Query {
		return
	}
	resp := a.record()
	resp.Magic = a.magics.Response
	resp.ProtocolVersion = wire.ProtocolVersion
	a.conn.WriteToUDP(resp.Encode(), from)
}

// Resume reopens the advertiser's socket after a prior Stop, without
// resetting the broadcast rate-limiter clock (Open Question #2).
func (a *Advertiser) Resume() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: a.port})
	if err != nil {
		return fmt.Errorf("discovery: rebind advertiser socket: %w", err)
	}
	a.conn = conn
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	return nil
}

// Stop closes the advertiser's socket. Callers that started Run in a
// goroutine should follow with Join to implement the cooperative
// stop-then-join discipline of spec.md §4.3.2.
func (a *Advertiser) Stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	a.conn.Close()
}

// Join blocks until a goroutine running Run has observed Stop and returned.
func (a *Advertiser) Join() {
	<-a.doneCh
}
