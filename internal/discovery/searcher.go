package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nextui-link/linklayer/internal/wire"
)

// Searcher listens for broadcast advertisements on the mode's discovery
// port and maintains a bounded, deduplicated host table (spec.md §4.2).
type Searcher struct {
	mode   string
	magics wire.ModeMagics
	conn   *net.UDPConn

	mu    sync.Mutex
	hosts []wire.DiscoveryRecord // ordered by first-seen
}

// NewSearcher opens a UDP listener bound to INADDR_ANY on the mode's
// discovery port via net.ListenUDP. SO_REUSEADDR is not set, so the bind
// fails while another socket on the same machine (such as an Advertiser
// for the same mode) holds that port.
func NewSearcher(mode string) (*Searcher, error) {
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
		return nil, fmt.Errorf("discovery: bind searcher socket: %w", err)
	}
	return &Searcher{mode: mode, magics: magics, conn: conn}, nil
}

// Poll drains any buffered datagrams without blocking, updating the host
// table. Intended to be called whenever the UI polls list_hosts() (spec.md
// §4.2).
func (s *Searcher) Poll() {
	buf := make([]byte, 512)
	for {
		s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		s.ingest(buf[:n], addr)
	}
}

func (s *Searcher) ingest(buf []byte, from *net.UDPAddr) {
	rec, err := wire.DecodeDiscoveryRecord(buf)
	if err != nil || rec.Magic != s.magics.Advertise {
		return
	}
	rec.PeerIP = from.IP.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.hosts {
		if s.hosts[i].PeerIP == rec.PeerIP {
			s.hosts[i] = rec // update in place (name/crc/port may have changed)
			return
		}
	}
	if len(s.hosts) >= MaxHosts {
		return
	}
	s.hosts = append(s.hosts, rec)
}

// Hosts returns a snapshot of the current deduplicated host table.
func (s *Searcher) Hosts() []wire.DiscoveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.DiscoveryRecord, len(s.hosts))
	copy(out, s.hosts)
	return out
}

// Close releases the searcher's socket.
func (s *Searcher) Close() error {
	return s.conn.Close()
}

// Query sends a point-to-point query directly to hostIP and waits up to
// QueryTimeout for a response, retrying up to QueryRetries times. It is
// purely informational and never opens a TCP connection (spec.md §4.2),
// used by the GBA-link client to learn a host's link_mode before dialing.
func Query(mode, hostIP string, port int) (wire.DiscoveryRecord, error) {
	magics, err := wire.MagicsFor(mode)
	if err != nil {
		return wire.DiscoveryRecord{}, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return wire.DiscoveryRecord{}, fmt.Errorf("discovery: query socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.ParseIP(hostIP), Port: port}
	query := wire.DiscoveryRecord{Magic: magics.Query, ProtocolVersion: wire.ProtocolVersion}
	buf := make([]byte, 512)

	for attempt := 0; attempt < QueryRetries; attempt++ {
		if _, err := conn.WriteToUDP(query.Encode(), dst); err != nil {
			return wire.DiscoveryRecord{}, fmt.Errorf("discovery: send query: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(QueryTimeout))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue // timed out, retry
		}
		rec, err := wire.DecodeDiscoveryRecord(buf[:n])
		if err != nil || rec.Magic != magics.Response {
			continue
		}
		rec.PeerIP = from.IP.String()
		return rec, nil
	}
	return wire.DiscoveryRecord{}, fmt.Errorf("discovery: no response from %s after %d attempts", hostIP, QueryRetries)
}
