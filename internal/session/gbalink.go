package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nextui-link/linklayer/internal/bridge"
	"github.com/nextui-link/linklayer/internal/discovery"
	"github.com/nextui-link/linklayer/internal/transport"
	"github.com/nextui-link/linklayer/internal/wire"
)

// bridgeTickInterval is how often the session drives Bridge.Tick while
// connected, fast enough that the bridge's own 500ms heartbeat and 60s
// watchdog schedules (spec.md §4.5) are checked well within their margins.
const bridgeTickInterval = 16 * time.Millisecond

// gbalinkLink adapts a transport.Endpoint to bridge.Link.
type gbalinkLink struct{ ep *transport.Endpoint }

func (l gbalinkLink) SendFrame(cmd uint8, clientID uint16, payload []byte) bool {
	return l.ep.SendFrame(cmd, 0, clientID, payload) == transport.Ok
}

func (l gbalinkLink) RecvFrame(timeout time.Duration) (cmd uint8, clientID uint16, payload []byte, ok bool) {
	f, res := l.ep.RecvFrame(timeout)
	if res != transport.Ok {
		return 0, 0, nil, false
	}
	return f.Cmd, f.ClientID, f.Payload, true
}

// GBALinkSession implements LinkType for the GBA wireless-adapter packet
// ferry (spec.md §4.3.1, §4.5).
type GBALinkSession struct {
	base

	callbacks bridge.CoreCallbacks
	linkMode  string

	listener   *net.TCPListener
	advertiser *discovery.Advertiser
	endpoint   *transport.Endpoint
	bridge     *bridge.Bridge

	isHost bool

	acceptStop chan struct{}
	acceptDone chan struct{}
	tickStop   chan struct{}
	tickDone   chan struct{}
}

// NewGBALinkSession constructs a session that hands the core callback block
// to whichever Bridge the session ends up owning after a successful
// handshake (spec.md §4.5 step 1-2).
func NewGBALinkSession(callbacks bridge.CoreCallbacks) *GBALinkSession {
	return &GBALinkSession{callbacks: callbacks}
}

// Host starts listening and advertising (spec.md §4.3: Off→Waiting).
// cfg.LinkMode is this host's configured in-game link mode, sent to every
// client as the READY payload.
func (s *GBALinkSession) Host(cfg HostConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: gba-link already active")
	}
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("session: listen: %w", err)
	}
	tcpPort := ln.Addr().(*net.TCPAddr).Port
	localIP := cfg.HotspotIP
	if localIP == "" {
		localIP, _ = outboundIP()
	}

	adv, err := discovery.NewAdvertiser("gba-link", func() wire.DiscoveryRecord {
		return wire.DiscoveryRecord{
			GameCRC:  cfg.GameCRC,
			Port:     uint16(tcpPort),
			GameName: cfg.GameName,
			LinkMode: cfg.LinkMode,
		}
	})
	if err != nil {
		ln.Close()
		return fmt.Errorf("session: advertiser: %w", err)
	}

	s.isHost = true
	s.linkMode = cfg.LinkMode
	s.listener = ln
	s.advertiser = adv
	s.mu.Lock()
	s.localIP = localIP
	s.mu.Unlock()

	s.acceptStop = make(chan struct{})
	s.acceptDone = make(chan struct{})
	s.setState(StateWaiting)
	s.setStatusText("waiting for client")

	go adv.Run()
	go s.acceptLoop()
	return nil
}

func (s *GBALinkSession) acceptLoop() {
	defer close(s.acceptDone)
	for {
		select {
		case <-s.acceptStop:
			return
		default:
		}
		s.listener.SetDeadline(time.Now().Add(100 * time.Millisecond))
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		s.advertiser.Stop()
		s.advertiser.Join()

		if err := s.hostHandshake(conn); err != nil {
			s.setState(StateError)
			s.setStatusText(err.Error())
			conn.Close()
		} else {
			s.runBridgeTick()
			s.endpoint.Close()
			s.endpoint = nil
			s.bridge = nil
		}

		select {
		case <-s.acceptStop:
			return
		default:
		}
		if err := s.advertiser.Resume(); err != nil {
			s.setState(StateError)
			s.setStatusText(err.Error())
			return
		}
		s.setState(StateWaiting)
		s.setStatusText("waiting for client")
		go s.advertiser.Run()
	}
}

// hostHandshake runs the accept-side of spec.md §4.3.1 steps 2-3,5: wait for
// the client's READY, reply READY with our link_mode, then start the bridge.
// The host never rejects a mismatched mode itself; spec.md §4.3.1 step 4
// places that decision entirely on the connecting client.
func (s *GBALinkSession) hostHandshake(conn *net.TCPConn) error {
	ep, err := transport.NewEndpoint(conn, transport.GBALinkCodec{}, transport.DefaultGBALinkTuning())
	if err != nil {
		return err
	}
	s.setState(StateConnecting)

	deadline := time.Now().Add(readyTimeout)
	if err := gbaWaitForCmd(ep, wire.GBALinkReady, deadline); err != nil {
		ep.SendFrame(uint8(wire.GBALinkDisconnect), 0, 0, nil)
		ep.Close()
		return err
	}
	if r := ep.SendFrame(uint8(wire.GBALinkReady), 0, 0, wire.EncodeLinkModeField(s.linkMode)); r != transport.Ok {
		ep.Close()
		return fmt.Errorf("session: send READY: %v", r)
	}

	s.endpoint = ep
	s.mu.Lock()
	s.remoteIP = ep.RemoteIP()
	s.mu.Unlock()
	s.bridge = bridge.New(gbalinkLink{ep}, s.callbacks, true)
	s.bridge.Start(time.Now())
	s.setState(StatePlaying)
	s.setStatusText("connected")
	return nil
}

// Join connects to a host (spec.md §4.3.1, client side).
func (s *GBALinkSession) Join(cfg JoinConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: gba-link already active")
	}
	s.isHost = false
	s.linkMode = cfg.LinkMode
	s.setState(StateConnecting)
	s.setStatusText(fmt.Sprintf("connecting to %s:%d", cfg.IP, cfg.Port))

	conn, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: net.ParseIP(cfg.IP), Port: cfg.Port})
	if err != nil {
		s.setState(StateOff)
		return fmt.Errorf("session: dial: %w", err)
	}
	ep, err := transport.NewEndpoint(conn, transport.GBALinkCodec{}, transport.DefaultGBALinkTuning())
	if err != nil {
		conn.Close()
		s.setState(StateOff)
		return err
	}

	if r := ep.SendFrame(uint8(wire.GBALinkReady), 0, 0, nil); r != transport.Ok {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: send READY: %v", r)
	}
	hostModeField, err := gbaWaitForFrame(ep, wire.GBALinkReady, time.Now().Add(readyTimeout))
	if err != nil {
		ep.Close()
		s.setState(StateOff)
		return err
	}
	hostMode := wire.DecodeLinkModeField(hostModeField)

	if hostMode != cfg.LinkMode {
		// spec.md §4.3.1 step 4: the client has not completed the session and
		// no core start callback fires; the caller decides whether to
		// reconfigure and reconnect, or abort.
		ep.Close()
		s.setState(StateOff)
		return &ErrNeedsReload{HostMode: hostMode, ClientMode: cfg.LinkMode}
	}

	s.endpoint = ep
	localIP, _ := outboundIP()
	s.mu.Lock()
	s.localIP = localIP
	s.remoteIP = ep.RemoteIP()
	s.mu.Unlock()
	s.bridge = bridge.New(gbalinkLink{ep}, s.callbacks, false)
	s.bridge.Start(time.Now())
	s.setState(StatePlaying)
	s.setStatusText("connected")

	go s.runBridgeTick()
	return nil
}

// runBridgeTick drives Bridge.Tick at bridgeTickInterval until the bridge
// tears itself down (peer DISCONNECT, watchdog timeout, or an explicit
// Disconnect), mirroring its outcome into the session's shared state.
func (s *GBALinkSession) runBridgeTick() {
	s.tickStop = make(chan struct{})
	s.tickDone = make(chan struct{})
	defer close(s.tickDone)
	ticker := time.NewTicker(bridgeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickStop:
			return
		case <-ticker.C:
		}
		s.bridge.Tick(time.Now())
		if s.bridge.Disconnected() {
			if s.isHost {
				return
			}
			s.setState(StateDisconnected)
			return
		}
	}
}

// Pause/Resume have no GBA-link analogue (spec.md §4.5 defines no pause
// state for the packet bridge); both are no-ops kept for LinkType symmetry
// with Netplay.
func (s *GBALinkSession) Pause()  {}
func (s *GBALinkSession) Resume() {}

// Disconnect tears the session down and releases every resource acquired
// since Off (spec.md §3 invariant).
func (s *GBALinkSession) Disconnect() error {
	if s.tickStop != nil {
		select {
		case <-s.tickStop:
		default:
			close(s.tickStop)
		}
		<-s.tickDone
	}
	if s.acceptStop != nil {
		select {
		case <-s.acceptStop:
		default:
			close(s.acceptStop)
		}
	}
	if s.bridge != nil && !s.bridge.Disconnected() {
		s.bridge.Disconnect()
	}
	if s.endpoint != nil {
		s.endpoint.Close()
	}
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.acceptDone != nil {
		<-s.acceptDone
	}
	s.setState(StateOff)
	s.setStatusText("")
	return nil
}

func (s *GBALinkSession) Status() StatusInfo {
	info := s.status("gba-link")
	if s.bridge != nil {
		stats := s.bridge.Stats()
		info.StatusText = fmt.Sprintf("%s (queued=%d, rtt=%s, rtt_avg=%s)", info.StatusText, s.bridge.QueueLen(), stats.Current(), stats.Average())
		if spiked, previous, current := stats.CheckSpike(); spiked {
			info.StatusText = fmt.Sprintf("%s [rtt spike %s -> %s]", info.StatusText, previous, current)
		}
	}
	return info
}

// connectBackoff is the client's reconnect schedule for JoinWithRetry: 1s,
// 2s, 5s, 10s, then 10s for every further attempt. A host that is merely
// slow to accept (not yet rejecting on purpose) is worth retrying against;
// a host that is actively refusing a mode mismatch is not (see NeedsReload
// handling below).
var connectBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

func backoffFor(attempt int) time.Duration {
	if attempt < len(connectBackoff) {
		return connectBackoff[attempt]
	}
	return connectBackoff[len(connectBackoff)-1]
}

// JoinWithRetry wraps Join with the connectBackoff schedule, for callers
// that want automatic reconnection across transient failures (dial refused,
// host not listening yet, READY timeout). It gives up and returns the last
// error once maxAttempts Join calls have failed, or immediately on the
// first attempt that returns an *ErrNeedsReload: that result is the host's
// definitive, non-transient answer and must never be retried blindly,
// since retrying it would just reconnect into the same mismatch.
func (s *GBALinkSession) JoinWithRetry(cfg JoinConfig, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.Join(cfg)
		if err == nil {
			return nil
		}
		var needsReload *ErrNeedsReload
		if errors.As(err, &needsReload) {
			return err
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			time.Sleep(backoffFor(attempt))
		}
	}
	return lastErr
}

func gbaWaitForCmd(ep *transport.Endpoint, want wire.GBALinkCmd, deadline time.Time) error {
	_, err := gbaWaitForFrame(ep, want, deadline)
	return err
}

func gbaWaitForFrame(ep *transport.Endpoint, want wire.GBALinkCmd, deadline time.Time) ([]byte, error) {
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("session: timed out waiting for %s", want)
		}
		f, res := ep.RecvFrame(time.Until(deadline))
		if res == transport.WouldBlock {
			continue
		}
		if res != transport.Ok {
			return nil, fmt.Errorf("session: endpoint closed waiting for %s", want)
		}
		if wire.GBALinkCmd(f.Cmd) == want {
			return f.Payload, nil
		}
	}
}
