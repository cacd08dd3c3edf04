package session

import (
	"fmt"
	"net"
	"time"

	"github.com/nextui-link/linklayer/internal/discovery"
	"github.com/nextui-link/linklayer/internal/framesync"
	"github.com/nextui-link/linklayer/internal/transport"
	"github.com/nextui-link/linklayer/internal/wire"
)

// StateProvider bridges the emulator core's save-state format to the
// netplay handshake's state-transfer step (spec.md §4.4). The core's
// serialization format itself is out of scope; this is the seam a real
// integration plugs into.
type StateProvider interface {
	Serialize() ([]byte, error)
	Load(data []byte) error
}

type nopStateProvider struct{}

func (nopStateProvider) Serialize() ([]byte, error) { return nil, nil }
func (nopStateProvider) Load([]byte) error           { return nil }

const stateChunkSize = 4096
const stateTransferTimeout = 10 * time.Second
const readyTimeout = 5 * time.Second

// netplayLink adapts a transport.Endpoint to framesync.Link.
type netplayLink struct{ ep *transport.Endpoint }

func (l netplayLink) SendFrame(cmd uint8, frame uint32, payload []byte) bool {
	return l.ep.SendFrame(cmd, frame, 0, payload) == transport.Ok
}

func (l netplayLink) RecvFrame(timeout time.Duration) (cmd uint8, frame uint32, payload []byte, ok bool) {
	f, res := l.ep.RecvFrame(timeout)
	if res != transport.Ok {
		return 0, 0, nil, false
	}
	return f.Cmd, f.Frame, f.Payload, true
}

// NetplaySession implements LinkType for frame-locked lockstep play
// (spec.md §4.4).
type NetplaySession struct {
	base

	stateProvider StateProvider

	listener   *net.TCPListener
	advertiser *discovery.Advertiser
	endpoint   *transport.Endpoint
	engine     *framesync.Engine

	isHost bool

	acceptStop chan struct{}
	acceptDone chan struct{}
	pumpStop   chan struct{}
	pumpDone   chan struct{}
}

// NewNetplaySession constructs a session. sp may be nil, in which case
// state-transfer carries a zero-length payload (suitable for headless
// testing or cores with no meaningful save-state).
func NewNetplaySession(sp StateProvider) *NetplaySession {
	if sp == nil {
		sp = nopStateProvider{}
	}
	return &NetplaySession{stateProvider: sp}
}

// Host starts listening and begins advertising (spec.md §4.3: Off→Waiting).
func (s *NetplaySession) Host(cfg HostConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: netplay already active")
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

	adv, err := discovery.NewAdvertiser("netplay", func() wire.DiscoveryRecord {
		return wire.DiscoveryRecord{GameCRC: cfg.GameCRC, Port: uint16(tcpPort), GameName: cfg.GameName}
	})
	if err != nil {
		ln.Close()
		return fmt.Errorf("session: advertiser: %w", err)
	}

	s.isHost = true
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

func (s *NetplaySession) acceptLoop() {
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
			s.setState(StatePlaying)
			s.runFramePump()
			s.endpoint.Close()
			s.endpoint = nil
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

// hostHandshake runs the accept-side of spec.md §4.3.1/§4.4: wait for
// READY, reply READY, exchange state, send the post-sync READY.
func (s *NetplaySession) hostHandshake(conn *net.TCPConn) error {
	ep, err := transport.NewEndpoint(conn, transport.NetplayCodec{}, transport.DefaultNetplayTuning())
	if err != nil {
		return err
	}
	s.setState(StateConnecting)

	deadline := time.Now().Add(readyTimeout)
	if err := waitForCmd(ep, wire.NetplayReady, deadline); err != nil {
		ep.SendFrame(uint8(wire.NetplayDisconnect), 0, 0, nil)
		ep.Close()
		return err
	}
	if r := ep.SendFrame(uint8(wire.NetplayReady), 0, 0, nil); r != transport.Ok {
		ep.Close()
		return fmt.Errorf("session: send READY: %v", r)
	}

	s.setState(StateSyncing)
	data, err := s.stateProvider.Serialize()
	if err != nil {
		ep.Close()
		return fmt.Errorf("session: serialize state: %w", err)
	}
	if err := sendState(ep, data); err != nil {
		ep.Close()
		return err
	}
	if err := waitForCmd(ep, wire.NetplayStateAck, time.Now().Add(stateTransferTimeout)); err != nil {
		ep.Close()
		return err
	}
	if r := ep.SendFrame(uint8(wire.NetplayReady), 0, 0, nil); r != transport.Ok {
		ep.Close()
		return fmt.Errorf("session: send post-sync READY: %v", r)
	}

	s.endpoint = ep
	s.engine = framesync.NewEngine(netplayLink{ep}, 0)
	s.engine.FB.SeedNeutral()
	s.mu.Lock()
	s.remoteIP = ep.RemoteIP()
	s.mu.Unlock()
	s.setStatusText("connected")
	return nil
}

// Join connects to a host (spec.md §4.3.1, client side).
func (s *NetplaySession) Join(cfg JoinConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: netplay already active")
	}
	s.isHost = false
	s.setState(StateConnecting)
	s.setStatusText(fmt.Sprintf("connecting to %s:%d", cfg.IP, cfg.Port))

	conn, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: net.ParseIP(cfg.IP), Port: cfg.Port})
	if err != nil {
		s.setState(StateOff)
		return fmt.Errorf("session: dial: %w", err)
	}
	ep, err := transport.NewEndpoint(conn, transport.NetplayCodec{}, transport.DefaultNetplayTuning())
	if err != nil {
		conn.Close()
		s.setState(StateOff)
		return err
	}

	if r := ep.SendFrame(uint8(wire.NetplayReady), 0, 0, nil); r != transport.Ok {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: send READY: %v", r)
	}
	if err := waitForCmd(ep, wire.NetplayReady, time.Now().Add(readyTimeout)); err != nil {
		ep.Close()
		s.setState(StateOff)
		return err
	}

	s.setState(StateSyncing)
	hdrPayload, err := waitForFrame(ep, wire.NetplayStateHdr, time.Now().Add(stateTransferTimeout))
	if err != nil {
		ep.Close()
		s.setState(StateOff)
		return err
	}
	size, err := wire.DecodeNetplayStateHdr(hdrPayload)
	if err != nil {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: decode STATE_HDR: %w", err)
	}
	data, res := ep.ReadRawExact(int(size), time.Now().Add(stateTransferTimeout))
	if res != transport.Ok {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: read state stream: %v", res)
	}
	if err := s.stateProvider.Load(data); err != nil {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: load state: %w", err)
	}
	if r := ep.SendFrame(uint8(wire.NetplayStateAck), 0, 0, nil); r != transport.Ok {
		ep.Close()
		s.setState(StateOff)
		return fmt.Errorf("session: send STATE_ACK: %v", r)
	}
	if err := waitForCmd(ep, wire.NetplayReady, time.Now().Add(readyTimeout)); err != nil {
		ep.Close()
		s.setState(StateOff)
		return err
	}

	s.endpoint = ep
	s.engine = framesync.NewEngine(netplayLink{ep}, 1)
	s.engine.FB.SeedNeutral()
	localIP, _ := outboundIP()
	s.mu.Lock()
	s.localIP = localIP
	s.remoteIP = ep.RemoteIP()
	s.mu.Unlock()
	s.setState(StatePlaying)
	s.setStatusText("connected")

	go s.runFramePump()
	return nil
}

// runFramePump drives Engine.Tick with neutral local input until the
// caller's integration supplies real input via Tick (exposed for the
// emulator's frame loop to call directly instead, see Tick below); this
// default pump exists so Host/Join remain self-contained for headless use
// and tests.
func (s *NetplaySession) runFramePump() {
	s.pumpStop = make(chan struct{})
	s.pumpDone = make(chan struct{})
	defer close(s.pumpDone)
	for {
		select {
		case <-s.pumpStop:
			return
		default:
		}
		s.engine.Tick(0)
		if s.engine.Disconnected {
			if s.isHost {
				return
			}
			s.setState(StateDisconnected)
			return
		}
		switch s.engine.State {
		case framesync.StateStalled:
			s.setState(StateStalled)
		case framesync.StatePaused:
			s.setState(StatePaused)
		default:
			s.setState(StatePlaying)
		}
	}
}

// Tick lets the emulator's own frame loop drive one lockstep step with real
// input instead of the headless pump, returning the Action it should take.
// Safe to call only once runFramePump's default loop has been stopped via
// StopAutoPump.
func (s *NetplaySession) Tick(localInput uint16) framesync.Action {
	return s.engine.Tick(localInput)
}

// StopAutoPump halts the default headless pump so an emulator integration
// can drive Tick itself.
func (s *NetplaySession) StopAutoPump() {
	if s.pumpStop != nil {
		close(s.pumpStop)
		<-s.pumpDone
	}
}

// Pause/Resume mirror framesync.Engine's, notifying the peer.
func (s *NetplaySession) Pause() {
	if s.engine != nil {
		s.engine.Pause()
	}
}

func (s *NetplaySession) Resume() {
	if s.engine != nil {
		s.engine.Resume()
	}
}

// Disconnect tears the session down and releases every resource acquired
// since Idle (spec.md §3 invariant).
func (s *NetplaySession) Disconnect() error {
	if s.pumpStop != nil {
		select {
		case <-s.pumpStop:
		default:
			close(s.pumpStop)
		}
		<-s.pumpDone
	}
	if s.acceptStop != nil {
		select {
		case <-s.acceptStop:
		default:
			close(s.acceptStop)
		}
	}
	if s.endpoint != nil {
		s.endpoint.SendFrame(uint8(wire.NetplayDisconnect), 0, 0, nil)
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

func (s *NetplaySession) Status() StatusInfo { return s.status("netplay") }

func waitForCmd(ep *transport.Endpoint, want wire.NetplayCmd, deadline time.Time) error {
	_, err := waitForFrame(ep, want, deadline)
	return err
}

func waitForFrame(ep *transport.Endpoint, want wire.NetplayCmd, deadline time.Time) ([]byte, error) {
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
		if wire.NetplayCmd(f.Cmd) == want {
			return f.Payload, nil
		}
	}
}

func sendState(ep *transport.Endpoint, data []byte) error {
	if r := ep.SendFrame(uint8(wire.NetplayStateHdr), 0, 0, wire.EncodeNetplayStateHdr(uint32(len(data)))); r != transport.Ok {
		return fmt.Errorf("session: send STATE_HDR: %v", r)
	}
	for off := 0; off < len(data); off += stateChunkSize {
		end := off + stateChunkSize
		if end > len(data) {
			end = len(data)
		}
		if r := ep.WriteRaw(data[off:end]); r != transport.Ok {
			return fmt.Errorf("session: write state chunk: %v", r)
		}
	}
	return nil
}

// outboundIP picks the local address the kernel would use to reach the
// public internet, a common no-dependency trick for "what's my LAN IP".
func outboundIP() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), nil
}
