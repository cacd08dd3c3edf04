package session

import (
	"fmt"

	"github.com/nextui-link/linklayer/internal/coreadapter"
	"github.com/nextui-link/linklayer/internal/discovery"
	"github.com/nextui-link/linklayer/internal/wire"
)

// GBLinkSession implements LinkType for the Game Boy link-cable control
// plane: the emulator core owns its own TCP client/server, so this session
// only writes core options and mirrors connection state from the core's log
// lines (spec.md §4.1 "GB Link" column, §4 data-flow diagram).
type GBLinkSession struct {
	base

	adapter    *coreadapter.CoreAdapter
	advertiser *discovery.Advertiser

	isHost bool
}

// NewGBLinkSession constructs a session that configures the core through
// writer and mirrors the core's connection state via ObserveLine.
func NewGBLinkSession(writer coreadapter.OptionWriter) *GBLinkSession {
	s := &GBLinkSession{}
	s.adapter = coreadapter.New(writer, s.onCoreStateChange)
	return s
}

// Host configures the core as host and starts advertising; the core opens
// its own listening socket independently once configured (spec.md §4.2,
// §4.1 "GB Link" column).
func (s *GBLinkSession) Host(cfg HostConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: gb-link already active")
	}
	if err := s.adapter.Configure(coreadapter.ModeHost, "", 0); err != nil {
		return fmt.Errorf("session: configure core: %w", err)
	}

	adv, err := discovery.NewAdvertiser("gb-link", func() wire.DiscoveryRecord {
		return wire.DiscoveryRecord{GameCRC: cfg.GameCRC, GameName: cfg.GameName}
	})
	if err != nil {
		return fmt.Errorf("session: advertiser: %w", err)
	}

	localIP := cfg.HotspotIP
	if localIP == "" {
		localIP, _ = outboundIP()
	}

	s.isHost = true
	s.advertiser = adv
	s.mu.Lock()
	s.localIP = localIP
	s.mu.Unlock()
	s.setState(StateWaiting)
	s.setStatusText("waiting for client")

	go adv.Run()
	return nil
}

// Join configures the core as client, pointed at the host's IP/port. The
// client never advertises; it is expected to have already learned the
// host's IP via a discovery query or manual entry (spec.md §4.2).
func (s *GBLinkSession) Join(cfg JoinConfig) error {
	if s.getState() != StateOff {
		return fmt.Errorf("session: gb-link already active")
	}
	s.isHost = false
	s.setState(StateConnecting)
	s.setStatusText(fmt.Sprintf("connecting to %s:%d", cfg.IP, cfg.Port))

	if err := s.adapter.Configure(coreadapter.ModeClient, cfg.IP, cfg.Port); err != nil {
		s.setState(StateOff)
		return fmt.Errorf("session: configure core: %w", err)
	}

	localIP, _ := outboundIP()
	s.mu.Lock()
	s.localIP = localIP
	s.remoteIP = cfg.IP
	s.mu.Unlock()
	return nil
}

// ObserveLine forwards one line of the core's log output to the
// CoreAdapter, the only path by which this session learns the core has
// started listening, connected, or closed its own TCP (spec.md §4.1 "GB
// Link" column). Callers wire this to however their log plumbing delivers
// core output.
func (s *GBLinkSession) ObserveLine(line string) {
	s.adapter.ObserveLine(line)
}

// onCoreStateChange mirrors the CoreAdapter's observed state into the
// session's shared state machine, applying the same host/client asymmetry
// (host returns to Waiting, client goes Disconnected) the other two modes
// use on connection loss (spec.md §4.3).
func (s *GBLinkSession) onCoreStateChange(change coreadapter.StateChange) {
	switch change.State {
	case coreadapter.StateListening:
		s.setState(StateWaiting)
	case coreadapter.StateConnecting:
		s.setState(StateConnecting)
	case coreadapter.StateConnected:
		if s.isHost && s.advertiser != nil {
			s.advertiser.Stop()
			s.advertiser.Join()
		}
		if change.PeerIP != "" {
			s.mu.Lock()
			s.remoteIP = change.PeerIP
			s.mu.Unlock()
		}
		s.setState(StatePlaying)
		s.setStatusText("connected")
	case coreadapter.StateClosed:
		if s.isHost {
			s.setState(StateWaiting)
			s.setStatusText("waiting for client")
			if s.advertiser != nil {
				if err := s.advertiser.Resume(); err == nil {
					go s.advertiser.Run()
				}
			}
		} else {
			s.setState(StateDisconnected)
		}
	case coreadapter.StateError:
		s.setState(StateError)
		s.setStatusText("core reported a link error")
	}
}

// Disconnect releases the session's own resources (the discovery socket);
// tearing down the core's own TCP connection is the core's responsibility
// once its options are reset, which is outside this layer (spec.md §3).
func (s *GBLinkSession) Disconnect() error {
	if s.advertiser != nil {
		s.advertiser.Stop()
		s.advertiser = nil
	}
	s.setState(StateOff)
	s.setStatusText("")
	return nil
}

func (s *GBLinkSession) Status() StatusInfo { return s.status("gb-link") }
