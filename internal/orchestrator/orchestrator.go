// Package orchestrator owns the single active Session plus the
// PeerNetwork decision (station vs. hosted hotspot) that surrounds it
// (spec.md §4.6). It is the seam between the UI/application layer and
// the three session.LinkType implementations.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextui-link/linklayer/internal/bridge"
	"github.com/nextui-link/linklayer/internal/coreadapter"
	"github.com/nextui-link/linklayer/internal/discovery"
	"github.com/nextui-link/linklayer/internal/history"
	"github.com/nextui-link/linklayer/internal/network"
	"github.com/nextui-link/linklayer/internal/session"
)

// PeerNetworkKind distinguishes whether a session is riding an existing
// Wi-Fi station connection, a hotspot we stood up ourselves, or neither
// yet (spec.md §4.6 "PeerNetwork").
type PeerNetworkKind int

const (
	PeerNetworkNone PeerNetworkKind = iota
	PeerNetworkStation
	PeerNetworkHotspot
)

// PeerNetwork records how the two peers found each other's radio, so
// Disconnect knows what (if anything) to tear down.
type PeerNetwork struct {
	Kind     PeerNetworkKind
	SSID     string // Hotspot: the SSID we created
	Password string
}

// hotspotSuffixLen is how many characters of a fresh UUID become the
// hotspot SSID's random suffix (spec.md §4.6: "<prefix><4 random chars>").
const hotspotSuffixLen = 4

// Orchestrator owns exactly one active session.LinkType at a time and the
// PeerNetwork decision around it (spec.md §3 invariant: at most one
// active session).
type Orchestrator struct {
	mu sync.Mutex

	netctl network.Control
	hist   history.Recorder
	writer coreadapter.OptionWriter
	gbaCb  bridge.CoreCallbacks

	hotspotPrefix   string
	hotspotPassword string

	mode        string
	active      session.LinkType
	peerNetwork PeerNetwork
	sessionID   string
	startedAt   time.Time

	// gbalinkConnectedToHotspot records whether the currently active
	// GBA-link session reaches its peer over a hotspot (one we created as
	// host, or one we joined as client), versus a peer already sharing our
	// station network. Disconnect hands it to the async hotspot teardown,
	// which forgets the hotspot SSID only when the flag is set; the flag
	// belongs to the orchestrator (not the session), since a session has
	// no notion of PeerNetwork.
	gbalinkConnectedToHotspot bool
}

// New constructs an Orchestrator. writer is handed to GBLink sessions as
// their core-option sink (nil if GBLink mode is never used); gbaCb is
// handed to GBALink sessions as their emulator-core callback block (zero
// value if GBA-link mode is never used).
func New(netctl network.Control, hist history.Recorder, writer coreadapter.OptionWriter, gbaCb bridge.CoreCallbacks, hotspotPrefix, hotspotPassword string) *Orchestrator {
	return &Orchestrator{
		netctl:          netctl,
		hist:            hist,
		writer:          writer,
		gbaCb:           gbaCb,
		hotspotPrefix:   hotspotPrefix,
		hotspotPassword: hotspotPassword,
	}
}

// HostConfig is the orchestrator-level host request: a session.HostConfig
// plus the PeerNetwork decision (spec.md §4.6).
type HostConfig struct {
	session.HostConfig
	UseHotspot bool // true: stand up a hotspot; false: host on the existing station network
}

// Host starts hosting in the given mode ("netplay", "gba-link", "gb-link"),
// standing up a hotspot first when requested.
func (o *Orchestrator) Host(mode string, cfg HostConfig) error {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return errors.New("orchestrator: a session is already active")
	}
	o.mu.Unlock()

	peerNet := PeerNetwork{Kind: PeerNetworkStation}
	if cfg.UseHotspot {
		ssid := o.hotspotSSID()
		res := o.netctl.StartAP(ssid, o.hotspotPassword)
		if !res.OK {
			return fmt.Errorf("orchestrator: start hotspot: %s", res.Message)
		}
		cfg.HotspotIP = network.APGatewayIP
		peerNet = PeerNetwork{Kind: PeerNetworkHotspot, SSID: ssid, Password: o.hotspotPassword}
	}

	sess, err := o.newSession(mode)
	if err != nil {
		return err
	}
	if err := sess.Host(cfg.HostConfig); err != nil {
		if cfg.UseHotspot {
			o.netctl.StopAP()
		}
		return err
	}

	o.mu.Lock()
	o.mode = mode
	o.active = sess
	o.peerNetwork = peerNet
	o.sessionID = uuid.New().String()
	o.startedAt = time.Now()
	o.gbalinkConnectedToHotspot = cfg.UseHotspot && mode == "gba-link"
	o.mu.Unlock()
	return nil
}

// JoinConfig is the orchestrator-level join request.
type JoinConfig struct {
	session.JoinConfig
	ConnectedOverHotspot bool // true if IP is a hotspot we joined to reach this peer
}

// ErrIncompatible is returned when a GBA-link compatibility probe finds a
// host whose link_mode doesn't match ours, before any TCP connection is
// opened (spec.md §4.6 "compatibility check"). Unlike session.ErrNeedsReload
// (discovered mid-handshake), this is discovered up front over UDP.
type ErrIncompatible struct {
	HostMode   string
	ClientMode string
}

func (e *ErrIncompatible) Error() string {
	return fmt.Sprintf("orchestrator: incompatible link_mode: host=%q ours=%q", e.HostMode, e.ClientMode)
}

// Join connects to a host in the given mode. For gba-link, it first
// queries the host's advertised link_mode over UDP (spec.md §4.6
// "compatibility check") so a mismatch can be surfaced to the user before
// any TCP connection is attempted; the orchestrator never changes the
// caller's core option on its own, it only reports the mismatch.
func (o *Orchestrator) Join(mode string, cfg JoinConfig) error {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return errors.New("orchestrator: a session is already active")
	}
	o.mu.Unlock()

	if mode == "gba-link" {
		rec, err := discovery.Query(mode, cfg.IP, mustPort(mode))
		if err == nil && rec.LinkMode != "" && rec.LinkMode != cfg.LinkMode {
			return &ErrIncompatible{HostMode: rec.LinkMode, ClientMode: cfg.LinkMode}
		}
		// A query timeout is not itself fatal: the host may simply be on an
		// older build that doesn't answer queries. Fall through to the TCP
		// handshake, which still performs its own mode check.
	}

	sess, err := o.newSession(mode)
	if err != nil {
		return err
	}
	if err := sess.Join(cfg.JoinConfig); err != nil {
		return err
	}

	o.mu.Lock()
	o.mode = mode
	o.active = sess
	o.sessionID = uuid.New().String()
	o.startedAt = time.Now()
	if cfg.ConnectedOverHotspot {
		o.peerNetwork = PeerNetwork{Kind: PeerNetworkHotspot}
	} else {
		o.peerNetwork = PeerNetwork{Kind: PeerNetworkStation}
	}
	o.gbalinkConnectedToHotspot = cfg.ConnectedOverHotspot && mode == "gba-link"
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) newSession(mode string) (session.LinkType, error) {
	switch mode {
	case "netplay":
		return session.NewNetplaySession(nil), nil
	case "gba-link":
		return session.NewGBALinkSession(o.gbaCb), nil
	case "gb-link":
		if o.writer == nil {
			return nil, errors.New("orchestrator: gb-link mode requires an OptionWriter")
		}
		return session.NewGBLinkSession(o.writer), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown mode %q", mode)
	}
}

// Disconnect tears the active session down synchronously (the UI gets
// control back immediately), then tears down any PeerNetwork we own
// asynchronously, since restoring the prior station connection can take
// longer than any caller should have to wait (spec.md §4.6).
//
// The gbalinkConnectedToHotspot flag is captured and cleared under the
// orchestrator's own mutex before the async teardown goroutine reads it,
// so a fresh Host/Join racing in right after this call can never observe
// or be confused by the previous session's flag (Open Question #1,
// SPEC_FULL.md §13: "capture then clear").
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	sess := o.active
	peerNet := o.peerNetwork
	sessionID := o.sessionID
	mode := o.mode
	startedAt := o.startedAt
	usedHotspot := o.gbalinkConnectedToHotspot
	o.gbalinkConnectedToHotspot = false
	o.active = nil
	o.mode = ""
	o.peerNetwork = PeerNetwork{}
	o.mu.Unlock()

	if sess == nil {
		return nil
	}

	status := sess.Status()
	err := sess.Disconnect()

	if o.hist != nil {
		o.hist.Record(history.Record{
			SessionID:       sessionID,
			Mode:            mode,
			PeerIP:          status.RemoteIP,
			StartedAt:       startedAt,
			EndedAt:         time.Now(),
			DisconnectCause: status.StatusText,
		})
	}

	if peerNet.Kind == PeerNetworkHotspot {
		go o.teardownHotspot(peerNet.SSID, usedHotspot)
	}

	return err
}

// teardownHotspot stops the AP radio, forgets ssid when forget is set and
// ssid is known, and restores whatever station connection we were on
// before we stood the hotspot up. It runs off the synchronous Disconnect
// path because Wi-Fi restoration can take noticeably longer than a UI
// should have to block for.
func (o *Orchestrator) teardownHotspot(ssid string, forget bool) {
	o.netctl.StopAP()
	if forget && ssid != "" {
		o.netctl.ForgetStation(ssid)
	}
	o.netctl.RestoreSavedStation()
}

// Status reports the active session's status, or the zero StatusInfo
// (State: Off) when nothing is active.
func (o *Orchestrator) Status() session.StatusInfo {
	o.mu.Lock()
	sess := o.active
	o.mu.Unlock()
	if sess == nil {
		return session.StatusInfo{State: session.StateOff}
	}
	return sess.Status()
}

// hotspotSSID derives "<prefix><4 random chars>" (spec.md §4.6) using a
// UUID as the entropy source rather than a hand-rolled RNG.
func (o *Orchestrator) hotspotSSID() string {
	suffix := uuid.New().String()[:hotspotSuffixLen]
	return o.hotspotPrefix + suffix
}

func mustPort(mode string) int {
	p, err := discovery.Port(mode)
	if err != nil {
		// mode is always one of the three callers validate above; a panic
		// here means newSession's switch and this one have drifted apart.
		panic(err)
	}
	return p
}
