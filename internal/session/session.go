// Package session implements the three mode-specific Session variants
// (Netplay, GBALink, GBLink) behind one shared capability set (spec.md §9
// "Three modes, one menu"), plus the state machine all three share
// (spec.md §4.3).
package session

import (
	"fmt"
	"sync"
)

// State is the shared lifecycle state machine spec.md §3/§4.3 defines
// across all three modes.
type State int

const (
	StateOff State = iota
	StateWaiting
	StateConnecting
	StateSyncing
	StatePlaying
	StateStalled
	StatePaused
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "Off"
	case StateWaiting:
		return "Waiting"
	case StateConnecting:
		return "Connecting"
	case StateSyncing:
		return "Syncing"
	case StatePlaying:
		return "Playing"
	case StateStalled:
		return "Stalled"
	case StatePaused:
		return "Paused"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// HostConfig parameterizes start_host (spec.md §6).
type HostConfig struct {
	GameName  string
	GameCRC   uint32
	HotspotIP string // empty: bind on whatever NetworkControl reports as local_ip
	LinkMode  string // meaningful for GBALink only
}

// JoinConfig parameterizes connect (spec.md §6).
type JoinConfig struct {
	IP       string
	Port     int
	LinkMode string // meaningful for GBALink only; compared against host's
}

// ErrNeedsReload is returned by Join when a GBALink host/client link_mode
// mismatch is detected during the handshake (spec.md §4.3.1 step 4). The
// caller must reconfigure its core and reconnect, or abort.
type ErrNeedsReload struct {
	HostMode   string
	ClientMode string
}

func (e *ErrNeedsReload) Error() string {
	return fmt.Sprintf("session: link_mode mismatch: host=%q client=%q", e.HostMode, e.ClientMode)
}

// StatusInfo answers poll_status() (spec.md §6).
type StatusInfo struct {
	Mode       string
	State      State
	LocalIP    string
	RemoteIP   string
	StatusText string
}

// LinkType is the shared capability set the menu/orchestration layer
// consumes, implemented by each mode's Session type (spec.md §9 "Three
// modes, one menu"). Host/Join/Disconnect are safe to call from any
// goroutine; they serialize against the Session's own state.
type LinkType interface {
	Host(cfg HostConfig) error
	Join(cfg JoinConfig) error
	Disconnect() error
	Status() StatusInfo
}

// base holds the bookkeeping common to all three Session variants: the
// shared state machine and its guard mutex. Mode-specific sessions embed
// it and add their own fields (endpoint, engine, bridge, adapter, ...).
type base struct {
	mu         sync.Mutex
	state      State
	localIP    string
	remoteIP   string
	statusText string
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) getState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setStatusText(text string) {
	b.mu.Lock()
	b.statusText = text
	b.mu.Unlock()
}

func (b *base) status(mode string) StatusInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StatusInfo{
		Mode:       mode,
		State:      b.state,
		LocalIP:    b.localIP,
		RemoteIP:   b.remoteIP,
		StatusText: b.statusText,
	}
}
