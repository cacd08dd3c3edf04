// Package coreadapter implements CoreAdapter for GB Link: the emulator
// core owns its own TCP client/server for link-cable emulation, so this
// layer only writes the core's configuration options (mode, peer IP, peer
// port) and mirrors connection state by watching the core's log lines
// (spec.md §4.1/§6, GB Link column).
package coreadapter

import (
	"fmt"
	"regexp"
)

// Mode is the GB Link role written to the core's options.
type Mode string

const (
	ModeHost   Mode = "host"
	ModeClient Mode = "client"
)

// State mirrors the core's link-cable connection lifecycle as inferred from
// its log output. The core is the source of truth; this is our best-effort
// shadow of it.
type State int

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// OptionWriter is the narrow capability CoreAdapter needs to push values
// into the emulator core's option store. Production code backs this with
// whatever the core binding exposes (a libretro-style variable table, a
// config file, ...); tests back it with an in-memory map.
type OptionWriter interface {
	SetCoreOption(key, value string) error
}

// Option key names written to the core, in the fixed order CoreAdapter
// writes them (mode before peer_ip before peer_port, since some cores
// validate peer_ip/peer_port only once mode is already set).
const (
	OptionLinkMode = "gb_link_mode"
	OptionPeerIP   = "gb_link_peer_ip"
	OptionPeerPort = "gb_link_peer_port"
)

// logLinePattern extracts a tag (and optional "ip:port") from a core log
// line of the form "GB_LINK: <tag>" or "GB_LINK: <tag> 10.0.0.5:5000".
var logLinePattern = regexp.MustCompile(`^GB_LINK:\s*(\w+)(?:\s+([0-9.]+):(\d+))?`)

// StateChange is reported to an optional observer every time ObserveLine
// mirrors a new state from the core's output.
type StateChange struct {
	State    State
	PeerIP   string
	PeerPort int
	Raw      string
}

// CoreAdapter configures the core's GB Link options and mirrors its
// connection state from log lines (spec.md: "CoreAdapter ... 3%").
type CoreAdapter struct {
	writer OptionWriter
	state  State

	onChange func(StateChange)
}

// New constructs a CoreAdapter writing options through writer. onChange,
// if non-nil, is invoked synchronously from ObserveLine on every state
// transition.
func New(writer OptionWriter, onChange func(StateChange)) *CoreAdapter {
	return &CoreAdapter{writer: writer, state: StateIdle, onChange: onChange}
}

// Configure writes the core's mode/peer_ip/peer_port options in the fixed
// order the core expects (spec.md: "UI → CoreAdapter writes core options;
// core opens its own TCP"). peerIP/peerPort are only meaningful for
// ModeClient; a host leaves them at the core's own defaults (empty/0).
func (c *CoreAdapter) Configure(mode Mode, peerIP string, peerPort int) error {
	if err := c.writer.SetCoreOption(OptionLinkMode, string(mode)); err != nil {
		return fmt.Errorf("coreadapter: set %s: %w", OptionLinkMode, err)
	}
	if mode != ModeClient {
		return nil
	}
	if err := c.writer.SetCoreOption(OptionPeerIP, peerIP); err != nil {
		return fmt.Errorf("coreadapter: set %s: %w", OptionPeerIP, err)
	}
	if err := c.writer.SetCoreOption(OptionPeerPort, fmt.Sprintf("%d", peerPort)); err != nil {
		return fmt.Errorf("coreadapter: set %s: %w", OptionPeerPort, err)
	}
	return nil
}

// State returns the last state mirrored from the core's log output.
func (c *CoreAdapter) State() State { return c.state }

// ObserveLine inspects one line of the core's log output and updates the
// mirrored connection state, invoking onChange if the state changed. Lines
// that don't match the expected tag format are ignored (spec.md's
// "Transient" error kind: nothing to surface).
func (c *CoreAdapter) ObserveLine(line string) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	tag, ip, port := m[1], m[2], m[3]

	next, ok := tagToState[tag]
	if !ok || next == c.state {
		return
	}
	c.state = next

	if c.onChange == nil {
		return
	}
	change := StateChange{State: next, PeerIP: ip, Raw: line}
	if port != "" {
		fmt.Sscanf(port, "%d", &change.PeerPort)
	}
	c.onChange(change)
}

var tagToState = map[string]State{
	"listening":  StateListening,
	"connecting": StateConnecting,
	"connected":  StateConnected,
	"closed":     StateClosed,
	"error":      StateError,
}
