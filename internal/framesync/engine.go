package framesync

import (
	"time"

	"github.com/nextui-link/linklayer/internal/wire"
)

// Link is the narrow send/recv capability Engine needs from a transport
// endpoint. Production code backs it with a transport.Endpoint; tests back
// it with an in-memory channel pair to exercise lockstep without sockets.
type Link interface {
	SendFrame(cmd uint8, frame uint32, payload []byte) bool
	RecvFrame(timeout time.Duration) (cmd uint8, frame uint32, payload []byte, ok bool)
}

// State is the engine's local notion of play/stall/pause, a refinement of
// the session-level lifecycle state (spec.md §3) scoped to frame advance.
type State int

const (
	StatePlaying State = iota
	StateStalled
	StatePaused
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "Playing"
	case StateStalled:
		return "Stalled"
	case StatePaused:
		return "Paused"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Action is what the caller's emulator loop should do this tick.
type Action int

const (
	ActionRunFrame Action = iota
	ActionSkipFrame
)

// Engine drives the per-frame lockstep algorithm of spec.md §4.4 for one
// side of a netplay session. The local player index is NewEngine's
// localPlayer argument and the remote side takes the other index (host is
// always player 0, client is always player 1 by convention established at
// connect time).
type Engine struct {
	FB *FrameBuffer

	localPlayer  int // 0 or 1
	remotePlayer int

	RunFrame  uint32
	SelfFrame uint32

	StallFrames int
	State       State

	LocalPaused  bool
	RemotePaused bool

	KeepalivesSent int
	Disconnected   bool

	link Link
}

// NewEngine constructs an Engine for localPlayer (0=host, 1=client).
func NewEngine(link Link, localPlayer int) *Engine {
	remote := 1
	if localPlayer == 1 {
		remote = 0
	}
	return &Engine{
		FB:           NewFrameBuffer(),
		localPlayer:  localPlayer,
		remotePlayer: remote,
		SelfFrame:    InputLatencyFrames,
		link:         link,
		State:        StatePlaying,
	}
}

// AudioShouldSilence reports whether the caller's emulator loop should mute
// output this tick (true for the whole duration of a stall, spec.md §4.4).
func (e *Engine) AudioShouldSilence() bool { return e.State == StateStalled }

// Tick runs one iteration of the per-frame algorithm: stamps & sends local
// input, drains up to 10 incoming frames (16ms poll each), and decides
// whether run_frame's slot is ready to execute.
func (e *Engine) Tick(localInput uint16) Action {
	if e.State == StatePaused {
		e.drainControlOnly()
		return ActionSkipFrame
	}

	hadLocal := e.FB.HasInput(e.localPlayer, e.SelfFrame)
	e.FB.SetInput(e.localPlayer, e.SelfFrame, localInput)
	if !hadLocal {
		e.sendInput(e.SelfFrame, localInput)
	}

	for i := 0; i < 10; i++ {
		if !e.pollOnce() {
			break
		}
		if e.Disconnected {
			return ActionSkipFrame
		}
		if e.State == StatePaused {
			return ActionSkipFrame
		}
		if e.FB.Complete(e.RunFrame) {
			break
		}
	}

	if !e.FB.Complete(e.RunFrame) {
		e.StallFrames++
		if e.StallFrames%KeepaliveIntervalFrames == 0 {
			e.sendKeepalive()
		}
		if e.StallFrames > StallTimeoutFrames && !e.LocalPaused && !e.RemotePaused {
			e.Disconnected = true
			e.State = StateDisconnected
			return ActionSkipFrame
		}
		e.State = StateStalled
		return ActionSkipFrame
	}

	e.StallFrames = 0
	e.State = StatePlaying
	e.RunFrame++
	e.SelfFrame++
	return ActionRunFrame
}

func (e *Engine) sendInput(frame uint32, input uint16) {
	e.link.SendFrame(uint8(wire.NetplayInput), frame, wire.EncodeNetplayInput(input))
}

func (e *Engine) sendKeepalive() {
	e.link.SendFrame(uint8(wire.NetplayKeepalive), e.SelfFrame, nil)
	e.KeepalivesSent++
}

// pollOnce receives and dispatches one frame with a 16ms timeout. Returns
// false if nothing arrived (timeout), matching the "poll receive with 16ms
// timeout" step of spec.md §4.4.
func (e *Engine) pollOnce() bool {
	cmd, frame, payload, ok := e.link.RecvFrame(16 * time.Millisecond)
	if !ok {
		return false
	}
	e.dispatch(wire.NetplayCmd(cmd), frame, payload)
	return true
}

// drainControlOnly services one incoming frame while paused, without
// stamping or sending local input — a paused session still needs to notice
// RESUME and DISCONNECT (spec.md §4.3's "any connected" transitions apply
// regardless of pause state). An INPUT frame received here is still stored
// in the frame buffer by dispatch.
func (e *Engine) drainControlOnly() {
	cmd, frame, payload, ok := e.link.RecvFrame(16 * time.Millisecond)
	if !ok {
		return
	}
	e.dispatch(wire.NetplayCmd(cmd), frame, payload)
}

func (e *Engine) dispatch(cmd wire.NetplayCmd, frame uint32, payload []byte) {
	switch cmd {
	case wire.NetplayInput:
		input, err := wire.DecodeNetplayInput(payload)
		if err != nil {
			return
		}
		e.FB.SetInput(e.remotePlayer, frame, input)
	case wire.NetplayPause:
		e.RemotePaused = true
		e.State = StatePaused
	case wire.NetplayResume:
		e.RemotePaused = false
		if !e.LocalPaused {
			e.State = StatePlaying
		}
	case wire.NetplayKeepalive:
		// liveness only, no semantic effect beyond the caller's
		// last-received-at bookkeeping (tracked at the Endpoint layer).
	case wire.NetplayDisconnect:
		e.Disconnected = true
		e.State = StateDisconnected
	}
}

// Pause transitions the local side to Paused and notifies the peer.
func (e *Engine) Pause() {
	if e.LocalPaused {
		return
	}
	e.LocalPaused = true
	e.State = StatePaused
	e.link.SendFrame(uint8(wire.NetplayPause), e.SelfFrame, nil)
}

// Resume transitions the local side out of Paused and notifies the peer.
func (e *Engine) Resume() {
	if !e.LocalPaused {
		return
	}
	e.LocalPaused = false
	if !e.RemotePaused {
		e.State = StatePlaying
	}
	e.link.SendFrame(uint8(wire.NetplayResume), e.SelfFrame, nil)
}
