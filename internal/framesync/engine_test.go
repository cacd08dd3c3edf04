package framesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type wireMsg struct {
	cmd     uint8
	frame   uint32
	payload []byte
}

// chanLink is an in-memory Link used to drive two Engines against each
// other without sockets, for the lockstep property tests (spec.md §8).
type chanLink struct {
	out  chan wireMsg
	in   chan wireMsg
	drop bool // when true, SendFrame silently discards (simulates a stopped peer)
}

func newLinkPair() (a, b *chanLink) {
	ab := make(chan wireMsg, 4096)
	ba := make(chan wireMsg, 4096)
	a = &chanLink{out: ab, in: ba}
	b = &chanLink{out: ba, in: ab}
	return a, b
}

func (l *chanLink) SendFrame(cmd uint8, frame uint32, payload []byte) bool {
	if l.drop {
		return true
	}
	cp := append([]byte(nil), payload...)
	l.out <- wireMsg{cmd, frame, cp}
	return true
}

func (l *chanLink) RecvFrame(timeout time.Duration) (cmd uint8, frame uint32, payload []byte, ok bool) {
	select {
	case m := <-l.in:
		return m.cmd, m.frame, m.payload, true
	case <-time.After(timeout):
		return 0, 0, nil, false
	}
}

func TestLockstepGoldenPath(t *testing.T) {
	hostLink, clientLink := newLinkPair()
	host := NewEngine(hostLink, 0)
	client := NewEngine(clientLink, 1)
	// Seed frames 0-1 with neutral input, as the session does after state
	// transfer.
	host.FB.SeedNeutral()
	client.FB.SeedNeutral()

	const totalFrames = 600
	hostRan, clientRan := uint32(0), uint32(0)
	// The ring keeps only the last RingSize frames, so each frame's inputs
	// are recorded as it runs.
	var hostP1, hostP2, clientP1, clientP2 [totalFrames]uint16

	for hostRan < totalFrames || clientRan < totalFrames {
		if hostRan < totalFrames {
			in := uint16(0x0001 * (hostRan + 1))
			if host.Tick(in) == ActionRunFrame {
				var ok1, ok2 bool
				hostP1[hostRan], ok1 = host.FB.GetInput(0, hostRan)
				hostP2[hostRan], ok2 = host.FB.GetInput(1, hostRan)
				require.True(t, ok1)
				require.True(t, ok2)
				hostRan++
			}
		}
		if clientRan < totalFrames {
			in := uint16(0x0100 * (clientRan + 1))
			if client.Tick(in) == ActionRunFrame {
				var ok1, ok2 bool
				clientP1[clientRan], ok1 = client.FB.GetInput(0, clientRan)
				clientP2[clientRan], ok2 = client.FB.GetInput(1, clientRan)
				require.True(t, ok1)
				require.True(t, ok2)
				clientRan++
			}
		}
	}

	require.Equal(t, uint32(totalFrames), host.RunFrame)
	require.Equal(t, uint32(totalFrames), client.RunFrame)
	require.Equal(t, 0, host.KeepalivesSent)
	require.Equal(t, 0, client.KeepalivesSent)
	require.Equal(t, StatePlaying, host.State)
	require.Equal(t, StatePlaying, client.State)

	for f := 0; f < totalFrames; f++ {
		require.Equal(t, hostP1[f], clientP1[f], "frame %d player1 mismatch", f)
		require.Equal(t, hostP2[f], clientP2[f], "frame %d player2 mismatch", f)
	}
}

func TestForcedStallDisconnectsAfterTimeout(t *testing.T) {
	hostLink, clientLink := newLinkPair()
	host := NewEngine(hostLink, 0)
	client := NewEngine(clientLink, 1)
	host.FB.SeedNeutral()
	client.FB.SeedNeutral()

	// Run 100 frames normally.
	for host.RunFrame < 100 {
		host.Tick(1)
		client.Tick(1)
	}
	require.Equal(t, uint32(0), uint32(host.KeepalivesSent))

	// Client stops sending entirely (simulates a vanished peer) but the
	// underlying channel is still open, so host's receives just time out.
	clientLink.drop = true

	stallTicks := 0
	for host.State != StateDisconnected {
		host.Tick(1)
		stallTicks++
		require.Less(t, stallTicks, StallTimeoutFrames+50, "should disconnect by now")
	}

	require.True(t, host.Disconnected)
	require.Greater(t, host.KeepalivesSent, 0)
	require.Equal(t, host.StallFrames/KeepaliveIntervalFrames, host.KeepalivesSent)
}

func TestPauseResumeDoesNotTimeOut(t *testing.T) {
	hostLink, clientLink := newLinkPair()
	host := NewEngine(hostLink, 0)
	client := NewEngine(clientLink, 1)
	host.FB.SeedNeutral()
	client.FB.SeedNeutral()

	for host.RunFrame < 50 {
		host.Tick(1)
		client.Tick(1)
	}

	host.Pause()
	// Deliver PAUSE to the client by ticking it once.
	client.Tick(1)
	require.Equal(t, StatePaused, client.State)

	// Simulate a long idle period: way more than StallTimeoutFrames ticks,
	// with no traffic at all other than control messages.
	for i := 0; i < StallTimeoutFrames*2; i++ {
		host.drainControlOnly()
	}
	require.NotEqual(t, StateDisconnected, host.State)

	host.Resume()
	client.Tick(1)
	require.Equal(t, StatePlaying, client.State)

	runFrameBefore := host.RunFrame
	for i := 0; i < 10; i++ {
		host.Tick(1)
		client.Tick(1)
	}
	require.Greater(t, host.RunFrame, runFrameBefore)
}

func TestKeepaliveCadence(t *testing.T) {
	hostLink, clientLink := newLinkPair()
	host := NewEngine(hostLink, 0)
	_ = clientLink
	clientLink.drop = true

	const n = 125
	for i := 0; i < n; i++ {
		host.Tick(1)
		if host.State == StateDisconnected {
			break
		}
	}
	require.Equal(t, host.StallFrames/KeepaliveIntervalFrames, host.KeepalivesSent)
}
