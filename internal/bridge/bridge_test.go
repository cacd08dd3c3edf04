package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextui-link/linklayer/internal/wire"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewPendingPacketQueue()
	for i := 0; i < QueueSlots; i++ {
		require.True(t, q.Push(1, []byte{byte(i)}))
	}
	require.False(t, q.Push(1, []byte{0xFF}))
	require.Equal(t, QueueSlots, q.Len())

	_, data, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, []byte{0x00}, data)
}

func TestQueueRejectsOversizedPayload(t *testing.T) {
	q := NewPendingPacketQueue()
	require.False(t, q.Push(1, make([]byte, MaxSlotBytes+1)))
	require.Equal(t, 0, q.Len())
}

type fakeLink struct {
	in   []fakeFrame
	out  []fakeFrame
	pos  int
}

type fakeFrame struct {
	cmd      uint8
	clientID uint16
	payload  []byte
}

func (f *fakeLink) SendFrame(cmd uint8, clientID uint16, payload []byte) bool {
	f.out = append(f.out, fakeFrame{cmd, clientID, payload})
	return true
}

func (f *fakeLink) RecvFrame(timeout time.Duration) (cmd uint8, clientID uint16, payload []byte, ok bool) {
	if f.pos >= len(f.in) {
		return 0, 0, nil, false
	}
	fr := f.in[f.pos]
	f.pos++
	return fr.cmd, fr.clientID, fr.payload, true
}

func TestClientReceivesSIODataThroughQueue(t *testing.T) {
	link := &fakeLink{in: []fakeFrame{
		{cmd: uint8(wire.GBALinkSioData), clientID: 0, payload: []byte{0xAA, 0xBB}},
	}}

	var received []byte
	var receivedFrom uint16
	cbs := CoreCallbacks{
		Receive: func(data []byte, remoteClientID uint16) {
			received = append([]byte(nil), data...)
			receivedFrom = remoteClientID
		},
	}

	b := New(link, cbs, false)
	b.Start(time.Now())
	b.Tick(time.Now())

	require.Equal(t, []byte{0xAA, 0xBB}, received)
	require.Equal(t, uint16(0), receivedFrom)
}

func TestHostSendsHeartbeatWhenIdle(t *testing.T) {
	link := &fakeLink{}
	b := New(link, CoreCallbacks{}, true)
	start := time.Now()
	b.Start(start)

	b.Tick(start.Add(100 * time.Millisecond))
	require.Empty(t, link.out, "heartbeat should not fire before the interval elapses")

	b.Tick(start.Add(HeartbeatInterval + time.Millisecond))
	require.Len(t, link.out, 1)
	require.Equal(t, uint8(wire.GBALinkHeartbeat), link.out[0].cmd)
}

func TestClientNeverHeartbeats(t *testing.T) {
	link := &fakeLink{}
	b := New(link, CoreCallbacks{}, false)
	start := time.Now()
	b.Start(start)
	b.Tick(start.Add(10 * HeartbeatInterval))
	require.Empty(t, link.out)
}

func TestWatchdogDisconnectsAfterSilence(t *testing.T) {
	link := &fakeLink{}
	var disconnectedCalled bool
	cbs := CoreCallbacks{Disconnected: func() { disconnectedCalled = true }}
	b := New(link, cbs, true)
	start := time.Now()
	b.Start(start)

	b.Tick(start.Add(WatchdogTimeout + time.Second))
	require.True(t, b.Disconnected())
	require.True(t, disconnectedCalled)
	require.NotEmpty(t, link.out)
	require.Equal(t, uint8(wire.GBALinkDisconnect), link.out[len(link.out)-1].cmd)
}

func TestPeerDisconnectDoesNotEchoDisconnect(t *testing.T) {
	link := &fakeLink{in: []fakeFrame{{cmd: uint8(wire.GBALinkDisconnect)}}}
	var disconnectedCalled bool
	cbs := CoreCallbacks{Disconnected: func() { disconnectedCalled = true }}
	b := New(link, cbs, true)
	b.Start(time.Now())
	b.Tick(time.Now())

	require.True(t, b.Disconnected())
	require.True(t, disconnectedCalled)
	require.Empty(t, link.out, "should not echo DISCONNECT back to a peer that already sent it")
}

func TestHeartbeatRoundTripRecordsRTTSample(t *testing.T) {
	link := &fakeLink{}
	b := New(link, CoreCallbacks{}, true)
	start := time.Now()
	b.Start(start)

	b.Tick(start.Add(HeartbeatInterval + time.Millisecond))
	require.Len(t, link.out, 1, "heartbeat should have gone out")

	link.in = append(link.in, fakeFrame{cmd: uint8(wire.GBALinkSioData), clientID: 1, payload: []byte{0x01}})
	replyAt := start.Add(HeartbeatInterval + 20*time.Millisecond)
	b.Tick(replyAt)

	require.Equal(t, 19*time.Millisecond, b.Stats().Current())
}

func TestCheckSpikeFlagsALargeJumpOverThePreviousSample(t *testing.T) {
	link := &fakeLink{}
	b := New(link, CoreCallbacks{}, true)
	start := time.Now()
	b.Start(start)

	b.Tick(start.Add(HeartbeatInterval + time.Millisecond))
	link.in = append(link.in, fakeFrame{cmd: uint8(wire.GBALinkSioData), clientID: 1, payload: []byte{0x01}})
	b.Tick(start.Add(HeartbeatInterval + 20*time.Millisecond))

	spiked, _, _ := b.Stats().CheckSpike()
	require.False(t, spiked, "a single sample has nothing to compare against")

	secondHeartbeatAt := start.Add(2*HeartbeatInterval + time.Millisecond)
	b.Tick(secondHeartbeatAt)
	require.Len(t, link.out, 2, "second heartbeat should have gone out")

	link.in = append(link.in, fakeFrame{cmd: uint8(wire.GBALinkSioData), clientID: 1, payload: []byte{0x01}})
	b.Tick(secondHeartbeatAt.Add(60 * time.Millisecond))

	spiked, previous, current := b.Stats().CheckSpike()
	require.True(t, spiked)
	require.Equal(t, 19*time.Millisecond, previous)
	require.Equal(t, 60*time.Millisecond, current)
}

func TestSendUsesPeerClientID(t *testing.T) {
	link := &fakeLink{}
	b := New(link, CoreCallbacks{}, true) // host: own id 0, peer id 1
	b.Start(time.Now())
	ok := b.send([]byte{0x01})
	require.True(t, ok)
	require.Len(t, link.out, 1)
	require.Equal(t, uint16(1), link.out[0].clientID)
	require.Equal(t, uint8(wire.GBALinkSioData), link.out[0].cmd)
}
