package bridge

import (
	"time"

	"github.com/nextui-link/linklayer/internal/wire"
)

// HeartbeatInterval is how often a host addresses a HEARTBEAT to client_id=0
// when idle (spec.md §4.5 step 5). Clients never heartbeat.
const HeartbeatInterval = 500 * time.Millisecond

// WatchdogTimeout disconnects a peer that has gone silent for this long,
// catching TCP peers the OS keepalive has not yet reaped (spec.md §4.5).
const WatchdogTimeout = 60 * time.Second

// Link is the narrow send/recv capability Bridge needs from a transport
// endpoint, decoupled from internal/transport so tests can drive a Bridge
// with an in-memory fake instead of a real socket.
type Link interface {
	SendFrame(cmd uint8, clientID uint16, payload []byte) bool
	RecvFrame(timeout time.Duration) (cmd uint8, clientID uint16, payload []byte, ok bool)
}

// CoreCallbacks is the callback block the emulator core registers at
// init (spec.md §4.5, §6 "Interface to emulator core"). All fields are
// optional; a nil callback is simply not invoked.
type CoreCallbacks struct {
	Start        func(clientID uint16, send func(payload []byte) bool, pollReceive func())
	Stop         func()
	Receive      func(data []byte, remoteClientID uint16)
	PollReceive  func()
	Connected    func(remoteClientID uint16)
	Disconnected func()
}

// Bridge ferries opaque SIO_DATA payloads between one core-callback block
// and one transport Link, maintaining the PendingPacketQueue and the
// heartbeat/watchdog schedule (spec.md §4.5).
type Bridge struct {
	link      Link
	callbacks CoreCallbacks
	queue     *PendingPacketQueue

	isHost   bool
	clientID uint16 // own id: host=0, client=1
	peerID   uint16

	lastSentAt     time.Time
	lastReceivedAt time.Time

	started      bool
	watchdogArmed bool
	disconnected bool

	stats               *Stats
	pendingHeartbeatAt  time.Time
}

// New constructs a Bridge. isHost determines heartbeat behavior (only hosts
// heartbeat) and own client_id (0 for host, 1 for client).
func New(link Link, callbacks CoreCallbacks, isHost bool) *Bridge {
	clientID, peerID := uint16(1), uint16(0)
	if isHost {
		clientID, peerID = 0, 1
	}
	return &Bridge{
		link:      link,
		callbacks: callbacks,
		queue:     NewPendingPacketQueue(),
		isHost:    isHost,
		clientID:  clientID,
		peerID:    peerID,
		stats:     &Stats{},
	}
}

// Stats returns the bridge's rolling RTT statistics (a supplemental
// observability surface; spec.md's wire protocol has no ping/pong of its
// own, so RTT is inferred from the host's HEARTBEAT-to-next-frame gap).
func (b *Bridge) Stats() *Stats { return b.stats }

// Start invokes the core's start/connected callbacks, arms the watchdog,
// and stamps both timestamps at "now" (spec.md §4.5 step 1-2).
func (b *Bridge) Start(now time.Time) {
	b.lastSentAt = now
	b.lastReceivedAt = now
	b.started = true
	b.watchdogArmed = true
	if b.callbacks.Start != nil {
		b.callbacks.Start(b.clientID, b.send, b.pollReceiveForCore)
	}
	if b.callbacks.Connected != nil {
		b.callbacks.Connected(b.peerID)
	}
}

// send is the function given to the core at Start time; it addresses
// SIO_DATA to the bridge's peer over the Link.
func (b *Bridge) send(payload []byte) bool {
	if !b.link.SendFrame(uint8(wire.GBALinkSioData), b.peerID, payload) {
		return false
	}
	b.lastSentAt = time.Now()
	return true
}

// pollReceiveForCore is the poll_receive synonym passed to the core; it is
// the same drain Tick performs on its own schedule, offered so the core can
// force an out-of-band drain if its callback model calls for one.
func (b *Bridge) pollReceiveForCore() {
	b.drainQueue()
}

// Tick runs one frame tick of the bridge's schedule: poll incoming frames,
// enqueue/dispatch them, emit a heartbeat if due, then drain the queue to
// the core (spec.md §4.5). now is passed in rather than read internally so
// tests can drive deterministic time.
func (b *Bridge) Tick(now time.Time) {
	if b.disconnected {
		return
	}

	for i := 0; i < MaxPacketsPerPoll; i++ {
		cmd, _, payload, ok := b.link.RecvFrame(0)
		if !ok {
			break
		}
		b.lastReceivedAt = now
		if !b.pendingHeartbeatAt.IsZero() {
			b.stats.addRTTSample(now.Sub(b.pendingHeartbeatAt))
			b.pendingHeartbeatAt = time.Time{}
		}
		switch wire.GBALinkCmd(cmd) {
		case wire.GBALinkSioData:
			// The header's client_id names the addressee (this side); the
			// packet originates from the peer.
			b.queue.Push(b.peerID, payload)
		case wire.GBALinkHeartbeat:
			// no-op beyond the last_received_at refresh above.
		case wire.GBALinkDisconnect:
			b.teardown(false)
			return
		}
	}

	if b.watchdogArmed && now.Sub(b.lastReceivedAt) > WatchdogTimeout {
		b.teardown(true)
		return
	}

	if b.isHost && now.Sub(b.lastSentAt) >= HeartbeatInterval {
		if b.link.SendFrame(uint8(wire.GBALinkHeartbeat), 0, nil) {
			b.lastSentAt = now
			b.pendingHeartbeatAt = now
		}
	}

	b.drainQueue()
}

// drainQueue hands up to MaxPacketsPerPoll queued packets to the core's
// Receive callback (spec.md §4.5 step 6).
func (b *Bridge) drainQueue() {
	for i := 0; i < MaxPacketsPerPoll; i++ {
		clientID, data, ok := b.queue.Pop()
		if !ok {
			return
		}
		if b.callbacks.Receive != nil {
			b.callbacks.Receive(data, clientID)
		}
	}
}

// teardown runs the role-appropriate local cleanup (spec.md §4.3): notify
// the peer only when the peer hasn't already told us it's gone.
func (b *Bridge) teardown(notifyPeer bool) {
	if b.disconnected {
		return
	}
	b.disconnected = true
	if notifyPeer {
		b.link.SendFrame(uint8(wire.GBALinkDisconnect), b.peerID, nil)
	}
	if b.callbacks.Stop != nil {
		b.callbacks.Stop()
	}
	if b.callbacks.Disconnected != nil {
		b.callbacks.Disconnected()
	}
}

// Disconnected reports whether the bridge has torn down (peer DISCONNECT,
// watchdog timeout, or an explicit Disconnect call).
func (b *Bridge) Disconnected() bool { return b.disconnected }

// Disconnect tears the bridge down from the local side, notifying the peer.
func (b *Bridge) Disconnect() { b.teardown(true) }

// QueueLen exposes the current PendingPacketQueue depth, for status/metrics
// reporting.
func (b *Bridge) QueueLen() int { return b.queue.Len() }
