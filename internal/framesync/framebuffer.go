// Package framesync implements the netplay lockstep engine: the fixed
// 64-slot FrameBuffer ring and the per-frame advance algorithm (spec.md
// §3, §4.4).
package framesync

// RingSize is the fixed number of slots in the FrameBuffer ring.
const RingSize = 64

// InputLatencyFrames is how far ahead of run_frame local input is stamped
// and sent (spec.md §4.4).
const InputLatencyFrames = 2

// StallTimeoutFrames is how many consecutive incomplete-frame polls are
// tolerated (while unpaused) before the session disconnects (spec.md §4.4).
const StallTimeoutFrames = 180

// KeepaliveIntervalFrames is the stall-frame cadence at which a KEEPALIVE
// is sent while stalled (spec.md §4.4).
const KeepaliveIntervalFrames = 30

// slot holds both players' input for one frame. have_p1/have_p2 are
// one-shot: set only the first time a side's input arrives for that frame.
type slot struct {
	frame  uint32
	p1, p2 uint16
	haveP1 bool
	haveP2 bool
}

// Complete reports whether both sides have posted input for this slot.
func (s slot) Complete() bool { return s.haveP1 && s.haveP2 }

// FrameBuffer is the fixed 64-slot ring indexed by frame&63.
type FrameBuffer struct {
	slots [RingSize]slot
}

// NewFrameBuffer returns an empty ring.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

func idx(frame uint32) uint32 { return frame % RingSize }

// resetSlotIfStale clears a slot the first time a new frame number claims
// it, since the ring reuses slots every RingSize frames.
func (fb *FrameBuffer) resetSlotIfStale(frame uint32) *slot {
	s := &fb.slots[idx(frame)]
	if s.frame != frame || (!s.haveP1 && !s.haveP2) {
		if s.frame != frame {
			*s = slot{frame: frame}
		}
	}
	return s
}

// SetInput posts one side's input for frame, if not already set (one-shot
// write per slot per side, spec.md §3). p is 0 for player 1, 1 for player 2.
func (fb *FrameBuffer) SetInput(p int, frame uint32, input uint16) {
	s := fb.resetSlotIfStale(frame)
	switch p {
	case 0:
		if !s.haveP1 {
			s.p1 = input
			s.haveP1 = true
		}
	case 1:
		if !s.haveP2 {
			s.p2 = input
			s.haveP2 = true
		}
	}
}

// HasInput reports whether p's one-shot input has already been posted for
// frame, used to decide whether the local side still needs to send it.
func (fb *FrameBuffer) HasInput(p int, frame uint32) bool {
	s := &fb.slots[idx(frame)]
	if s.frame != frame {
		return false
	}
	if p == 0 {
		return s.haveP1
	}
	return s.haveP2
}

// GetInput returns p's input for frame and whether it has been posted yet.
func (fb *FrameBuffer) GetInput(p int, frame uint32) (uint16, bool) {
	s := &fb.slots[idx(frame)]
	if s.frame != frame {
		return 0, false
	}
	if p == 0 {
		return s.p1, s.haveP1
	}
	return s.p2, s.haveP2
}

// Complete reports whether frame's slot has both sides posted.
func (fb *FrameBuffer) Complete(frame uint32) bool {
	s := &fb.slots[idx(frame)]
	return s.frame == frame && s.Complete()
}

// SeedNeutral pre-fills the first InputLatencyFrames slots with a neutral
// (zero) input for both sides, used after initial state transfer completes
// so the client's frame buffer starts primed (spec.md §4.4).
func (fb *FrameBuffer) SeedNeutral() {
	for f := uint32(0); f < InputLatencyFrames; f++ {
		fb.slots[idx(f)] = slot{frame: f, haveP1: true, haveP2: true}
	}
}
