// Package wire encodes and decodes the fixed binary frame layouts used by
// the netplay, GBA-link, and discovery wire protocols.
package wire

import (
	"encoding/binary"
	"fmt"
)

// NetplayCmd identifies a netplay TCP frame's payload semantics.
type NetplayCmd uint8

// Netplay command bytes (spec.md §3/§6).
const (
	NetplayInput      NetplayCmd = 0x01
	netplayReserved02 NetplayCmd = 0x02 // reserved ping
	NetplayStateHdr   NetplayCmd = 0x03
	netplayReserved04 NetplayCmd = 0x04 // reserved pong
	NetplayStateAck   NetplayCmd = 0x05
	netplayReserved06 NetplayCmd = 0x06
	netplayReserved07 NetplayCmd = 0x07
	NetplayDisconnect NetplayCmd = 0x08
	NetplayReady      NetplayCmd = 0x09
	NetplayPause      NetplayCmd = 0x0A
	NetplayResume     NetplayCmd = 0x0B
	NetplayKeepalive  NetplayCmd = 0x0C
)

// NetplayHeaderSize is cmd:u8 + frame:u32(BE) + size:u16(BE).
const NetplayHeaderSize = 1 + 4 + 2

func (c NetplayCmd) String() string {
	switch c {
	case NetplayInput:
		return "INPUT"
	case NetplayStateHdr:
		return "STATE_HDR"
	case NetplayStateAck:
		return "STATE_ACK"
	case NetplayDisconnect:
		return "DISCONNECT"
	case NetplayReady:
		return "READY"
	case NetplayPause:
		return "PAUSE"
	case NetplayResume:
		return "RESUME"
	case NetplayKeepalive:
		return "KEEPALIVE"
	default:
		return fmt.Sprintf("CMD(0x%02x)", uint8(c))
	}
}

// NetplayFrame is one decoded netplay wire frame.
type NetplayFrame struct {
	Cmd     NetplayCmd
	Frame   uint32
	Payload []byte
}

// EncodeNetplayFrame serializes cmd/frame/payload into one wire frame.
// size is derived from len(payload); callers must keep payload within the
// per-command size any peer will accept (spec.md §6 table).
func EncodeNetplayFrame(cmd NetplayCmd, frame uint32, payload []byte) []byte {
	buf := make([]byte, NetplayHeaderSize+len(payload))
	buf[0] = byte(cmd)
	binary.BigEndian.PutUint32(buf[1:5], frame)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(payload)))
	copy(buf[7:], payload)
	return buf
}

// DecodeNetplayHeader parses the fixed header out of buf (which must be at
// least NetplayHeaderSize bytes) and returns the cmd, frame number, and
// declared payload size.
func DecodeNetplayHeader(buf []byte) (cmd NetplayCmd, frame uint32, size uint16, err error) {
	if len(buf) < NetplayHeaderSize {
		return 0, 0, 0, fmt.Errorf("wire: short netplay header (%d bytes)", len(buf))
	}
	cmd = NetplayCmd(buf[0])
	frame = binary.BigEndian.Uint32(buf[1:5])
	size = binary.BigEndian.Uint16(buf[5:7])
	return cmd, frame, size, nil
}

// EncodeNetplayInput packs a u16(BE) button bitmap, the INPUT payload shape.
func EncodeNetplayInput(buttons uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, buttons)
	return b
}

// DecodeNetplayInput unpacks an INPUT payload.
func DecodeNetplayInput(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("wire: INPUT payload must be 2 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload), nil
}

// EncodeNetplayStateHdr packs the u32(BE) byte count that follows as a raw
// state-transfer stream.
func EncodeNetplayStateHdr(size uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, size)
	return b
}

// DecodeNetplayStateHdr unpacks a STATE_HDR payload.
func DecodeNetplayStateHdr(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: STATE_HDR payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}
