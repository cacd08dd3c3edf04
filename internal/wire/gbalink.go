package wire

import (
	"encoding/binary"
	"fmt"
)

// GBALinkCmd identifies a GBA-link TCP frame's payload semantics.
type GBALinkCmd uint8

// GBA link command bytes (spec.md §3/§6).
const (
	GBALinkSioData    GBALinkCmd = 0x01
	gbalinkReserved02 GBALinkCmd = 0x02 // reserved ping
	gbalinkReserved03 GBALinkCmd = 0x03 // reserved pong
	GBALinkDisconnect GBALinkCmd = 0x04
	GBALinkReady      GBALinkCmd = 0x05
	GBALinkHeartbeat  GBALinkCmd = 0x06
)

// GBALinkHeaderSize is cmd:u8 + size:u16(BE) + client_id:u16(BE).
const GBALinkHeaderSize = 1 + 2 + 2

// LinkModeFieldSize is the nul-padded ASCII width of a link_mode string on
// the wire (shared with the DiscoveryRecord's link_mode field).
const LinkModeFieldSize = 32

func (c GBALinkCmd) String() string {
	switch c {
	case GBALinkSioData:
		return "SIO_DATA"
	case GBALinkDisconnect:
		return "DISCONNECT"
	case GBALinkReady:
		return "READY"
	case GBALinkHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("CMD(0x%02x)", uint8(c))
	}
}

// GBALinkFrame is one decoded GBA-link wire frame.
type GBALinkFrame struct {
	Cmd      GBALinkCmd
	ClientID uint16
	Payload  []byte
}

// EncodeGBALinkFrame serializes cmd/client_id/payload into one wire frame.
func EncodeGBALinkFrame(cmd GBALinkCmd, clientID uint16, payload []byte) []byte {
	buf := make([]byte, GBALinkHeaderSize+len(payload))
	buf[0] = byte(cmd)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(payload)))
	binary.BigEndian.PutUint16(buf[3:5], clientID)
	copy(buf[5:], payload)
	return buf
}

// DecodeGBALinkHeader parses the fixed header out of buf.
func DecodeGBALinkHeader(buf []byte) (cmd GBALinkCmd, size uint16, clientID uint16, err error) {
	if len(buf) < GBALinkHeaderSize {
		return 0, 0, 0, fmt.Errorf("wire: short gbalink header (%d bytes)", len(buf))
	}
	cmd = GBALinkCmd(buf[0])
	size = binary.BigEndian.Uint16(buf[1:3])
	clientID = binary.BigEndian.Uint16(buf[3:5])
	return cmd, size, clientID, nil
}

// EncodeLinkModeField nul-pads mode to LinkModeFieldSize bytes, truncating
// if necessary (callers should avoid configuring modes that long).
func EncodeLinkModeField(mode string) []byte {
	buf := make([]byte, LinkModeFieldSize)
	n := copy(buf, mode)
	_ = n
	return buf
}

// DecodeLinkModeField trims trailing NULs from a fixed-width link_mode field.
func DecodeLinkModeField(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
