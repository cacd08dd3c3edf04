package transport

import (
	"encoding/binary"

	"github.com/nextui-link/linklayer/internal/wire"
)

// NetplayCodec implements HeaderCodec for the netplay wire format
// (cmd:u8 | frame:u32(BE) | size:u16(BE)). client_id is unused and ignored.
type NetplayCodec struct{}

func (NetplayCodec) HeaderSize() int { return wire.NetplayHeaderSize }

func (NetplayCodec) EncodeHeader(cmd uint8, frame uint32, _ uint16, payloadLen int) []byte {
	buf := make([]byte, wire.NetplayHeaderSize)
	buf[0] = cmd
	binary.BigEndian.PutUint32(buf[1:5], frame)
	binary.BigEndian.PutUint16(buf[5:7], uint16(payloadLen))
	return buf
}

func (NetplayCodec) DecodeHeader(header []byte) (cmd uint8, frame uint32, clientID uint16, size int, err error) {
	c, f, sz, err := wire.DecodeNetplayHeader(header)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return uint8(c), f, 0, int(sz), nil
}

// GBALinkCodec implements HeaderCodec for the GBA-link wire format
// (cmd:u8 | size:u16(BE) | client_id:u16(BE)). frame is unused and ignored.
type GBALinkCodec struct{}

func (GBALinkCodec) HeaderSize() int { return wire.GBALinkHeaderSize }

func (GBALinkCodec) EncodeHeader(cmd uint8, _ uint32, clientID uint16, payloadLen int) []byte {
	buf := make([]byte, wire.GBALinkHeaderSize)
	buf[0] = cmd
	binary.BigEndian.PutUint16(buf[1:3], uint16(payloadLen))
	binary.BigEndian.PutUint16(buf[3:5], clientID)
	return buf
}

func (GBALinkCodec) DecodeHeader(header []byte) (cmd uint8, frame uint32, clientID uint16, size int, err error) {
	c, sz, cid, err := wire.DecodeGBALinkHeader(header)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return uint8(c), 0, cid, int(sz), nil
}
