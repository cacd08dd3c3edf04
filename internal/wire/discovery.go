package wire

import (
	"encoding/binary"
	"fmt"
)

// Discovery magic constants are per-mode and per-direction. Each mode gets
// an advertise magic, a point-to-point query magic (…Q…), and a
// point-to-point response magic (…R…) so the three link modes never
// confuse each other's broadcasts on a shared network.
const (
	MagicNetplayAdvertise uint32 = 0x4E504C41 // "NPLA"
	MagicNetplayQuery     uint32 = 0x4E504C51 // "NPLQ"
	MagicNetplayResponse  uint32 = 0x4E504C52 // "NPLR"

	MagicGBALinkAdvertise uint32 = 0x47424C41 // "GBLA"
	MagicGBALinkQuery     uint32 = 0x47424C51 // "GBLQ"
	MagicGBALinkResponse  uint32 = 0x47424C52 // "GBLR"

	MagicGBLinkAdvertise uint32 = 0x47424341 // "GBCA"
	MagicGBLinkQuery     uint32 = 0x47424351 // "GBCQ"
	MagicGBLinkResponse  uint32 = 0x47424352 // "GBCR"
)

// ProtocolVersion is bumped whenever the DiscoveryRecord layout changes.
const ProtocolVersion uint32 = 1

// GameNameFieldSize is the fixed, nul-padded width of the game_name field.
const GameNameFieldSize = 64

// discoveryRecordSize is the encoded length: magic+version+crc+port (u32+u32+u32+u16)
// + game_name[64] + link_mode[32].
const discoveryRecordSize = 4 + 4 + 4 + 2 + GameNameFieldSize + LinkModeFieldSize

// DiscoveryRecord is the advertisement / host-table entry wire layout
// (spec.md §3), fixed-length, big-endian numerics.
type DiscoveryRecord struct {
	Magic           uint32
	ProtocolVersion uint32
	GameCRC         uint32
	Port            uint16
	GameName        string // <=64 bytes, nul-padded on the wire
	LinkMode        string // <=32 bytes, nul-padded; empty for non-GBALink modes

	// PeerIP is not part of the wire layout; it is filled in by the
	// receiver from the UDP source address and used as the dedup key.
	PeerIP string `json:"-"`
}

// Encode serializes r into the fixed DiscoveryRecord wire layout.
func (r DiscoveryRecord) Encode() []byte {
	buf := make([]byte, discoveryRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], r.Magic)
	binary.BigEndian.PutUint32(buf[4:8], r.ProtocolVersion)
	binary.BigEndian.PutUint32(buf[8:12], r.GameCRC)
	binary.BigEndian.PutUint16(buf[12:14], r.Port)
	copy(buf[14:14+GameNameFieldSize], r.GameName)
	copy(buf[14+GameNameFieldSize:], r.LinkMode)
	return buf
}

// DecodeDiscoveryRecord parses a wire-format DiscoveryRecord. PeerIP is left
// empty; callers fill it in from the UDP source address.
func DecodeDiscoveryRecord(buf []byte) (DiscoveryRecord, error) {
	if len(buf) < discoveryRecordSize {
		return DiscoveryRecord{}, fmt.Errorf("wire: short discovery record (%d bytes, want %d)", len(buf), discoveryRecordSize)
	}
	r := DiscoveryRecord{
		Magic:           binary.BigEndian.Uint32(buf[0:4]),
		ProtocolVersion: binary.BigEndian.Uint32(buf[4:8]),
		GameCRC:         binary.BigEndian.Uint32(buf[8:12]),
		Port:            binary.BigEndian.Uint16(buf[12:14]),
		GameName:        DecodeLinkModeField(buf[14 : 14+GameNameFieldSize]),
		LinkMode:        DecodeLinkModeField(buf[14+GameNameFieldSize : discoveryRecordSize]),
	}
	return r, nil
}

// ModeMagics bundles the three magic values for one link mode.
type ModeMagics struct {
	Advertise uint32
	Query     uint32
	Response  uint32
}

// MagicsFor returns the per-mode magic triple, used by the advertiser and
// searcher to stay deaf to the other two modes' traffic.
func MagicsFor(mode string) (ModeMagics, error) {
	switch mode {
	case "netplay":
		return ModeMagics{MagicNetplayAdvertise, MagicNetplayQuery, MagicNetplayResponse}, nil
	case "gba-link":
		return ModeMagics{MagicGBALinkAdvertise, MagicGBALinkQuery, MagicGBALinkResponse}, nil
	case "gb-link":
		return ModeMagics{MagicGBLinkAdvertise, MagicGBLinkQuery, MagicGBLinkResponse}, nil
	default:
		return ModeMagics{}, fmt.Errorf("wire: unknown link mode %q", mode)
	}
}
