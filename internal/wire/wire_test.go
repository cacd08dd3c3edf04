package wire

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

func TestNetplayFrameRoundTrip(t *testing.T) {
	gofakeit.Seed(1)
	for i := 0; i < 200; i++ {
		frame := gofakeit.Uint32()
		size := gofakeit.Number(0, 512)
		payload := make([]byte, size)
		for j := range payload {
			payload[j] = byte(gofakeit.Number(0, 255))
		}
		want := NetplayInput
		buf := EncodeNetplayFrame(want, frame, payload)

		gotCmd, gotFrame, gotSize, err := DecodeNetplayHeader(buf)
		require.NoError(t, err)
		require.Equal(t, want, gotCmd)
		require.Equal(t, frame, gotFrame)
		require.EqualValues(t, len(payload), gotSize)
		require.Equal(t, payload, buf[NetplayHeaderSize:NetplayHeaderSize+int(gotSize)])
	}
}

func TestNetplayFrameFixedVector(t *testing.T) {
	buf := EncodeNetplayFrame(NetplayInput, 0x00000002, EncodeNetplayInput(0xBEEF))
	require.Equal(t, []byte{
		0x01,                   // cmd
		0x00, 0x00, 0x00, 0x02, // frame
		0x00, 0x02, // size
		0xBE, 0xEF, // payload
	}, buf)
}

func TestNetplayInputRoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x8000, 0xFFFF, 0x0102} {
		got, err := DecodeNetplayInput(EncodeNetplayInput(v))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestNetplayInputBadSize(t *testing.T) {
	_, err := DecodeNetplayInput([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestGBALinkFrameRoundTrip(t *testing.T) {
	gofakeit.Seed(2)
	for i := 0; i < 200; i++ {
		clientID := uint16(gofakeit.Number(0, 65535))
		size := gofakeit.Number(0, 2048)
		payload := make([]byte, size)
		for j := range payload {
			payload[j] = byte(gofakeit.Number(0, 255))
		}
		buf := EncodeGBALinkFrame(GBALinkSioData, clientID, payload)

		gotCmd, gotSize, gotClient, err := DecodeGBALinkHeader(buf)
		require.NoError(t, err)
		require.Equal(t, GBALinkSioData, gotCmd)
		require.Equal(t, clientID, gotClient)
		require.EqualValues(t, len(payload), gotSize)
		require.Equal(t, payload, buf[GBALinkHeaderSize:GBALinkHeaderSize+int(gotSize)])
	}
}

func TestGBALinkFrameFixedVector(t *testing.T) {
	buf := EncodeGBALinkFrame(GBALinkHeartbeat, 0x0000, nil)
	require.Equal(t, []byte{0x06, 0x00, 0x00, 0x00, 0x00}, buf)
}

func TestLinkModeFieldRoundTrip(t *testing.T) {
	for _, mode := range []string{"", "rfu", "mul_poke", "a"} {
		got := DecodeLinkModeField(EncodeLinkModeField(mode))
		require.Equal(t, mode, got)
	}
}

func TestDiscoveryRecordRoundTrip(t *testing.T) {
	gofakeit.Seed(3)
	for i := 0; i < 50; i++ {
		rec := DiscoveryRecord{
			Magic:           MagicGBALinkAdvertise,
			ProtocolVersion: ProtocolVersion,
			GameCRC:         gofakeit.Uint32(),
			Port:            uint16(gofakeit.Number(1024, 65535)),
			GameName:        gofakeit.AppName(),
			LinkMode:        "rfu",
		}
		buf := rec.Encode()
		got, err := DecodeDiscoveryRecord(buf)
		require.NoError(t, err)
		require.Equal(t, rec.Magic, got.Magic)
		require.Equal(t, rec.ProtocolVersion, got.ProtocolVersion)
		require.Equal(t, rec.GameCRC, got.GameCRC)
		require.Equal(t, rec.Port, got.Port)
		require.Equal(t, rec.LinkMode, got.LinkMode)
		if len(rec.GameName) <= GameNameFieldSize {
			require.Equal(t, rec.GameName, got.GameName)
		}
	}
}

func TestDiscoveryRecordShortBuffer(t *testing.T) {
	_, err := DecodeDiscoveryRecord([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMagicsForKnownModes(t *testing.T) {
	for _, mode := range []string{"netplay", "gba-link", "gb-link"} {
		m, err := MagicsFor(mode)
		require.NoError(t, err)
		require.NotEqual(t, m.Advertise, m.Query)
		require.NotEqual(t, m.Query, m.Response)
	}
	_, err := MagicsFor("bogus")
	require.Error(t, err)
}
