package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextui-link/linklayer/internal/wire"
)

func fixedRecord() wire.DiscoveryRecord {
	return wire.DiscoveryRecord{GameCRC: 0xDEADBEEF, Port: 55000, GameName: "Foo", LinkMode: ""}
}

func TestSearcherDedupsByPeerIP(t *testing.T) {
	s := &Searcher{mode: "netplay"}
	magics, err := wire.MagicsFor("netplay")
	require.NoError(t, err)
	s.magics = magics

	rec := fixedRecord()
	rec.Magic = magics.Advertise
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.10")}

	for i := 0; i < 5; i++ {
		s.ingest(rec.Encode(), from)
	}

	hosts := s.Hosts()
	require.Len(t, hosts, 1)
	require.Equal(t, "10.0.0.10", hosts[0].PeerIP)
}

func TestSearcherDropsWrongMagic(t *testing.T) {
	s := &Searcher{mode: "netplay"}
	magics, err := wire.MagicsFor("netplay")
	require.NoError(t, err)
	s.magics = magics

	rec := fixedRecord()
	rec.Magic = wire.MagicGBALinkAdvertise // wrong mode
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.11")}
	s.ingest(rec.Encode(), from)

	require.Empty(t, s.Hosts())
}

func TestSearcherBoundedTable(t *testing.T) {
	s := &Searcher{mode: "netplay"}
	magics, _ := wire.MagicsFor("netplay")
	s.magics = magics

	for i := 0; i < MaxHosts+5; i++ {
		rec := fixedRecord()
		rec.Magic = magics.Advertise
		from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, byte(i+1))}
		s.ingest(rec.Encode(), from)
	}

	require.Len(t, s.Hosts(), MaxHosts)
}

func TestAdvertiserAnswersQueryWithResponse(t *testing.T) {
	adv, err := NewAdvertiser("gba-link", fixedRecord)
	require.NoError(t, err)
	defer adv.Stop()

	magics, _ := wire.MagicsFor("gba-link")
	queryConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer queryConn.Close()

	q := wire.DiscoveryRecord{Magic: magics.Query, ProtocolVersion: wire.ProtocolVersion}
	port, err := Port("gba-link")
	require.NoError(t, err)
	_, err = queryConn.WriteToUDP(q.Encode(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)

	buf := make([]byte, 512)
	adv.conn.SetReadDeadline(time.Now().Add(time.Second))
	n, from, err := adv.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	adv.HandleDatagram(buf[:n], from)

	queryConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err = queryConn.ReadFromUDP(buf)
	require.NoError(t, err)

	got, err := wire.DecodeDiscoveryRecord(buf[:n])
	require.NoError(t, err)
	require.Equal(t, magics.Response, got.Magic)
	require.Equal(t, uint32(0xDEADBEEF), got.GameCRC)
}

func TestTickRespectsRateLimit(t *testing.T) {
	adv, err := NewAdvertiser("netplay", fixedRecord)
	require.NoError(t, err)
	defer adv.Stop()

	adv.Tick() // first tick always fires
	sentAfterFirst := adv.lastSent
	adv.Tick() // immediately again: rate-limited, no-op
	require.Equal(t, sentAfterFirst, adv.lastSent)
}

func TestQueryRetriesAndTimesOutWithoutServer(t *testing.T) {
	start := time.Now()
	_, err := Query("netplay", "127.0.0.1", 1) // nothing listening on port 1
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), QueryTimeout*QueryRetries-50*time.Millisecond)
}
