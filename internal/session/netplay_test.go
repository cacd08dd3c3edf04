package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (s *NetplaySession) listenPort(t *testing.T) int {
	t.Helper()
	return s.listener.Addr().(*net.TCPAddr).Port
}

func waitForState(t *testing.T, link LinkType, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if link.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never reached state %s, last status %+v", want, link.Status())
}

func TestNetplayHostJoinGoldenPath(t *testing.T) {
	host := NewNetplaySession(nil)
	require.NoError(t, host.Host(HostConfig{GameName: "Pocket Puzzler", GameCRC: 0x1234}))
	defer host.Disconnect()

	client := NewNetplaySession(nil)
	err := client.Join(JoinConfig{IP: "127.0.0.1", Port: host.listenPort(t)})
	require.NoError(t, err)
	defer client.Disconnect()

	waitForState(t, host, StatePlaying, time.Second)
	waitForState(t, client, StatePlaying, time.Second)

	hostStatus := host.Status()
	clientStatus := client.Status()
	require.Equal(t, "127.0.0.1", hostStatus.RemoteIP)
	require.Equal(t, "127.0.0.1", clientStatus.RemoteIP)
}

func TestNetplayStateTransferSeedsClientFrameBuffer(t *testing.T) {
	host := NewNetplaySession(nil)
	require.NoError(t, host.Host(HostConfig{GameName: "Pocket Puzzler", GameCRC: 1}))
	defer host.Disconnect()

	client := NewNetplaySession(nil)
	require.NoError(t, client.Join(JoinConfig{IP: "127.0.0.1", Port: host.listenPort(t)}))
	defer client.Disconnect()

	waitForState(t, client, StatePlaying, time.Second)

	client.StopAutoPump()
	host.StopAutoPump()

	require.True(t, client.engine.FB.HasInput(0, 1))
	require.True(t, client.engine.FB.HasInput(1, 1))
}

func TestNetplayDisconnectReturnsHostToWaiting(t *testing.T) {
	host := NewNetplaySession(nil)
	require.NoError(t, host.Host(HostConfig{GameName: "g", GameCRC: 1}))
	defer host.Disconnect()

	client := NewNetplaySession(nil)
	require.NoError(t, client.Join(JoinConfig{IP: "127.0.0.1", Port: host.listenPort(t)}))

	waitForState(t, host, StatePlaying, time.Second)
	require.NoError(t, client.Disconnect())

	waitForState(t, host, StateWaiting, 2*time.Second)
}

func TestNetplayJoinFailsWhenNoHostListening(t *testing.T) {
	client := NewNetplaySession(nil)
	err := client.Join(JoinConfig{IP: "127.0.0.1", Port: 1})
	require.Error(t, err)
	require.Equal(t, StateOff, client.getState())
}
