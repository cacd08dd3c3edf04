package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCoreOptions struct {
	values map[string]string
}

func (f *fakeCoreOptions) SetCoreOption(key, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func TestGBLinkHostConfiguresCoreAndAdvertises(t *testing.T) {
	opts := &fakeCoreOptions{}
	s := NewGBLinkSession(opts)
	require.NoError(t, s.Host(HostConfig{GameName: "Tetris", GameCRC: 1}))
	defer s.Disconnect()

	require.Equal(t, "host", opts.values["gb_link_mode"])
	require.Equal(t, StateWaiting, s.getState())
}

func TestGBLinkJoinConfiguresCoreWithPeer(t *testing.T) {
	opts := &fakeCoreOptions{}
	s := NewGBLinkSession(opts)
	require.NoError(t, s.Join(JoinConfig{IP: "10.0.0.5", Port: 5000}))

	require.Equal(t, "client", opts.values["gb_link_mode"])
	require.Equal(t, "10.0.0.5", opts.values["gb_link_peer_ip"])
	require.Equal(t, "5000", opts.values["gb_link_peer_port"])
}

func TestGBLinkObserveLineMirrorsConnectedAndClosed(t *testing.T) {
	opts := &fakeCoreOptions{}
	s := NewGBLinkSession(opts)
	require.NoError(t, s.Host(HostConfig{GameName: "Tetris", GameCRC: 1}))
	defer s.Disconnect()

	s.ObserveLine("GB_LINK: connected 10.0.0.9:5000")
	require.Equal(t, StatePlaying, s.getState())
	require.Equal(t, "10.0.0.9", s.Status().RemoteIP)

	s.ObserveLine("GB_LINK: closed")
	require.Equal(t, StateWaiting, s.getState())
}

func TestGBLinkObserveLineMirrorsErrorState(t *testing.T) {
	opts := &fakeCoreOptions{}
	s := NewGBLinkSession(opts)
	require.NoError(t, s.Join(JoinConfig{IP: "10.0.0.5", Port: 5000}))

	s.ObserveLine("GB_LINK: error")
	require.Equal(t, StateError, s.getState())
}
