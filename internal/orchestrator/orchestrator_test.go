package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextui-link/linklayer/internal/bridge"
	"github.com/nextui-link/linklayer/internal/coreadapter"
	"github.com/nextui-link/linklayer/internal/history"
	"github.com/nextui-link/linklayer/internal/network"
	"github.com/nextui-link/linklayer/internal/session"
)

type fakeControl struct {
	startAPCalled bool
	stopAPCalled  bool
	restoreCalled bool
	startAPSSID   string
}

func (f *fakeControl) EnsureStationReady() error                { return nil }
func (f *fakeControl) ScanStations() ([]network.ScannedStation, error) { return nil, nil }
func (f *fakeControl) ConnectStation(ssid, password string) network.Result {
	return network.Result{OK: true}
}
func (f *fakeControl) DisconnectStation() error { return nil }
func (f *fakeControl) ForgetStation(ssid string) error { return nil }
func (f *fakeControl) GetLocalIP() (string, error) { return "10.0.0.1", nil }
func (f *fakeControl) StartAP(ssid, password string) network.Result {
	f.startAPCalled = true
	f.startAPSSID = ssid
	return network.Result{OK: true}
}
func (f *fakeControl) StopAP() error                 { f.stopAPCalled = true; return nil }
func (f *fakeControl) SaveCurrentStation() error     { return nil }
func (f *fakeControl) RestoreSavedStation() error    { f.restoreCalled = true; return nil }

type fakeRecorder struct {
	records []history.Record
}

func (f *fakeRecorder) Record(r history.Record) error { f.records = append(f.records, r); return nil }
func (f *fakeRecorder) Close() error                   { return nil }

type fakeOptionWriter struct{ values map[string]string }

func (f *fakeOptionWriter) SetCoreOption(key, value string) error {
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	return nil
}

func TestHostWithHotspotStartsAPAndDerivesPrefixedSSID(t *testing.T) {
	netctl := &fakeControl{}
	o := New(netctl, nil, &fakeOptionWriter{}, bridge.CoreCallbacks{}, "LINK-", "pw")

	err := o.Host("gb-link", HostConfig{
		HostConfig: session.HostConfig{GameName: "Tetris", GameCRC: 1},
		UseHotspot: true,
	})
	require.NoError(t, err)
	defer o.Disconnect()

	require.True(t, netctl.startAPCalled)
	require.Len(t, netctl.startAPSSID, len("LINK-")+4)
	require.Equal(t, "LINK-", netctl.startAPSSID[:5])
}

func TestHostRejectsSecondSessionWhileOneActive(t *testing.T) {
	netctl := &fakeControl{}
	o := New(netctl, nil, &fakeOptionWriter{}, bridge.CoreCallbacks{}, "LINK-", "pw")

	require.NoError(t, o.Host("gb-link", HostConfig{HostConfig: session.HostConfig{GameName: "Tetris", GameCRC: 1}}))
	defer o.Disconnect()

	err := o.Host("gb-link", HostConfig{HostConfig: session.HostConfig{GameName: "Tetris", GameCRC: 1}})
	require.Error(t, err)
}

func TestDisconnectTearsDownHotspotAndRecordsHistory(t *testing.T) {
	netctl := &fakeControl{}
	rec := &fakeRecorder{}
	o := New(netctl, rec, &fakeOptionWriter{}, bridge.CoreCallbacks{}, "LINK-", "pw")

	require.NoError(t, o.Host("gb-link", HostConfig{
		HostConfig: session.HostConfig{GameName: "Tetris", GameCRC: 1},
		UseHotspot: true,
	}))

	require.NoError(t, o.Disconnect())
	require.Len(t, rec.records, 1)
	require.Equal(t, "gb-link", rec.records[0].Mode)

	require.Eventually(t, func() bool { return netctl.stopAPCalled }, time.Second, 5*time.Millisecond,
		"hotspot teardown runs asynchronously off Disconnect's return path")
	require.True(t, netctl.restoreCalled)
}

func TestStatusReportsOffWithNoActiveSession(t *testing.T) {
	o := New(&fakeControl{}, nil, &fakeOptionWriter{}, bridge.CoreCallbacks{}, "LINK-", "pw")
	require.Equal(t, session.StateOff, o.Status().State)
}

func TestGBLinkModeRequiresOptionWriter(t *testing.T) {
	o := New(&fakeControl{}, nil, nil, bridge.CoreCallbacks{}, "LINK-", "pw")
	err := o.Host("gb-link", HostConfig{HostConfig: session.HostConfig{GameName: "Tetris", GameCRC: 1}})
	require.Error(t, err)
}

var _ coreadapter.OptionWriter = (*fakeOptionWriter)(nil)
