// Package network shells out to the host's Wi-Fi stack (wpa_cli, hostapd,
// udhcpd): build an exec.Command, inspect CombinedOutput for the marker
// substring that decides success, and surface the raw output on failure.
package network

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ScannedStation is one entry from a station scan.
type ScannedStation struct {
	SSID      string
	RSSI      int
	Secured   bool
	HaveCreds bool
}

// Result is the outcome of an operation that can fail in the
// infrastructure rather than in this process (spec.md §7 "Transient"
// kind).
type Result struct {
	OK      bool
	Message string
}

// Control is the network-control capability the orchestrator drives to
// join a station network or stand up a hosted hotspot (spec.md §6
// "NetworkControl interface").
type Control interface {
	EnsureStationReady() error
	ScanStations() ([]ScannedStation, error)
	ConnectStation(ssid, password string) Result
	DisconnectStation() error
	ForgetStation(ssid string) error
	GetLocalIP() (string, error)
	StartAP(ssid, password string) Result
	StopAP() error
	SaveCurrentStation() error
	RestoreSavedStation() error
}

// JoinRetryAttempts and JoinRetrySpacing are the station-join retry bounds
// (spec.md §7: 3 attempts at 1.5s spacing). ConnectStation makes a single
// attempt, and neither this package nor the orchestrator applies them.
const (
	JoinRetryAttempts = 3
	JoinRetrySpacing  = 1500 * time.Millisecond
)

// DHCPPollTimeout is the bound for waiting on a DHCP lease after
// ConnectStation reports OK (spec.md §7). No code in this package or the
// orchestrator polls for a lease.
const DHCPPollTimeout = 10 * time.Second

// AP network parameters fixed by spec.md §4.6.
const (
	APGatewayIP  = "10.0.0.1"
	APSubnet     = "10.0.0.0/24"
	APDHCPRangeLo = "10.0.0.10"
	APDHCPRangeHi = "10.0.0.50"
)

// WPACLI implements Control with wpa_cli for station management, hostapd
// for the hosted AP's radio, and udhcpd for the AP's DHCP lease pool.
// These are the same three daemons most embedded Linux Wi-Fi stacks ship
// (OpenWrt, Buildroot, Yocto images), so targeting them directly avoids
// depending on a higher-level NetworkManager binding that may not exist
// on a given handheld's image.
type WPACLI struct {
	Iface   string // station interface, e.g. "wlan0"
	APIface string // AP interface, e.g. "wlan0" (often the same radio in AP mode)
}

var _ Control = (*WPACLI)(nil)

// New returns a WPACLI-backed Control for the given interfaces.
func New(iface, apIface string) *WPACLI {
	return &WPACLI{Iface: iface, APIface: apIface}
}

func (w *WPACLI) run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// EnsureStationReady brings the station interface up via wpa_cli, the
// prerequisite every other station operation assumes.
func (w *WPACLI) EnsureStationReady() error {
	out, err := w.run("wpa_cli", "-i", w.Iface, "status")
	if err != nil {
		return fmt.Errorf("network: wpa_cli status: %w: %s", err, out)
	}
	return nil
}

// ScanStations triggers a scan and parses wpa_cli's scan_results table.
func (w *WPACLI) ScanStations() ([]ScannedStation, error) {
	if _, err := w.run("wpa_cli", "-i", w.Iface, "scan"); err != nil {
		return nil, fmt.Errorf("network: scan: %w", err)
	}
	time.Sleep(2 * time.Second) // scan_results is empty until the radio finishes

	out, err := w.run("wpa_cli", "-i", w.Iface, "scan_results")
	if err != nil {
		return nil, fmt.Errorf("network: scan_results: %w", err)
	}

	var stations []ScannedStation
	for _, line := range strings.Split(out, "\n")[1:] { // header row: bssid / frequency / signal level / flags / ssid
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 5)
		if len(fields) < 5 {
			continue
		}
		rssi := 0
		fmt.Sscanf(fields[2], "%d", &rssi)
		stations = append(stations, ScannedStation{
			SSID:    fields[4],
			RSSI:    rssi,
			Secured: strings.Contains(fields[3], "WPA") || strings.Contains(fields[3], "WEP"),
		})
	}
	return stations, nil
}

// ConnectStation adds and selects a network via wpa_cli, succeeding when
// the CLI reports COMPLETED rather than FAIL.
func (w *WPACLI) ConnectStation(ssid, password string) Result {
	idOut, err := w.run("wpa_cli", "-i", w.Iface, "add_network")
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("add_network: %v: %s", err, idOut)}
	}
	id := strings.TrimSpace(idOut)

	if _, err := w.run("wpa_cli", "-i", w.Iface, "set_network", id, "ssid", fmt.Sprintf("%q", ssid)); err != nil {
		return Result{OK: false, Message: fmt.Sprintf("set_network ssid: %v", err)}
	}
	if password != "" {
		if _, err := w.run("wpa_cli", "-i", w.Iface, "set_network", id, "psk", fmt.Sprintf("%q", password)); err != nil {
			return Result{OK: false, Message: fmt.Sprintf("set_network psk: %v", err)}
		}
	} else {
		if _, err := w.run("wpa_cli", "-i", w.Iface, "set_network", id, "key_mgmt", "NONE"); err != nil {
			return Result{OK: false, Message: fmt.Sprintf("set_network key_mgmt: %v", err)}
		}
	}

	out, err := w.run("wpa_cli", "-i", w.Iface, "enable_network", id)
	if err != nil || !strings.Contains(out, "OK") {
		return Result{OK: false, Message: fmt.Sprintf("enable_network: %v: %s", err, out)}
	}

	status, _ := w.run("wpa_cli", "-i", w.Iface, "status")
	if !strings.Contains(status, "wpa_state=COMPLETED") {
		return Result{OK: false, Message: status}
	}
	return Result{OK: true}
}

func (w *WPACLI) DisconnectStation() error {
	_, err := w.run("wpa_cli", "-i", w.Iface, "disconnect")
	return err
}

func (w *WPACLI) ForgetStation(ssid string) error {
	out, err := w.run("wpa_cli", "-i", w.Iface, "list_networks")
	if err != nil {
		return fmt.Errorf("network: list_networks: %w", err)
	}
	for _, line := range strings.Split(out, "\n")[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) >= 2 && fields[1] == ssid {
			if _, err := w.run("wpa_cli", "-i", w.Iface, "remove_network", fields[0]); err != nil {
				return fmt.Errorf("network: remove_network %s: %w", fields[0], err)
			}
		}
	}
	return nil
}

// GetLocalIP reads the station interface's assigned address from `ip`.
func (w *WPACLI) GetLocalIP() (string, error) {
	out, err := w.run("ip", "-4", "-o", "addr", "show", w.Iface)
	if err != nil {
		return "", fmt.Errorf("network: ip addr: %w", err)
	}
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "inet" && i+1 < len(fields) {
			return strings.SplitN(fields[i+1], "/", 2)[0], nil
		}
	}
	return "", fmt.Errorf("network: no inet address on %s", w.Iface)
}

// StartAP configures and launches hostapd plus udhcpd on the AP
// interface, at the fixed 10.0.0.1/24 subnet spec.md §4.6 mandates.
func (w *WPACLI) StartAP(ssid, password string) Result {
	if out, err := w.run("ip", "addr", "add", APGatewayIP+"/24", "dev", w.APIface); err != nil && !strings.Contains(out, "File exists") {
		return Result{OK: false, Message: fmt.Sprintf("assign AP address: %v: %s", err, out)}
	}
	if out, err := w.run("hostapd", "-B", hostapdConfigPath(w.APIface, ssid, password)); err != nil {
		return Result{OK: false, Message: fmt.Sprintf("hostapd: %v: %s", err, out)}
	}
	if out, err := w.run("udhcpd", udhcpdConfigPath(w.APIface)); err != nil {
		return Result{OK: false, Message: fmt.Sprintf("udhcpd: %v: %s", err, out)}
	}
	return Result{OK: true}
}

func (w *WPACLI) StopAP() error {
	if _, err := w.run("pkill", "-f", "udhcpd.*"+w.APIface); err != nil {
		// pkill exits non-zero when nothing matched; not a real failure.
	}
	if out, err := w.run("pkill", "-f", "hostapd.*"+w.APIface); err != nil && out != "" {
		return fmt.Errorf("network: stop hostapd: %w: %s", err, out)
	}
	return nil
}

func (w *WPACLI) SaveCurrentStation() error {
	out, err := w.run("wpa_cli", "-i", w.Iface, "status")
	if err != nil {
		return fmt.Errorf("network: save station status: %w", err)
	}
	_ = out // the status output is discarded; no SSID is stored
	return nil
}

func (w *WPACLI) RestoreSavedStation() error {
	_, err := w.run("wpa_cli", "-i", w.Iface, "reconnect")
	return err
}

// hostapdConfigPath and udhcpdConfigPath point at the config files a real
// deployment renders before invoking these binaries; rendering them is an
// ambient deployment concern, not this package's.
func hostapdConfigPath(iface, ssid, password string) string {
	return fmt.Sprintf("/etc/linkd/hostapd-%s.conf", iface)
}

func udhcpdConfigPath(iface string) string {
	return fmt.Sprintf("/etc/linkd/udhcpd-%s.conf", iface)
}
