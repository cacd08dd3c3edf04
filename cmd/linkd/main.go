package main

// ---------------------------------------------------------------------------
// linkd — link-layer daemon
// ---------------------------------------------------------------------------
// Hosts or joins one of three link modes (netplay, gba-link, gb-link) and
// prints a live ANSI dashboard while the session runs:
//   - Netplay: frame-locked lockstep over TCP
//   - GBA Link: wireless-adapter packet ferry with a host-side heartbeat
//   - GB Link: control-plane only, the core owns its own socket
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nextui-link/linklayer/internal/bridge"
	"github.com/nextui-link/linklayer/internal/config"
	"github.com/nextui-link/linklayer/internal/history"
	"github.com/nextui-link/linklayer/internal/network"
	"github.com/nextui-link/linklayer/internal/orchestrator"
	"github.com/nextui-link/linklayer/internal/session"
)

func main() {
	fmt.Println("\033[1;36m╔═══════════════════════════════════════════════╗\033[0m")
	fmt.Println("\033[1;36m║  linkd — link-layer daemon                    ║\033[0m")
	fmt.Println("\033[1;36m╚═══════════════════════════════════════════════╝\033[0m")
	fmt.Println()

	var mode, role, peerIP string
	var peerPort int
	headless := false

	for i, arg := range os.Args[1:] {
		switch strings.ToLower(arg) {
		case "--netplay":
			mode = "netplay"
		case "--gba-link":
			mode = "gba-link"
		case "--gb-link":
			mode = "gb-link"
		case "--host":
			role = "host"
		case "--join":
			role = "join"
			if i+2 < len(os.Args[1:]) {
				peerIP = os.Args[1:][i+1]
				fmt.Sscanf(os.Args[1:][i+2], "%d", &peerPort)
			}
		case "--headless":
			headless = true
		case "--help":
			printUsage()
			os.Exit(0)
		}
	}
	if mode == "" || role == "" {
		printUsage()
		os.Exit(1)
	}

	cfg := config.LoadConfig(nil)

	hist, err := history.New(cfg.HistoryDSN)
	if err != nil {
		fmt.Printf("[warn] history disabled: %v\n", err)
		hist, _ = history.New("")
	}

	// writer and CoreCallbacks are nil/zero here: linkd on its own has no
	// emulator core to write options into or receive packets from. A real
	// integration embeds this package and supplies both at construction.
	netctl := network.New("wlan0", "wlan0")
	orch := orchestrator.New(netctl, hist, nil, bridge.CoreCallbacks{}, cfg.HotspotPrefix, cfg.HotspotPassword)

	startedAt := time.Now()

	switch role {
	case "host":
		err = orch.Host(mode, orchestrator.HostConfig{
			HostConfig: session.HostConfig{GameName: "linkd-session", GameCRC: 0},
		})
	case "join":
		err = orch.Join(mode, orchestrator.JoinConfig{
			JoinConfig: session.JoinConfig{IP: peerIP, Port: peerPort},
		})
	}
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.DashboardInterval) * time.Millisecond)
	defer ticker.Stop()

	fmt.Println("\n[run] linkd running — Ctrl+C to disconnect")
	for {
		select {
		case <-sigCh:
			shutdown(orch, startedAt)
			return
		case <-ticker.C:
			if !headless && cfg.DashboardEnabled {
				drawDashboard(orch, startedAt)
			} else {
				logEvent(orch.Status())
			}
			if orch.Status().State == session.StateOff {
				shutdown(orch, startedAt)
				return
			}
		}
	}
}

func drawDashboard(orch *orchestrator.Orchestrator, startedAt time.Time) {
	status := orch.Status()
	fmt.Print("\033[2J\033[H")
	fmt.Println("\033[1;36m╔═══════════════════════════════════════════════╗\033[0m")
	fmt.Println("\033[1;36m║  linkd status                                 ║\033[0m")
	fmt.Println("\033[1;36m╠═══════════════════════════════════════════════╣\033[0m")
	fmt.Printf("  Mode:      \033[1m%s\033[0m\n", status.Mode)
	fmt.Printf("  State:     \033[1;32m%s\033[0m\n", status.State)
	fmt.Printf("  Local IP:  %s\n", truncStr(status.LocalIP, 20))
	fmt.Printf("  Peer IP:   %s\n", truncStr(status.RemoteIP, 20))
	fmt.Printf("  Uptime:    %s\n", fmtDuration(time.Since(startedAt)))
	fmt.Printf("  Status:    %s\n", status.StatusText)
	fmt.Println("\033[1;36m╚═══════════════════════════════════════════════╝\033[0m")
	fmt.Println("  \033[2mCtrl+C to disconnect\033[0m")
}

func shutdown(orch *orchestrator.Orchestrator, startedAt time.Time) {
	fmt.Println("\n\033[33m[shutdown] disconnecting...\033[0m")
	orch.Disconnect()
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║  linkd — session summary                      ║")
	fmt.Println("╠═══════════════════════════════════════════════╣")
	fmt.Printf("  Runtime: %s\n", fmtDuration(time.Since(startedAt)))
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func logEvent(status session.StatusInfo) {
	fmt.Printf("[%s] [%-7s] peer=%s %s\n",
		time.Now().Format("15:04:05.000"), status.State, status.RemoteIP, status.StatusText)
}

func fmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func truncStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "~"
}

func printUsage() {
	fmt.Println("Usage: linkd (--netplay|--gba-link|--gb-link) (--host|--join <ip> <port>) [--headless]")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  LINK_HISTORY_DSN            Postgres DSN for session history (default: disabled)")
	fmt.Println("  LINK_HOTSPOT_PREFIX         Hotspot SSID prefix               (default: LINK-)")
	fmt.Println("  LINK_HOTSPOT_PASSWORD       Hotspot password")
	fmt.Println("  LINK_JOIN_RETRY_ATTEMPTS    Hotspot join retry attempts       (default: 3)")
	fmt.Println("  LINK_DASHBOARD              Draw the status dashboard         (default: true)")
	fmt.Println("  LINK_DASHBOARD_INTERVAL_MS  Dashboard redraw interval         (default: 500)")
}
