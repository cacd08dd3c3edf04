// Package config loads linkd's daemon configuration from environment
// variables, with CLI flags taking precedence when present.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config is the full set of daemon knobs a deployment might override.
// Every field has a workable default so linkd runs unconfigured.
type Config struct {
	// History
	HistoryDSN string // empty: session history recording is a no-op

	// Network control
	HotspotPrefix   string
	HotspotPassword string
	APSubnet        string
	APGatewayIP     string

	// Discovery / retry limits (spec.md §7)
	JoinRetryAttempts int
	JoinRetrySpacingMs int
	DHCPPollTimeoutSec int

	// Dashboard
	DashboardEnabled  bool
	DashboardInterval int // milliseconds between redraws
}

// LoadConfig reads defaults from the environment, then lets flags on args
// override them. Pass os.Args[1:] in production; tests can pass their own
// slice.
func LoadConfig(args []string) *Config {
	cfg := &Config{
		HistoryDSN:         getEnv("LINK_HISTORY_DSN", ""),
		HotspotPrefix:      getEnv("LINK_HOTSPOT_PREFIX", "LINK-"),
		HotspotPassword:    getEnv("LINK_HOTSPOT_PASSWORD", "linkplay123"),
		APSubnet:           getEnv("LINK_AP_SUBNET", "10.0.0.0/24"),
		APGatewayIP:        getEnv("LINK_AP_GATEWAY_IP", "10.0.0.1"),
		JoinRetryAttempts:  getEnvInt("LINK_JOIN_RETRY_ATTEMPTS", 3),
		JoinRetrySpacingMs: getEnvInt("LINK_JOIN_RETRY_SPACING_MS", 1500),
		DHCPPollTimeoutSec: getEnvInt("LINK_DHCP_POLL_TIMEOUT_SEC", 10),
		DashboardEnabled:   getEnvBool("LINK_DASHBOARD", true),
		DashboardInterval:  getEnvInt("LINK_DASHBOARD_INTERVAL_MS", 500),
	}

	fs := flag.NewFlagSet("linkd", flag.ContinueOnError)
	fs.StringVar(&cfg.HistoryDSN, "history-dsn", cfg.HistoryDSN, "postgres DSN for session history (empty disables)")
	fs.StringVar(&cfg.HotspotPrefix, "hotspot-prefix", cfg.HotspotPrefix, "SSID prefix for a hosted hotspot")
	fs.StringVar(&cfg.HotspotPassword, "hotspot-password", cfg.HotspotPassword, "hotspot password")
	fs.IntVar(&cfg.JoinRetryAttempts, "join-retry-attempts", cfg.JoinRetryAttempts, "hotspot join retry attempts")
	fs.BoolVar(&cfg.DashboardEnabled, "dashboard", cfg.DashboardEnabled, "draw the status dashboard")
	fs.Parse(args)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}
