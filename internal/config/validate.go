package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
)

// Validate checks configuration correctness.
// Unset values are accepted; Normalize replaces them with defaults.
// It does not mutate the configuration.
func Validate(cfg *Config) error {
	if cfg.Radio.URL != "" {
		u, err := url.Parse(cfg.Radio.URL)
		if err != nil {
			return fmt.Errorf("radio url: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "tcp", "ssl", "ws", "wss", "udp":
		default:
			return fmt.Errorf("radio url: unsupported scheme %q", u.Scheme)
		}
	}
	if ch := cfg.Radio.PublicChannel; ch != nil && *ch > classradio.MaxChannel {
		return fmt.Errorf("radio: public_channel %d above %d", *ch, classradio.MaxChannel)
	}

	p := cfg.Protocol
	seen := make(map[string]bool, len(p.Roles))
	for _, role := range p.Roles {
		if role == "" {
			return fmt.Errorf("protocol: empty role")
		}
		if seen[role] {
			return fmt.Errorf("protocol: duplicate role %q", role)
		}
		seen[role] = true
	}
	if p.LeaderRole != "" && len(p.Roles) > 0 && !slices.Contains(p.Roles, p.LeaderRole) {
		return fmt.Errorf("protocol: leader_role %q is not a role", p.LeaderRole)
	}
	if p.MaxGroup < 0 || p.MaxGroup > 20 {
		return fmt.Errorf("protocol: max_group %d outside 1..20", p.MaxGroup)
	}

	nonNegative := map[string]int{
		"protocol.max_discovery_delay_ms": p.MaxDiscoveryDelayMs,
		"hub.discovery_window_ms":         cfg.Hub.DiscoveryWindowMs,
		"hub.poll_timeout_ms":             cfg.Hub.PollTimeoutMs,
		"hub.ping_timeout_ms":             cfg.Hub.PingTimeoutMs,
		"hub.poll_attempts":               cfg.Hub.PollAttempts,
		"device.tick_ms":                  cfg.Device.TickMs,
		"hub.baud_rate":                   cfg.Hub.BaudRate,
		"proxy.baud_rate":                 cfg.Proxy.BaudRate,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unsupported format %q", cfg.Log.Format)
	}
	return nil
}
