// Package config reads the YAML configuration shared by the classradio commands.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Hub      HubConfig      `yaml:"hub"`
	Device   DeviceConfig   `yaml:"device"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Log      LogConfig      `yaml:"log"`
}

// ---- RADIO ----

type RadioConfig struct {
	// URL selects the medium: mqtt://host:port/root or udp://[interface].
	URL              string `yaml:"url"`
	PublicChannel    *uint8 `yaml:"public_channel"`
	PerGroupChannels bool   `yaml:"per_group_channels"`
}

// ---- PROTOCOL ----

type ProtocolConfig struct {
	Roles               []string `yaml:"roles"`
	LeaderRole          string   `yaml:"leader_role"`
	MaxGroup            int      `yaml:"max_group"`
	Consensus           bool     `yaml:"consensus"`
	VoteToken           string   `yaml:"vote_token"`
	MaxDiscoveryDelayMs int      `yaml:"max_discovery_delay_ms"`
}

// ---- HUB ----

type HubConfig struct {
	DiscoveryWindowMs int    `yaml:"discovery_window_ms"`
	PollTimeoutMs     int    `yaml:"poll_timeout_ms"`
	PollAttempts      int    `yaml:"poll_attempts"`
	PingTimeoutMs     int    `yaml:"ping_timeout_ms"`
	RegistryFile      string `yaml:"registry_file"`
	// Host is "stdio" or the path of a serial port.
	Host     string `yaml:"host"`
	BaudRate int    `yaml:"baud_rate"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ConfigFile string `yaml:"config_file"`
	VoteFile   string `yaml:"vote_file"`
	TickMs     int    `yaml:"tick_ms"`
}

// ---- PROXY ----

type ProxyConfig struct {
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	Database   string `yaml:"database"`
	// Listen is the address of the live event feed; empty disables it.
	Listen string `yaml:"listen"`
}

// ---- LOG ----

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Load reads the configuration file at path. A missing file yields an empty
// configuration; Normalize fills in the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
