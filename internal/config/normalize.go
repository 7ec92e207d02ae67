package config

import (
	"time"

	"github.com/exepirit/classradio/pkg/classradio"
)

// Normalize replaces unset values with the defaults.
// It must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	def := classradio.DefaultSettings()

	if cfg.Radio.URL == "" {
		cfg.Radio.URL = "mqtt://localhost:1883/classradio"
	}
	if cfg.Radio.PublicChannel == nil {
		ch := def.PublicChannel
		cfg.Radio.PublicChannel = &ch
	}

	p := &cfg.Protocol
	if len(p.Roles) == 0 {
		p.Roles = def.Roles
	}
	if p.LeaderRole == "" {
		p.LeaderRole = p.Roles[len(p.Roles)-1]
	}
	if p.MaxGroup == 0 {
		p.MaxGroup = def.MaxGroup
	}
	if p.VoteToken == "" {
		p.VoteToken = def.VoteToken
	}
	setMs(&p.MaxDiscoveryDelayMs, def.MaxDiscoveryDelay)

	h := &cfg.Hub
	setMs(&h.DiscoveryWindowMs, def.DiscoveryWindow)
	setMs(&h.PollTimeoutMs, def.PollTimeout)
	setMs(&h.PingTimeoutMs, def.PingTimeout)
	if h.PollAttempts == 0 {
		h.PollAttempts = def.PollAttempts
	}
	if h.RegistryFile == "" {
		h.RegistryFile = "devices.pb"
	}
	if h.Host == "" {
		h.Host = "stdio"
	}
	if h.BaudRate == 0 {
		h.BaudRate = 115200
	}

	d := &cfg.Device
	if d.ConfigFile == "" {
		d.ConfigFile = "config.yaml"
	}
	if d.VoteFile == "" {
		d.VoteFile = "vote.yaml"
	}
	setMs(&d.TickMs, def.TickInterval)

	x := &cfg.Proxy
	if x.SerialPort == "" {
		x.SerialPort = "/dev/ttyACM0"
	}
	if x.BaudRate == 0 {
		x.BaudRate = 115200
	}
	if x.Database == "" {
		x.Database = "classradio.db"
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func setMs(v *int, def time.Duration) {
	if *v == 0 {
		*v = int(def / time.Millisecond)
	}
}

// Settings maps a normalized configuration to the protocol settings.
func (cfg *Config) Settings() classradio.Settings {
	s := classradio.DefaultSettings()
	s.Roles = cfg.Protocol.Roles
	s.LeaderRole = cfg.Protocol.LeaderRole
	s.MaxGroup = cfg.Protocol.MaxGroup
	s.Consensus = cfg.Protocol.Consensus
	s.VoteToken = cfg.Protocol.VoteToken
	s.MaxDiscoveryDelay = ms(cfg.Protocol.MaxDiscoveryDelayMs)
	if cfg.Radio.PublicChannel != nil {
		s.PublicChannel = *cfg.Radio.PublicChannel
	}
	s.PerGroupChannels = cfg.Radio.PerGroupChannels
	s.DiscoveryWindow = ms(cfg.Hub.DiscoveryWindowMs)
	s.PollTimeout = ms(cfg.Hub.PollTimeoutMs)
	s.PollAttempts = cfg.Hub.PollAttempts
	s.PingTimeout = ms(cfg.Hub.PingTimeoutMs)
	s.TickInterval = ms(cfg.Device.TickMs)
	return s
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
