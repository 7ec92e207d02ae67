package classradio

import (
	"testing"
	"time"
)

func TestDiscoveryDelay(t *testing.T) {
	s := DefaultSettings()
	roles := len(s.Roles)

	if d := DiscoveryDelay(1, 0, roles, s.MaxGroup, s.MaxDiscoveryDelay); d != 0 {
		t.Fatalf("first slot waits %v", d)
	}
	if d := DiscoveryDelay(s.MaxGroup, roles-1, roles, s.MaxGroup, s.MaxDiscoveryDelay); d != s.MaxDiscoveryDelay {
		t.Fatalf("last slot waits %v, want %v", d, s.MaxDiscoveryDelay)
	}

	first := DiscoveryDelay(2, 3, roles, s.MaxGroup, s.MaxDiscoveryDelay)
	for range 10 {
		if d := DiscoveryDelay(2, 3, roles, s.MaxGroup, s.MaxDiscoveryDelay); d != first {
			t.Fatalf("delay changed from %v to %v", first, d)
		}
	}
	// slot 9 of 53
	if want := 8750 * time.Millisecond * 9 / 53; first != want {
		t.Fatalf("delay %v, want %v", first, want)
	}
}

func TestDiscoveryDelayIsMonotonic(t *testing.T) {
	s := DefaultSettings()
	var prev time.Duration = -1
	for g := 1; g <= s.MaxGroup; g++ {
		for r := range s.Roles {
			d := DiscoveryDelay(g, r, len(s.Roles), s.MaxGroup, s.MaxDiscoveryDelay)
			if d <= prev {
				t.Fatalf("group %d role %d: %v not after %v", g, r, d, prev)
			}
			prev = d
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := map[string]func(*Settings){
		"no roles":        func(s *Settings) { s.Roles = nil },
		"too many groups": func(s *Settings) { s.MaxGroup = 21 },
		"unknown leader":  func(s *Settings) { s.Consensus = true; s.LeaderRole = "X" },
		"channel clash":   func(s *Settings) { s.PerGroupChannels = true; s.PublicChannel = 5 },
		"no attempts":     func(s *Settings) { s.PollAttempts = 0 },
		"zero timeout":    func(s *Settings) { s.PollTimeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestGroupChannel(t *testing.T) {
	s := DefaultSettings()
	if s.GroupChannel(3) != s.PublicChannel {
		t.Fatal("shared mode must use the public channel")
	}
	s.PerGroupChannels = true
	s.PublicChannel = 50
	if s.GroupChannel(3) != 3 || s.GroupChannel(0) != 50 {
		t.Fatalf("per-group channels: %d, %d", s.GroupChannel(3), s.GroupChannel(0))
	}
}
