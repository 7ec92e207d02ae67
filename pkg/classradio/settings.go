package classradio

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Settings are the protocol constants shared by the hub and every device of a classroom.
type Settings struct {
	// Roles is the ordered role list devices cycle through.
	Roles []string
	// LeaderRole aggregates the votes of its group in consensus mode.
	LeaderRole string
	// MaxGroup is the highest group number; groups are 1..MaxGroup.
	MaxGroup int
	// PublicChannel is the shared channel the hub listens on.
	PublicChannel uint8
	// PerGroupChannels makes each group talk on the channel equal to its number.
	PerGroupChannels bool
	// Consensus enables leader/follower aggregation inside each group.
	Consensus bool
	// VoteToken is the version field of follower vote messages.
	VoteToken string

	MaxDiscoveryDelay time.Duration
	DiscoveryWindow   time.Duration
	PollTimeout       time.Duration
	PollAttempts      int
	PingTimeout       time.Duration
	TickInterval      time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Roles:             []string{"A", "B", "C", "D", "E", "Z"},
		LeaderRole:        "Z",
		MaxGroup:          9,
		PublicChannel:     DefaultRadioSettings.Channel,
		VoteToken:         "vot",
		MaxDiscoveryDelay: 8750 * time.Millisecond,
		DiscoveryWindow:   10 * time.Second,
		PollTimeout:       200 * time.Millisecond,
		PollAttempts:      2,
		PingTimeout:       time.Second,
		TickInterval:      20 * time.Millisecond,
	}
}

// Validate checks the settings without modifying them.
func (s Settings) Validate() error {
	if len(s.Roles) == 0 {
		return errors.New("roles must not be empty")
	}
	if s.MaxGroup < 1 || s.MaxGroup > 20 {
		return fmt.Errorf("max group %d outside 1..20", s.MaxGroup)
	}
	if s.Consensus && !slices.Contains(s.Roles, s.LeaderRole) {
		return fmt.Errorf("%w: leader role %q", ErrUnknownRole, s.LeaderRole)
	}
	if s.PublicChannel > MaxChannel {
		return fmt.Errorf("public channel %d above %d", s.PublicChannel, MaxChannel)
	}
	if s.PerGroupChannels && int(s.PublicChannel) <= s.MaxGroup {
		return fmt.Errorf("public channel %d collides with group channels 1..%d", s.PublicChannel, s.MaxGroup)
	}
	if s.PollAttempts < 1 {
		return errors.New("poll attempts must be at least 1")
	}
	if s.PollTimeout <= 0 || s.PingTimeout <= 0 || s.DiscoveryWindow <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// GroupChannel returns the channel a group's private traffic uses.
func (s Settings) GroupChannel(group int) uint8 {
	if !s.PerGroupChannels || group < 1 {
		return s.PublicChannel
	}
	return uint8(group)
}

// MaxSlot is the last discovery slot index.
func (s Settings) MaxSlot() int {
	return s.MaxGroup*len(s.Roles) - 1
}

// DiscoveryDelay spreads ID replies after a REPORT so devices do not collide.
// The slot of (group, roleIndex) is (group-1)*roleCount+roleIndex; slot 0 waits
// nothing and the last slot waits maxDelay.
func DiscoveryDelay(group, roleIndex, roleCount, maxGroup int, maxDelay time.Duration) time.Duration {
	maxSlot := maxGroup*roleCount - 1
	if maxSlot <= 0 {
		return 0
	}
	slot := (group-1)*roleCount + roleIndex
	slot = min(max(slot, 0), maxSlot)
	return time.Duration(int64(maxDelay) * int64(slot) / int64(maxSlot))
}
