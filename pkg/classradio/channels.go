package classradio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
)

// ChannelName is a logical channel multiplexed onto the single radio.
type ChannelName string

const (
	// ChannelPrivate is the group's own channel.
	ChannelPrivate ChannelName = "private"
	// ChannelPublic is the channel shared by the whole classroom.
	ChannelPublic ChannelName = "public"
)

// DefaultPollInterval is the pause between two empty receives inside a bounded wait.
const DefaultPollInterval = 10 * time.Millisecond

// Mux maps the logical channels onto the radio, retuning only when the
// numeric channel actually changes.
type Mux struct {
	Radio        Radio
	Clock        Clock
	Logger       log.Logger
	PollInterval time.Duration

	mu       sync.Mutex
	channels map[ChannelName]uint8
	tuned    int
	retunes  int
}

func NewMux(radio Radio, clock Clock, logger log.Logger) *Mux {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Mux{
		Radio:        radio,
		Clock:        clock,
		Logger:       log.OrDefault(logger),
		PollInterval: DefaultPollInterval,
		channels:     map[ChannelName]uint8{},
		tuned:        -1,
	}
}

// SetChannels assigns the numeric channels of both logical channels.
func (m *Mux) SetChannels(private, public uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ChannelPrivate] = private
	m.channels[ChannelPublic] = public
}

// Channel returns the numeric channel behind name.
func (m *Mux) Channel(name ChannelName) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// SwitchTo tunes the radio to the channel behind name when it is not already tuned there.
func (m *Mux) SwitchTo(name ChannelName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("channel %q is not configured", name)
	}
	if int(ch) == m.tuned {
		return nil
	}
	if err := m.Radio.Tune(ch); err != nil {
		return fmt.Errorf("failed to tune channel %d: %w", ch, err)
	}
	m.tuned = int(ch)
	m.retunes++
	m.Logger.Debug("Radio tuned", "channel", ch, "name", name)
	return nil
}

// Retunes counts the radio reconfigurations performed so far.
func (m *Mux) Retunes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retunes
}

// Send transmits payload on the named channel.
func (m *Mux) Send(ctx context.Context, payload []byte, name ChannelName) error {
	if err := m.SwitchTo(name); err != nil {
		return err
	}
	return m.Radio.Send(ctx, payload)
}

// Receive returns a waiting packet of the named channel, or ErrEmptyQueue.
func (m *Mux) Receive(ctx context.Context, name ChannelName) ([]byte, error) {
	if err := m.SwitchTo(name); err != nil {
		return nil, err
	}
	return m.Radio.Receive(ctx)
}

// ReceiveAny listens on each channel of order in turn, giving each an equal share of timeout.
// It returns the first packet found with its channel, or ErrTimeout.
func (m *Mux) ReceiveAny(ctx context.Context, timeout time.Duration, order ...ChannelName) ([]byte, ChannelName, error) {
	if len(order) == 0 {
		order = []ChannelName{ChannelPrivate}
	}
	slice := timeout / time.Duration(len(order))

	for _, name := range order {
		deadline := m.Clock.Now().Add(slice)
		for {
			packet, err := m.Receive(ctx, name)
			switch {
			case err == nil:
				return packet, name, nil
			case !errors.Is(err, ErrEmptyQueue):
				return nil, "", err
			}

			if !m.Clock.Now().Before(deadline) {
				break
			}
			wait := min(m.PollInterval, deadline.Sub(m.Clock.Now()))
			if err := m.Clock.Sleep(ctx, wait); err != nil {
				return nil, "", err
			}
		}
	}
	return nil, "", ErrTimeout
}
