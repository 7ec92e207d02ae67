package classradio

import (
	"context"
	"sync"
	"time"
)

// fakeRadio records what is sent and serves packets from an inbox.
type fakeRadio struct {
	mu     sync.Mutex
	tunes  []uint8
	sent   []string
	inbox  [][]byte
	onSend func(packet string) []string
}

func (r *fakeRadio) Tune(channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunes = append(r.tunes, channel)
	return nil
}

func (r *fakeRadio) Send(_ context.Context, packet []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, string(packet))
	if r.onSend != nil {
		for _, reply := range r.onSend(string(packet)) {
			r.inbox = append(r.inbox, []byte(reply))
		}
	}
	return nil
}

func (r *fakeRadio) Receive(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inbox) == 0 {
		return nil, ErrEmptyQueue
	}
	packet := r.inbox[0]
	r.inbox = r.inbox[1:]
	return packet, nil
}

func (r *fakeRadio) inject(packets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range packets {
		r.inbox = append(r.inbox, []byte(p))
	}
}

func (r *fakeRadio) sentPackets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func (r *fakeRadio) tuned() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint8(nil), r.tunes...)
}

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []HostEvent
}

func (s *recordingSink) OnEvent(event HostEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(t EventType) []HostEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HostEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type fakeDisplay struct {
	mu    sync.Mutex
	texts []string
	icons []Icon
}

func (d *fakeDisplay) Show(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
}

func (d *fakeDisplay) ShowIcon(icon Icon) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.icons = append(d.icons, icon)
}

func (d *fakeDisplay) lastIcon() Icon {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.icons) == 0 {
		return 0
	}
	return d.icons[len(d.icons)-1]
}
