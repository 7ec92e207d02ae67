package classradio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/google/go-cmp/cmp"
)

func TestMuxRetunesOnlyOnChange(t *testing.T) {
	radio := &fakeRadio{}
	mux := NewMux(radio, newFakeClock(), log.NOOPLogger{})
	mux.SetChannels(3, 7)
	ctx := context.Background()

	for _, name := range []ChannelName{ChannelPrivate, ChannelPrivate, ChannelPublic, ChannelPublic, ChannelPrivate} {
		if err := mux.Send(ctx, []byte("PING:x"), name); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]uint8{3, 7, 3}, radio.tuned()); diff != "" {
		t.Fatalf("tunes (-want +got):\n%s", diff)
	}
	if mux.Retunes() != 3 {
		t.Fatalf("retunes = %d", mux.Retunes())
	}
}

func TestMuxSameNumericChannelNeverRetunes(t *testing.T) {
	radio := &fakeRadio{}
	mux := NewMux(radio, newFakeClock(), log.NOOPLogger{})
	mux.SetChannels(7, 7)

	for _, name := range []ChannelName{ChannelPrivate, ChannelPublic, ChannelPrivate} {
		if err := mux.SwitchTo(name); err != nil {
			t.Fatal(err)
		}
	}
	if mux.Retunes() != 1 {
		t.Fatalf("retunes = %d, want 1", mux.Retunes())
	}
}

func TestMuxUnknownChannel(t *testing.T) {
	mux := NewMux(&fakeRadio{}, newFakeClock(), log.NOOPLogger{})
	if err := mux.SwitchTo(ChannelPublic); err == nil {
		t.Fatal("expected an error for an unconfigured channel")
	}
}

func TestReceiveAnyTimesOut(t *testing.T) {
	clock := newFakeClock()
	mux := NewMux(&fakeRadio{}, clock, log.NOOPLogger{})
	mux.SetChannels(2, 7)

	start := clock.Now()
	_, _, err := mux.ReceiveAny(context.Background(), 300*time.Millisecond, ChannelPrivate, ChannelPublic)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed != 300*time.Millisecond {
		t.Fatalf("waited %v", elapsed)
	}
}

// channelRadio keeps a separate inbox per channel.
type channelRadio struct {
	current uint8
	inbox   map[uint8][]string
}

func (r *channelRadio) Tune(channel uint8) error {
	r.current = channel
	return nil
}

func (r *channelRadio) Send(context.Context, []byte) error { return nil }

func (r *channelRadio) Receive(context.Context) ([]byte, error) {
	queue := r.inbox[r.current]
	if len(queue) == 0 {
		return nil, ErrEmptyQueue
	}
	r.inbox[r.current] = queue[1:]
	return []byte(queue[0]), nil
}

func TestReceiveAnyReportsChannel(t *testing.T) {
	radio := &channelRadio{inbox: map[uint8][]string{7: {"WARNING:x:role_clone"}}}
	clock := newFakeClock()
	mux := NewMux(radio, clock, log.NOOPLogger{})
	mux.SetChannels(2, 7)

	start := clock.Now()
	packet, ch, err := mux.ReceiveAny(context.Background(), 200*time.Millisecond, ChannelPrivate, ChannelPublic)
	if err != nil {
		t.Fatal(err)
	}
	if ch != ChannelPublic || string(packet) != "WARNING:x:role_clone" {
		t.Fatalf("got %q on %s", packet, ch)
	}
	// the private channel had its full half of the timeout first
	if elapsed := clock.Now().Sub(start); elapsed != 100*time.Millisecond {
		t.Fatalf("elapsed %v, want 100ms", elapsed)
	}
}
