package classradio

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/exepirit/classradio/internal/log"
	"github.com/google/go-cmp/cmp"
)

// lineConn serves lines from in and records written lines.
type lineConn struct {
	in  chan []byte
	mu  sync.Mutex
	out []string
}

func newLineConn(lines ...string) *lineConn {
	c := &lineConn{in: make(chan []byte, len(lines))}
	for _, l := range lines {
		c.in <- []byte(l)
	}
	close(c.in)
	return c
}

func (c *lineConn) ReadLine(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	}
}

func (c *lineConn) WriteLine(_ context.Context, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, string(line))
	return nil
}

func (c *lineConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.out...)
}

func TestHubBridgeServe(t *testing.T) {
	conn := newLineConn(
		`{"type":"question_params","q_type":"unica","num_options":3}`,
		``,
		`start_poll`,
		`{"type":"start_poll"}`,
	)
	bridge := &HubBridge{Conn: conn, Logger: log.NOOPLogger{}}
	hub, _, _ := newTestHub(t, &fakeRadio{}, nil)

	if err := bridge.Serve(context.Background(), hub); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var queued []HostCommand
	for len(hub.commands) > 0 {
		queued = append(queued, <-hub.commands)
	}
	want := []HostCommand{
		{Type: CommandQuestionParams, QType: SingleChoice, NumOptions: 3},
		{Type: CommandStartPoll},
	}
	if diff := cmp.Diff(want, queued); diff != "" {
		t.Fatalf("queued (-want +got):\n%s", diff)
	}

	written := conn.written()
	if len(written) != 1 {
		t.Fatalf("written %v", written)
	}
	ev, err := ParseHostEvent([]byte(written[0]))
	if err != nil || ev.Type != EventError {
		t.Fatalf("rejection event %q: %v", written[0], err)
	}
}

func TestHubBridgeWritesEvents(t *testing.T) {
	conn := newLineConn()
	bridge := &HubBridge{Conn: conn}

	bridge.OnEvent(HostEvent{Type: EventNewDevice, DeviceID: "0a1b", Group: 2, Role: "A"})
	bridge.OnEvent(HostEvent{Type: EventDeviceList, Devices: []DeviceInfo{{DeviceID: "0a1b", Group: 2, Role: "A"}}})

	want := []string{
		`{"type":"new_device","device_id":"0a1b","grupo":2,"role":"A"}`,
		`{"type":"device_list","devices":[{"device_id":"0a1b","grupo":2,"role":"A"}]}`,
	}
	if diff := cmp.Diff(want, conn.written()); diff != "" {
		t.Fatalf("lines (-want +got):\n%s", diff)
	}
}

func TestHostLink(t *testing.T) {
	conn := newLineConn(
		`{"type":"discovery_start"}`,
		`not json`,
		`{"type":"discovery_end","total":2}`,
	)
	link := &HostLink{Conn: conn}

	if err := link.Send(context.Background(), HostCommand{Type: CommandPingAll}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{`{"type":"ping_all"}`}, conn.written()); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}

	var types []EventType
	errs := 0
	for ev, err := range link.Events(context.Background()) {
		if err != nil {
			errs++
			continue
		}
		types = append(types, ev.Type)
	}
	if errs != 1 {
		t.Fatalf("errors = %d", errs)
	}
	if diff := cmp.Diff([]EventType{EventDiscoveryStart, EventDiscoveryEnd}, types); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestFanOutPublishAll(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	pub := &FanOutEventPublisher{}
	pub.Subscribe(first)
	pub.Subscribe(second)

	link := &HostLink{Conn: newLineConn(`{"type":"answer","device_id":"x","answer":"B"}`, `{}`, `{"type":"polling_complete"}`)}
	pub.PublishAll(context.Background(), link.Events(context.Background()))

	for _, sink := range []*recordingSink{first, second} {
		if diff := cmp.Diff([]EventType{EventAnswer, EventPollingComplete}, sink.types()); diff != "" {
			t.Fatalf("events (-want +got):\n%s", diff)
		}
	}
}
