package classradio_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
	"github.com/exepirit/classradio/pkg/classradio/memory"
)

func testSettings() classradio.Settings {
	s := classradio.DefaultSettings()
	s.MaxDiscoveryDelay = 60 * time.Millisecond
	s.DiscoveryWindow = 400 * time.Millisecond
	s.PollTimeout = 150 * time.Millisecond
	s.PingTimeout = 150 * time.Millisecond
	s.TickInterval = 2 * time.Millisecond
	return s
}

type events struct {
	mu  sync.Mutex
	all []classradio.HostEvent
}

func (e *events) OnEvent(ev classradio.HostEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) ofType(t classradio.EventType) []classradio.HostEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []classradio.HostEvent
	for _, ev := range e.all {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type classroom struct {
	air     *memory.Air
	hub     *classradio.Hub
	hubLink *memory.Endpoint
	events  *events
	devices []*classradio.Device
	inputs  []chan classradio.Input
}

func newClassroom(t *testing.T, settings classradio.Settings) *classroom {
	t.Helper()
	air := memory.NewAir()
	c := &classroom{air: air, hubLink: air.Endpoint("hub"), events: &events{}}
	c.hub = classradio.NewHub(classradio.HubOptions{
		Settings: settings,
		Radio:    c.hubLink,
		Sink:     c.events,
		Logger:   log.NOOPLogger{},
	})
	return c
}

// addDevice starts a device running until the test ends.
func (c *classroom) addDevice(t *testing.T, settings classradio.Settings, id string, group int, role string) *classradio.Device {
	t.Helper()
	dir := t.TempDir()
	cfg := classradio.NewDeviceConfig(filepath.Join(dir, "config.yaml"), settings.Roles, settings.MaxGroup, log.NOOPLogger{})
	if err := cfg.SetRole(role); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetGroup(group); err != nil {
		t.Fatal(err)
	}

	device := classradio.NewDevice(classradio.DeviceOptions{
		Identity: classradio.Identity(id),
		Config:   cfg,
		Votes:    classradio.NewStore(filepath.Join(dir, "vote.yaml"), classradio.VoteFields(), log.NOOPLogger{}),
		Settings: settings,
		Radio:    c.air.Endpoint(id),
		Logger:   log.NOOPLogger{},
	})
	inputs := make(chan classradio.Input, 16)
	c.devices = append(c.devices, device)
	c.inputs = append(c.inputs, inputs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = device.Run(ctx, inputs)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return device
}

func (c *classroom) press(i int, in ...classradio.Input) {
	for _, input := range in {
		c.inputs[i] <- input
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sentBy(e *memory.Endpoint, packet string) bool {
	for _, p := range e.Sent() {
		if string(p) == packet {
			return true
		}
	}
	return false
}

func discover(t *testing.T, c *classroom) {
	t.Helper()
	if err := c.hub.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
}

func TestDiscoverThreeDevices(t *testing.T) {
	settings := testSettings()
	c := newClassroom(t, settings)
	ids := []string{"00000000000000a1", "00000000000000b2", "00000000000000c3"}
	for i, role := range []string{"A", "B", "Z"} {
		c.addDevice(t, settings, ids[i], 2, role)
	}

	discover(t, c)

	if n := c.hub.Registry().Len(); n != 3 {
		t.Fatalf("registry holds %d devices: %+v", n, c.hub.Registry().Entries())
	}
	for _, key := range []string{"G2:A", "G2:B", "G2:Z"} {
		if _, ok := c.hub.Registry().Get(key); !ok {
			t.Errorf("%s missing", key)
		}
	}
	for _, id := range ids {
		if !sentBy(c.hubLink, "ACK:"+id) {
			t.Errorf("no ACK for %s", id)
		}
	}
	for i, d := range c.devices {
		eventually(t, "registration of "+ids[i], func() bool { return d.State().Registered })
	}

	end := c.events.ofType(classradio.EventDiscoveryEnd)
	if len(end) != 1 || end[0].Total == nil || *end[0].Total != 3 {
		t.Fatalf("discovery_end %+v", end)
	}
}

func TestQuestionResetsConfirmedDevice(t *testing.T) {
	settings := testSettings()
	c := newClassroom(t, settings)
	device := c.addDevice(t, settings, "00000000000000a1", 2, "A")

	discover(t, c)
	eventually(t, "registration", func() bool { return device.State().Registered })

	c.press(0, classradio.Input{A: true}, classradio.Input{A: true}, classradio.Input{AB: true})
	eventually(t, "confirmation", func() bool { return device.State().Vote == classradio.VoteConfirmed })

	if err := c.hub.SendQuestion(context.Background(), classradio.SingleChoice, 3); err != nil {
		t.Fatal(err)
	}
	eventually(t, "vote reset", func() bool {
		st := device.State()
		return st.Vote == classradio.VoteIdle && len(st.Selection) == 0 && st.NumOptions == 3
	})
}

func TestPollSkipsSilentDevice(t *testing.T) {
	settings := testSettings()
	c := newClassroom(t, settings)
	first := c.addDevice(t, settings, "00000000000000a1", 2, "A")
	second := c.addDevice(t, settings, "00000000000000b2", 2, "B")

	discover(t, c)
	eventually(t, "registration", func() bool { return first.State().Registered && second.State().Registered })

	// a device that registered and then left the room
	c.hub.Registry().Register(classradio.RegistryEntry{DeviceID: "00000000000000dd", Group: 3, Role: "C"})

	c.press(0, classradio.Input{A: true}, classradio.Input{AB: true})
	c.press(1, classradio.Input{B: true})
	eventually(t, "votes", func() bool {
		return first.State().Vote == classradio.VoteConfirmed && len(second.State().Selection) == 1
	})

	start := time.Now()
	results, err := c.hub.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 2*settings.PollTimeout {
		t.Fatalf("poll finished after %v, before two timeouts", elapsed)
	}

	answers := map[string]string{}
	for _, r := range results {
		answers[r.Entry.Key] = r.Answer
	}
	if answers["G2:A"] != "A" || answers["G2:B"] != "D" || answers["G3:C"] != "" || len(answers) != 3 {
		t.Fatalf("answers %v", answers)
	}
	if n := len(c.events.ofType(classradio.EventAnswer)); n != 3 {
		t.Fatalf("%d answer events", n)
	}
	if n := len(c.events.ofType(classradio.EventPollingComplete)); n != 1 {
		t.Fatalf("%d polling_complete events", n)
	}
}

func TestRoleCloneIsFatal(t *testing.T) {
	settings := testSettings()
	c := newClassroom(t, settings)
	first := c.addDevice(t, settings, "00000000000000a1", 2, "A")
	second := c.addDevice(t, settings, "00000000000000a2", 2, "A")

	discover(t, c)

	// whichever device decodes the other's ID first halts; it may do so
	// before sending its own ID, leaving the other one running
	eventually(t, "halt", func() bool { return first.State().Halted || second.State().Halted })
	for _, d := range []*classradio.Device{first, second} {
		if st := d.State(); st.Halted && st.Registered {
			t.Fatal("a halted device stayed registered")
		}
	}
	eventually(t, "role_clone warning", func() bool {
		for _, ev := range c.events.ofType(classradio.EventError) {
			if ev.Msg == "role_clone" {
				return true
			}
		}
		return false
	})
}

func TestConsensusGroupReportsMajority(t *testing.T) {
	settings := testSettings()
	settings.Consensus = true
	c := newClassroom(t, settings)
	leader := c.addDevice(t, settings, "00000000000000f0", 1, "Z")
	followers := []*classradio.Device{
		c.addDevice(t, settings, "00000000000000f1", 1, "A"),
		c.addDevice(t, settings, "00000000000000f2", 1, "B"),
		c.addDevice(t, settings, "00000000000000f3", 1, "C"),
	}

	discover(t, c)
	if n := c.hub.Registry().Len(); n != 1 {
		t.Fatalf("hub registered %d devices, want the leader only", n)
	}
	eventually(t, "group registration", func() bool {
		ok := leader.State().Registered
		for _, f := range followers {
			ok = ok && f.State().Registered
		}
		return ok
	})

	a, ab := classradio.Input{A: true}, classradio.Input{AB: true}
	c.press(1, a, a, ab) // B
	c.press(2, a, a, ab) // B
	c.press(3, a, ab)    // A
	eventually(t, "votes", func() bool {
		for _, f := range followers {
			if f.State().Vote != classradio.VoteConfirmed {
				return false
			}
		}
		return true
	})
	// let the leader drain the vote packets
	time.Sleep(50 * time.Millisecond)

	results, err := c.hub.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Answer != "B" {
		t.Fatalf("results %+v", results)
	}
}

func TestReportBeforeFirstTickIsAnswered(t *testing.T) {
	settings := testSettings()
	c := newClassroom(t, settings)

	dir := t.TempDir()
	cfg := classradio.NewDeviceConfig(filepath.Join(dir, "config.yaml"), settings.Roles, settings.MaxGroup, log.NOOPLogger{})
	link := c.air.Endpoint("0a0b")
	device := classradio.NewDevice(classradio.DeviceOptions{
		Identity: "0a0b",
		Config:   cfg,
		Settings: settings,
		Radio:    link,
		Logger:   log.NOOPLogger{},
	})

	// the hub asks before the device has ticked even once
	if err := c.hubLink.Send(context.Background(), []byte("REPORT")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	device.Tick(ctx, classradio.Input{})
	device.Tick(ctx, classradio.Input{})

	if !sentBy(link, "ID:0a0b:1:A") {
		t.Fatalf("device did not identify, sent %q", link.Sent())
	}
	if tunes := link.Tunes(); len(tunes) != 1 || tunes[0] != settings.PublicChannel {
		t.Fatalf("radio tuned %v, want once to %d", tunes, settings.PublicChannel)
	}
}
