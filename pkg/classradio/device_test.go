package classradio

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/exepirit/classradio/internal/log"
)

const testID = Identity("0a0b0c0d0e0f1011")

type testDevice struct {
	*Device
	radio   *fakeRadio
	clock   *fakeClock
	display *fakeDisplay
	votes   *Store
}

func newTestDevice(t *testing.T, role string, group int, mutate func(*Settings)) *testDevice {
	t.Helper()
	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	dir := t.TempDir()
	cfg := NewDeviceConfig(filepath.Join(dir, "config.yaml"), settings.Roles, settings.MaxGroup, log.NOOPLogger{})
	if err := cfg.SetRole(role); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetGroup(group); err != nil {
		t.Fatal(err)
	}

	td := &testDevice{
		radio:   &fakeRadio{},
		clock:   newFakeClock(),
		display: &fakeDisplay{},
		votes:   NewStore(filepath.Join(dir, "vote.yaml"), VoteFields(), log.NOOPLogger{}),
	}
	td.Device = NewDevice(DeviceOptions{
		Identity: testID,
		Config:   cfg,
		Votes:    td.votes,
		Settings: settings,
		Radio:    td.radio,
		Clock:    td.clock,
		Display:  td.display,
		Logger:   log.NOOPLogger{},
	})
	return td
}

// receive delivers packet and runs one tick.
func (td *testDevice) receive(packet string) {
	td.radio.inject(packet)
	td.Tick(context.Background(), Input{})
}

func (td *testDevice) press(in Input) {
	td.Tick(context.Background(), in)
}

func (td *testDevice) sent(packet string) bool {
	return slices.Contains(td.radio.sentPackets(), packet)
}

func TestDeviceAnswersReportAfterDelay(t *testing.T) {
	td := newTestDevice(t, "A", 2, nil)
	delay := DiscoveryDelay(2, 0, 6, 9, 8750*time.Millisecond)

	td.receive("REPORT")
	td.clock.Advance(delay - time.Millisecond)
	td.press(Input{})
	if len(td.radio.sentPackets()) != 0 {
		t.Fatalf("ID sent before the discovery delay: %v", td.radio.sentPackets())
	}

	td.clock.Advance(time.Millisecond)
	td.press(Input{})
	if !td.sent("ID:0a0b0c0d0e0f1011:2:A") {
		t.Fatalf("ID not sent: %v", td.radio.sentPackets())
	}
	if td.State().Registered {
		t.Fatal("device registered without ACK")
	}
}

func TestDeviceRegistersOnOwnAck(t *testing.T) {
	td := newTestDevice(t, "A", 2, nil)

	td.receive("ACK:ffffffffffffffff")
	if td.State().Registered {
		t.Fatal("registered by another device's ACK")
	}
	td.receive("ACK:" + string(testID))
	if !td.State().Registered {
		t.Fatal("not registered")
	}
	if td.display.lastIcon() != IconRegistered {
		t.Fatalf("icon %v", td.display.lastIcon())
	}
}

func TestDeviceAnswersPoll(t *testing.T) {
	td := newTestDevice(t, "A", 2, nil)
	td.receive("ACK:" + string(testID))

	td.receive("POLL:2:A")
	if !td.sent("ANSWER:0a0b0c0d0e0f1011:2:A:") {
		t.Fatalf("empty answer not sent: %v", td.radio.sentPackets())
	}

	td.press(Input{A: true})
	td.press(Input{A: true})
	td.press(Input{AB: true})
	if st := td.State(); st.Vote != VoteConfirmed {
		t.Fatalf("vote state %v", st.Vote)
	}

	td.receive("POLL:0a0b0c0d0e0f1011")
	if !td.sent("ANSWER:0a0b0c0d0e0f1011:2:A:B") {
		t.Fatalf("answer not sent: %v", td.radio.sentPackets())
	}

	before := len(td.radio.sentPackets())
	td.receive("POLL:2:B")
	td.receive("POLL:3:A")
	if len(td.radio.sentPackets()) != before {
		t.Fatal("answered a poll addressed to another device")
	}
}

func TestDeviceQParamsResetsVote(t *testing.T) {
	td := newTestDevice(t, "B", 1, nil)
	td.receive("ACK:" + string(testID))
	td.press(Input{A: true})
	td.press(Input{AB: true})

	td.receive("QPARAMS:unica:3")
	st := td.State()
	if st.Vote != VoteIdle || len(st.Selection) != 0 || st.NumOptions != 3 || st.Type != SingleChoice {
		t.Fatalf("state after QPARAMS %+v", st)
	}
	if td.votes.GetInt("num_opciones") != 3 || td.votes.GetBool("confirmada") {
		t.Fatal("reset vote not persisted")
	}
}

func TestDeviceUnregisteredIgnoresQuestions(t *testing.T) {
	td := newTestDevice(t, "B", 1, nil)
	td.receive("QPARAMS:multiple:2")
	td.receive("POLL:1:B")
	td.press(Input{A: true})

	if st := td.State(); st.Type != SingleChoice || st.Vote != VoteIdle {
		t.Fatalf("unregistered device changed vote state: %+v", st)
	}
	if len(td.radio.sentPackets()) != 0 {
		t.Fatalf("unregistered device sent %v", td.radio.sentPackets())
	}
	// presses show the configuration instead
	if !slices.Contains(td.display.texts, "B") || !slices.Contains(td.display.texts, "1") {
		t.Fatalf("display %v", td.display.texts)
	}
}

func TestDeviceAnswersPing(t *testing.T) {
	td := newTestDevice(t, "C", 4, nil)
	td.receive("PING:other")
	td.receive("PING:" + string(testID))
	if sent := td.radio.sentPackets(); len(sent) != 1 || sent[0] != "PONG:0a0b0c0d0e0f1011" {
		t.Fatalf("sent %v", sent)
	}
}

func TestDeviceRoleCloneHaltsProtocol(t *testing.T) {
	td := newTestDevice(t, "A", 2, nil)
	td.receive("ACK:" + string(testID))

	td.receive("ID:ffffffffffffffff:2:A")
	st := td.State()
	if !st.Halted || st.Registered {
		t.Fatalf("state %+v", st)
	}
	if td.display.lastIcon() != IconFatal {
		t.Fatalf("icon %v", td.display.lastIcon())
	}

	td.receive("PING:" + string(testID))
	td.receive("ID:ffffffffffffffff:2:A")
	sent := td.radio.sentPackets()
	if len(sent) != 1 || sent[0] != "WARNING:0a0b0c0d0e0f1011:role_clone" {
		t.Fatalf("sent %v, want a single warning", sent)
	}

	td.press(Input{Config: true, B: true})
	if td.State().Halted {
		t.Fatal("configuration change did not clear the halt")
	}
}

func TestDeviceIgnoresSameRoleInOtherGroup(t *testing.T) {
	td := newTestDevice(t, "A", 2, nil)
	td.receive("ID:ffffffffffffffff:3:A")
	td.receive("ID:" + string(testID) + ":2:A")
	if td.State().Halted {
		t.Fatal("halted without a clone")
	}
}

func TestConfigModeCycles(t *testing.T) {
	td := newTestDevice(t, "A", 9, nil)

	td.press(Input{Config: true, A: true})
	td.press(Input{Config: true, B: true})
	st := td.State()
	if st.Role != "B" || st.Group != 1 {
		t.Fatalf("config %s/%d, want B/1", st.Role, st.Group)
	}
	if !slices.Equal(td.display.texts, []string{"B", "1"}) {
		t.Fatalf("display %v", td.display.texts)
	}
}

func consensus(s *Settings) {
	s.Consensus = true
}

func TestFollowerDetectsCloneFromVotes(t *testing.T) {
	td := newTestDevice(t, "A", 2, consensus)
	td.receive("vot,2,B,C")
	if td.State().Halted {
		t.Fatal("halted on a vote of another role")
	}
	td.receive("vot,2,A,C")
	if !td.State().Halted {
		t.Fatal("vote under own role did not halt the follower")
	}
}

func TestFollowerRegistersWithLeaderAndVotes(t *testing.T) {
	td := newTestDevice(t, "B", 1, consensus)

	td.receive("REPORT")
	td.clock.Advance(td.settings.MaxDiscoveryDelay)
	td.press(Input{})
	if !td.sent("ID_VOTANTE:0a0b0c0d0e0f1011:1:B") {
		t.Fatalf("sent %v", td.radio.sentPackets())
	}

	td.receive("ACK:" + string(testID))
	if td.State().Registered {
		t.Fatal("follower registered by a hub ACK")
	}
	td.receive("ACK_VOTANTE:" + string(testID))
	if !td.State().Registered {
		t.Fatal("follower not registered")
	}

	td.press(Input{A: true})
	td.press(Input{AB: true})
	if !td.sent("vot,1,B,A") {
		t.Fatalf("vote not sent: %v", td.radio.sentPackets())
	}
}

func TestLeaderAnswersMajority(t *testing.T) {
	td := newTestDevice(t, "Z", 1, consensus)

	td.receive("REPORT")
	td.clock.Advance(td.settings.MaxDiscoveryDelay)
	td.press(Input{})
	if !td.sent("ID_LIDER:0a0b0c0d0e0f1011:1") {
		t.Fatalf("sent %v", td.radio.sentPackets())
	}
	td.receive("ACK_LIDER:" + string(testID))
	if !td.State().Registered {
		t.Fatal("leader not registered")
	}

	td.receive("ID_VOTANTE:f1:1:A")
	if !td.sent("ACK_VOTANTE:f1") {
		t.Fatalf("follower not acknowledged: %v", td.radio.sentPackets())
	}
	td.receive("ID_VOTANTE:f9:2:A")
	if td.sent("ACK_VOTANTE:f9") {
		t.Fatal("acknowledged a follower of another group")
	}

	td.receive("POLL:1:Z")
	if !td.sent("ANSWER:0a0b0c0d0e0f1011:1:Z:") {
		t.Fatalf("empty majority not sent: %v", td.radio.sentPackets())
	}

	for _, vote := range []string{"vot,1,A,B", "vot,1,B,C", "vot,1,C,C", "vot,2,D,B", "vot,1,D,B", "vot,1,E,B"} {
		td.receive(vote)
	}
	td.receive("POLL:1:Z")
	if !td.sent("ANSWER:0a0b0c0d0e0f1011:1:Z:B") {
		t.Fatalf("majority not sent: %v", td.radio.sentPackets())
	}

	td.receive("QPARAMS:unica:4")
	td.receive("POLL:1:Z")
	if n := count(td.radio.sentPackets(), "ANSWER:0a0b0c0d0e0f1011:1:Z:"); n != 2 {
		t.Fatalf("tally not cleared by QPARAMS, empty answers %d", n)
	}
}
