package classradio

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
)

// Icon is a symbol a device can show on its display.
type Icon int

const (
	IconRegistered Icon = iota + 1
	IconQuestion
	IconConfirmed
	IconFatal
)

// Display shows the protocol state of a device to the student.
type Display interface {
	Show(text string)
	ShowIcon(icon Icon)
}

type nopDisplay struct{}

func (nopDisplay) Show(string)  {}
func (nopDisplay) ShowIcon(Icon) {}

// Input is the button state sampled on one tick.
type Input struct {
	A, B bool
	// AB is the confirm gesture (both buttons together).
	AB bool
	// Config is held while the configuration gesture is active.
	Config bool
	// Logo asks the device to show its role and group.
	Logo bool
}

// DeviceOptions wire a Device to its collaborators.
type DeviceOptions struct {
	Identity Identity
	Config   *DeviceConfig
	// Votes persists the vote state; it must be created with VoteFields.
	Votes    *Store
	Settings Settings
	Radio    Radio
	Clock    Clock
	Display  Display
	Logger   log.Logger
}

// DeviceStatus is a snapshot of a device's protocol state.
type DeviceStatus struct {
	Registered bool
	Halted     bool
	Group      int
	Role       string
	Vote       VoteSubState
	Selection  []string
	NumOptions int
	Type       QuestionType
}

// Device runs the student side of the protocol: it answers discovery, keeps the
// vote selection and answers polls. Each Tick handles the buttons and at most one
// radio packet. A role clone halts the protocol until the configuration changes.
type Device struct {
	id       Identity
	config   *DeviceConfig
	votes    *Store
	settings Settings
	mux      *Mux
	clock    Clock
	display  Display
	logger   log.Logger

	mu         sync.Mutex
	registered bool
	halted     bool
	warned     bool
	idDue      time.Time
	vote       *VoteState
	tally      *Tally
	followers  map[string]string
}

func NewDevice(opts DeviceOptions) *Device {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Display == nil {
		opts.Display = nopDisplay{}
	}
	logger := log.OrDefault(opts.Logger)

	d := &Device{
		id:        opts.Identity,
		config:    opts.Config,
		votes:     opts.Votes,
		settings:  opts.Settings,
		mux:       NewMux(opts.Radio, opts.Clock, logger),
		clock:     opts.Clock,
		display:   opts.Display,
		logger:    logger,
		vote:      NewVoteState(SingleChoice, len(Alphabet)-1),
		tally:     NewTally(),
		followers: map[string]string{},
	}
	if d.votes != nil {
		d.vote.Load(d.votes)
	}
	d.retune()
	// tuned once here so packets arriving before the first tick are kept
	if err := d.mux.SwitchTo(ChannelPrivate); err != nil {
		logger.Warn("Cannot tune radio", "error", err)
	}
	return d
}

func (d *Device) ID() Identity {
	return d.id
}

func (d *Device) retune() {
	d.mux.SetChannels(d.settings.GroupChannel(d.config.Group()), d.settings.PublicChannel)
}

func (d *Device) isLeader() bool {
	return d.settings.Consensus && d.config.Role() == d.settings.LeaderRole
}

func (d *Device) isFollower() bool {
	return d.settings.Consensus && d.config.Role() != d.settings.LeaderRole
}

// validOrigins lists the roles whose CSV traffic this device accepts.
func (d *Device) validOrigins() []string {
	role := d.config.Role()
	if d.isFollower() {
		return []string{d.settings.LeaderRole}
	}
	return slices.DeleteFunc(slices.Clone(d.settings.Roles), func(r string) bool { return r == role })
}

func (d *Device) State() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceStatus{
		Registered: d.registered,
		Halted:     d.halted,
		Group:      d.config.Group(),
		Role:       d.config.Role(),
		Vote:       d.vote.SubState(),
		Selection:  d.vote.Selection(),
		NumOptions: d.vote.NumOptions,
		Type:       d.vote.Type,
	}
}

// Run ticks the device every TickInterval until ctx is done.
// Button inputs are consumed one per tick.
func (d *Device) Run(ctx context.Context, inputs <-chan Input) error {
	interval := d.settings.TickInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	for {
		var in Input
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in = <-inputs:
		default:
		}

		d.Tick(ctx, in)

		if err := d.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// Tick processes the buttons and at most one pending radio packet.
func (d *Device) Tick(ctx context.Context, in Input) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handleInput(ctx, in)
	if d.halted {
		return
	}

	if !d.idDue.IsZero() && !d.clock.Now().Before(d.idDue) {
		d.idDue = time.Time{}
		d.sendIdentification(ctx)
	}

	packet, err := d.mux.Receive(ctx, ChannelPrivate)
	if err != nil {
		if !errors.Is(err, ErrEmptyQueue) {
			d.logger.Warn("Cannot receive packet", "error", err)
		}
		return
	}

	if IsCommand(packet) {
		d.handleCommand(ctx, DecodeCommand(packet))
	} else {
		d.handleCSV(ctx, packet)
	}
}

func (d *Device) handleInput(ctx context.Context, in Input) {
	switch {
	case in.Config:
		if in.A {
			d.display.Show(d.config.CycleRole())
		}
		if in.B {
			d.display.Show(strconv.Itoa(d.config.CycleGroup()))
		}
		if in.A || in.B {
			d.retune()
			d.registered = false
			if d.halted {
				d.logger.Info("Configuration changed, resuming protocol")
				d.halted = false
				d.warned = false
			}
		}
		return
	case in.Logo:
		d.showConfig()
		return
	}

	if d.halted {
		if in.A || in.B || in.AB {
			d.display.ShowIcon(IconFatal)
		}
		return
	}

	if !d.registered {
		if in.A || in.B || in.AB {
			d.showConfig()
		}
		return
	}

	changed := false
	switch {
	case in.AB:
		if d.vote.Confirmed() {
			break
		}
		if d.vote.Confirm() {
			d.display.ShowIcon(IconConfirmed)
			changed = true
			if d.isFollower() {
				d.sendVote(ctx)
			}
		}
	case in.A:
		if !d.vote.Confirmed() {
			d.vote.Next()
			changed = true
		}
	case in.B:
		if !d.vote.Confirmed() {
			d.vote.ButtonB()
			changed = true
		}
	}
	if !changed {
		return
	}
	if cursor := d.vote.Cursor(); cursor != "" && !d.vote.Confirmed() {
		d.display.Show(cursor)
	}
	if d.votes != nil {
		d.vote.Save(d.votes)
	}
}

func (d *Device) showConfig() {
	d.display.Show(d.config.Role())
	d.display.Show(strconv.Itoa(d.config.Group()))
}

func (d *Device) handleCommand(ctx context.Context, cmd Command) {
	group, role := d.config.Group(), d.config.Role()
	own := string(d.id)

	switch c := cmd.(type) {
	case Report:
		d.registered = false
		if d.isLeader() {
			d.followers = map[string]string{}
		}
		idx, err := d.config.RoleIndex()
		if err != nil {
			d.fatal(ctx, err)
			return
		}
		delay := DiscoveryDelay(group, idx, len(d.settings.Roles), d.settings.MaxGroup, d.settings.MaxDiscoveryDelay)
		d.idDue = d.clock.Now().Add(delay)
		d.logger.Debug("Discovery requested", "delay", delay)

	case Identify:
		if c.DeviceID != own && c.Group == group && c.Role == role {
			d.fatal(ctx, ErrRoleClone)
		}

	case VoterID:
		if c.DeviceID != own && c.Group == group && c.Role == role {
			d.fatal(ctx, ErrRoleClone)
			return
		}
		if d.isLeader() && c.Group == group {
			d.followers[c.DeviceID] = c.Role
			d.send(ctx, VoterAck{DeviceID: c.DeviceID})
			d.logger.Info("Follower registered", "deviceID", c.DeviceID, "role", c.Role)
		}

	case Ack:
		if c.DeviceID == own && !d.settings.Consensus {
			d.setRegistered()
		}
	case LeaderAck:
		if c.DeviceID == own && d.isLeader() {
			d.setRegistered()
		}
	case VoterAck:
		if c.DeviceID == own && d.isFollower() {
			d.setRegistered()
		}

	case QParams:
		if !d.registered {
			return
		}
		d.vote.Reset(c.Type, c.NumOptions)
		d.tally.Reset()
		if d.votes != nil {
			d.vote.Save(d.votes)
		}
		d.display.ShowIcon(IconQuestion)
		d.logger.Info("New question", "type", c.Type, "options", d.vote.NumOptions)

	case Poll:
		if !d.registered {
			return
		}
		if c.DeviceID != own && (c.Group != group || c.Role != role) {
			return
		}
		answer := d.vote.Selection()
		if d.isLeader() {
			answer = nil
			if majority, _ := d.tally.Majority(); majority != "" {
				answer = []string{majority}
			}
		}
		d.send(ctx, Answer{DeviceID: own, Group: group, Role: role, Options: answer})

	case Vote:
		if _, ok := d.followers[c.DeviceID]; ok && d.isLeader() {
			d.tally.Cast(c.DeviceID, c.Letter)
		}

	case Ping:
		if c.DeviceID == own {
			d.send(ctx, Pong{DeviceID: own})
		}

	case Invalid:
		d.logger.Debug("Dropping malformed command", "raw", c.Raw, "reason", c.Reason)
	}
}

func (d *Device) handleCSV(ctx context.Context, packet []byte) {
	if !d.settings.Consensus {
		return
	}
	codec := Context{Version: d.settings.VoteToken, Group: d.config.Group(), Role: d.config.Role()}
	msg := codec.Decode(packet, d.validOrigins())
	switch msg.Status {
	case StatusValid:
		if d.isLeader() {
			d.tally.Cast(msg.Origin, msg.Payload)
			d.logger.Debug("Vote received", "role", msg.Origin, "vote", msg.Payload)
		}
	case StatusRoleClone:
		d.fatal(ctx, ErrRoleClone)
	case StatusGroupMismatch, StatusFiltered:
		// other groups and roles share the channel
	default:
		d.logger.Debug("Dropping CSV message", "status", msg.Status)
	}
}

func (d *Device) setRegistered() {
	if d.registered {
		return
	}
	d.registered = true
	d.idDue = time.Time{}
	d.display.ShowIcon(IconRegistered)
	d.logger.Info("Registered", "group", d.config.Group(), "role", d.config.Role())
}

func (d *Device) sendIdentification(ctx context.Context) {
	own, group, role := string(d.id), d.config.Group(), d.config.Role()
	switch {
	case d.isLeader():
		d.send(ctx, LeaderID{DeviceID: own, Group: group})
	case d.isFollower():
		d.send(ctx, VoterID{DeviceID: own, Group: group, Role: role})
	default:
		d.send(ctx, Identify{DeviceID: own, Group: group, Role: role})
	}
}

func (d *Device) sendVote(ctx context.Context) {
	codec := Context{Version: d.settings.VoteToken, Group: d.config.Group(), Role: d.config.Role()}
	packet, err := codec.Encode(d.vote.Answer())
	if err != nil {
		d.logger.Error("Cannot encode vote", "error", err)
		return
	}
	if err := d.mux.Send(ctx, packet, ChannelPrivate); err != nil {
		d.logger.Warn("Cannot send vote", "error", err)
	}
}

func (d *Device) send(ctx context.Context, cmd Command) {
	if err := d.mux.Send(ctx, EncodeCommand(cmd), ChannelPrivate); err != nil {
		d.logger.Warn("Cannot send command", "verb", cmd.Verb(), "error", err)
	}
}

// fatal halts the protocol and warns the hub once.
func (d *Device) fatal(ctx context.Context, err error) {
	if !d.halted {
		d.logger.Error("Protocol halted", "group", d.config.Group(), "role", d.config.Role(), "error", err)
	}
	d.halted = true
	d.registered = false
	d.idDue = time.Time{}
	d.display.ShowIcon(IconFatal)

	if d.warned {
		return
	}
	d.warned = true
	reason := "role_clone"
	if !errors.Is(err, ErrRoleClone) {
		reason = "unknown_role"
	}
	warning := EncodeCommand(Warning{DeviceID: string(d.id), Reason: reason})
	if err := d.mux.Send(ctx, warning, ChannelPublic); err != nil {
		d.logger.Warn("Cannot send warning", "error", err)
	}
}
