package classradio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/exepirit/classradio/internal/log"
)

// Button is a physical button of the hub.
type Button int

const (
	// ButtonA starts a discovery.
	ButtonA Button = iota + 1
	// ButtonB runs the health check.
	ButtonB
)

// PollStatus is the outcome of polling one device.
type PollStatus int

const (
	PollAnswered PollStatus = iota
	PollNoResponse
)

// PollResult is the answer of one registered device.
type PollResult struct {
	Entry  RegistryEntry
	Answer string
	Status PollStatus
}

// PingStatus is the outcome of pinging one device.
type PingStatus string

const (
	PingOnline  PingStatus = "online"
	PingOffline PingStatus = "offline"
)

type PingResult struct {
	Entry  RegistryEntry
	Status PingStatus
}

// HubOptions wire a Hub to its collaborators.
type HubOptions struct {
	Settings Settings
	Radio    Radio
	Clock    Clock
	// Sink receives every event for the host. It may be nil.
	Sink EventSink
	// RegistryFile persists the registry between runs when set.
	RegistryFile string
	Logger       log.Logger
}

// Hub is the coordinator of a classroom: it discovers devices, announces
// questions, polls every registered device in turn and reports to its host.
// Discovery, polling and the health check never overlap; a second request
// while one runs gets ErrBusy.
type Hub struct {
	settings     Settings
	mux          *Mux
	clock        Clock
	sink         EventSink
	registry     *Registry
	registryFile string
	logger       log.Logger

	busy     atomic.Bool
	commands chan HostCommand
}

func NewHub(opts HubOptions) *Hub {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	logger := log.OrDefault(opts.Logger)
	h := &Hub{
		settings:     opts.Settings,
		mux:          NewMux(opts.Radio, opts.Clock, logger),
		clock:        opts.Clock,
		sink:         opts.Sink,
		registry:     NewRegistry(),
		registryFile: opts.RegistryFile,
		logger:       logger,
		commands:     make(chan HostCommand, 16),
	}
	h.mux.SetChannels(opts.Settings.PublicChannel, opts.Settings.PublicChannel)
	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Busy reports whether an operation is running.
func (h *Hub) Busy() bool {
	return h.busy.Load()
}

func (h *Hub) emit(event HostEvent) {
	h.logger.Debug("Hub event", "type", event.Type, "deviceID", event.DeviceID, "msg", event.Msg)
	if h.sink != nil {
		h.sink.OnEvent(event)
	}
}

func (h *Hub) debug(msg string) {
	h.emit(HostEvent{Type: EventDebug, Msg: msg})
}

// LoadRegistry restores the registry saved by the last discovery.
func (h *Hub) LoadRegistry() {
	if h.registryFile == "" {
		return
	}
	if err := h.registry.Load(h.registryFile); err != nil {
		h.logger.Warn("Registry not loaded", "path", h.registryFile, "error", err)
		return
	}
	h.debug(fmt.Sprintf("Cargados_%d_dispositivos", h.registry.Len()))
}

func (h *Hub) acquire() error {
	if !h.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (h *Hub) release() {
	h.busy.Store(false)
}

func (h *Hub) tuneGroup(group int) {
	h.mux.SetChannels(h.settings.GroupChannel(group), h.settings.PublicChannel)
}

func (h *Hub) send(ctx context.Context, cmd Command) {
	if err := h.mux.Send(ctx, EncodeCommand(cmd), ChannelPrivate); err != nil {
		h.logger.Warn("Cannot send command", "verb", cmd.Verb(), "error", err)
	}
}

// await receives on the private channel until match accepts a command or
// timeout elapses. Commands that do not match are handed to handleStray.
// Replies come on the channel the request went out on.
func (h *Hub) await(ctx context.Context, timeout time.Duration, match func(Command) bool) (Command, error) {
	deadline := h.clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(h.clock.Now())
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		packet, _, err := h.mux.ReceiveAny(ctx, remaining, ChannelPrivate)
		if errors.Is(err, ErrTimeout) {
			return nil, ErrTimeout
		}
		if err != nil {
			return nil, err
		}
		if !IsCommand(packet) {
			continue
		}
		cmd := DecodeCommand(packet)
		if match(cmd) {
			return cmd, nil
		}
		h.handleStray(cmd)
	}
}

func (h *Hub) handleStray(cmd Command) {
	switch c := cmd.(type) {
	case Warning:
		h.logger.Error("Device reported a fault", "deviceID", c.DeviceID, "reason", c.Reason)
		h.emit(HostEvent{Type: EventError, DeviceID: c.DeviceID, Msg: c.Reason})
	case Invalid:
		h.logger.Debug("Dropping malformed command", "raw", c.Raw, "reason", c.Reason)
	}
}

// Discover rebuilds the registry from the devices answering REPORT.
func (h *Hub) Discover(ctx context.Context) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	h.registry.Clear()
	h.emit(HostEvent{Type: EventDiscoveryStart})
	h.logger.Info("Discovery started")

	if h.settings.PerGroupChannels {
		for group := 1; group <= h.settings.MaxGroup; group++ {
			h.tuneGroup(group)
			h.send(ctx, Report{})
			if err := h.collect(ctx); err != nil {
				return err
			}
		}
	} else {
		h.send(ctx, Report{})
		if err := h.collect(ctx); err != nil {
			return err
		}
	}

	entries := h.registry.Entries()
	devices := make([]DeviceInfo, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, DeviceInfo{DeviceID: e.DeviceID, Group: e.Group, Role: e.Role})
	}
	h.emit(HostEvent{Type: EventDeviceList, Devices: devices})

	if h.registryFile != "" {
		if err := h.registry.Save(h.registryFile); err != nil {
			h.logger.Error("Cannot save registry", "path", h.registryFile, "error", err)
		}
	}
	h.emit(HostEvent{Type: EventDiscoveryEnd, Total: ptr(len(entries))})
	h.logger.Info("Discovery finished", "total", len(entries))
	return nil
}

// collect registers identifications for one discovery window.
func (h *Hub) collect(ctx context.Context) error {
	deadline := h.clock.Now().Add(h.settings.DiscoveryWindow)
	for {
		remaining := deadline.Sub(h.clock.Now())
		if remaining <= 0 {
			return nil
		}
		cmd, err := h.await(ctx, remaining, func(cmd Command) bool {
			switch cmd.(type) {
			case Identify, LeaderID:
				return true
			}
			return false
		})
		if errors.Is(err, ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}

		switch c := cmd.(type) {
		case Identify:
			if h.settings.Consensus {
				continue
			}
			h.register(ctx, RegistryEntry{DeviceID: c.DeviceID, Group: c.Group, Role: c.Role}, Ack{DeviceID: c.DeviceID})
		case LeaderID:
			if !h.settings.Consensus {
				continue
			}
			h.register(ctx, RegistryEntry{DeviceID: c.DeviceID, Group: c.Group, Role: h.settings.LeaderRole}, LeaderAck{DeviceID: c.DeviceID})
		}
	}
}

func (h *Hub) register(ctx context.Context, entry RegistryEntry, ack Command) {
	if entry.DeviceID == "" {
		return
	}
	result, prev := h.registry.Register(entry)
	h.send(ctx, ack)

	switch result {
	case RegisterNew:
		h.logger.Info("Device registered", "deviceID", entry.DeviceID, "group", entry.Group, "role", entry.Role)
		h.emit(HostEvent{Type: EventNewDevice, DeviceID: entry.DeviceID, Group: entry.Group, Role: entry.Role})
	case RegisterCollision:
		h.logger.Warn("Registry collision", "key", RegistryKey(entry.DeviceID, entry.Group, entry.Role),
			"existing", prev.DeviceID, "new", entry.DeviceID)
		h.emit(HostEvent{
			Type:     EventWarning,
			Msg:      "collision",
			Group:    entry.Group,
			Role:     entry.Role,
			Existing: Identity(prev.DeviceID).Short(),
			New:      Identity(entry.DeviceID).Short(),
		})
		h.emit(HostEvent{Type: EventNewDevice, DeviceID: entry.DeviceID, Group: entry.Group, Role: entry.Role})
	}
}

// SendQuestion broadcasts QPARAMS to every device.
func (h *Hub) SendQuestion(ctx context.Context, qt QuestionType, numOptions int) error {
	if err := h.acquire(); err != nil {
		return err
	}
	defer h.release()

	q := QParams{Type: qt, NumOptions: numOptions}
	if h.settings.PerGroupChannels {
		for group := 1; group <= h.settings.MaxGroup; group++ {
			h.tuneGroup(group)
			h.send(ctx, q)
		}
	} else {
		h.send(ctx, q)
	}
	h.emit(HostEvent{Type: EventQParamsSent, QType: qt, NumOptions: numOptions})
	return nil
}

// Poll asks every registered device for its answer, one at a time and in
// discovery order. A device silent for every attempt is recorded with "".
func (h *Hub) Poll(ctx context.Context) ([]PollResult, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	entries := h.registry.Entries()
	results := make([]PollResult, 0, len(entries))
	for _, entry := range entries {
		result, err := h.pollOne(ctx, entry)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		h.emit(HostEvent{
			Type:     EventAnswer,
			DeviceID: entry.DeviceID,
			Group:    entry.Group,
			Role:     entry.Role,
			Answer:   ptr(result.Answer),
		})
	}
	h.emit(HostEvent{Type: EventPollingComplete, Total: ptr(len(results))})
	return results, nil
}

func (h *Hub) pollOne(ctx context.Context, entry RegistryEntry) (PollResult, error) {
	h.tuneGroup(entry.Group)

	poll := Poll{DeviceID: entry.DeviceID}
	if entry.Group != 0 && entry.Role != "" {
		poll = Poll{Group: entry.Group, Role: entry.Role}
	}
	matches := func(cmd Command) bool {
		a, ok := cmd.(Answer)
		if !ok {
			return false
		}
		if a.DeviceID != "" {
			return a.DeviceID == entry.DeviceID
		}
		return a.Group == entry.Group && a.Role == entry.Role
	}

	for attempt := 1; attempt <= h.settings.PollAttempts; attempt++ {
		h.send(ctx, poll)
		cmd, err := h.await(ctx, h.settings.PollTimeout, matches)
		if errors.Is(err, ErrTimeout) {
			h.logger.Debug("Poll timed out", "deviceID", entry.DeviceID, "attempt", attempt)
			continue
		}
		if err != nil {
			return PollResult{}, err
		}
		answer := cmd.(Answer)
		return PollResult{Entry: entry, Answer: strings.Join(answer.Options, ","), Status: PollAnswered}, nil
	}

	h.logger.Info("Device did not answer", "deviceID", entry.DeviceID, "attempts", h.settings.PollAttempts)
	return PollResult{Entry: entry, Status: PollNoResponse}, nil
}

// PingAll checks which registered devices are reachable.
func (h *Hub) PingAll(ctx context.Context) ([]PingResult, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	entries := h.registry.Entries()
	results := make([]PingResult, 0, len(entries))
	for _, entry := range entries {
		h.tuneGroup(entry.Group)
		h.send(ctx, Ping{DeviceID: entry.DeviceID})

		status := PingOnline
		_, err := h.await(ctx, h.settings.PingTimeout, func(cmd Command) bool {
			pong, ok := cmd.(Pong)
			return ok && pong.DeviceID == entry.DeviceID
		})
		switch {
		case errors.Is(err, ErrTimeout):
			status = PingOffline
		case err != nil:
			return results, err
		}

		results = append(results, PingResult{Entry: entry, Status: status})
		h.emit(HostEvent{Type: EventPingResult, DeviceID: entry.DeviceID, Group: entry.Group, Role: entry.Role, Status: string(status)})
	}
	return results, nil
}

// Submit queues a host command for Run. It does not block.
func (h *Hub) Submit(cmd HostCommand) error {
	select {
	case h.commands <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// Press handles a hub button. Presses while an operation runs are dropped.
func (h *Hub) Press(b Button) bool {
	if h.Busy() {
		h.logger.Debug("Button ignored while busy", "button", b)
		return false
	}
	switch b {
	case ButtonA:
		return h.Submit(HostCommand{Type: CommandStartDiscovery}) == nil
	case ButtonB:
		return h.Submit(HostCommand{Type: CommandPingAll}) == nil
	}
	return false
}

// Handle runs one host command to completion.
func (h *Hub) Handle(ctx context.Context, cmd HostCommand) error {
	switch cmd.Type {
	case CommandStartDiscovery:
		return h.Discover(ctx)
	case CommandQuestionParams:
		return h.SendQuestion(ctx, cmd.QType, cmd.NumOptions)
	case CommandStartPoll:
		_, err := h.Poll(ctx)
		return err
	case CommandPingAll:
		_, err := h.PingAll(ctx)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
}

// Run executes submitted commands one after the other until ctx is done.
// Between commands it keeps listening for device warnings.
func (h *Hub) Run(ctx context.Context) error {
	idle := h.settings.TickInterval
	if idle <= 0 {
		idle = 20 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-h.commands:
			if err := h.Handle(ctx, cmd); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				h.logger.Error("Command failed", "command", cmd.Type, "error", err)
				h.emit(HostEvent{Type: EventError, Msg: err.Error()})
			}
		default:
			h.idle(ctx)
			if err := h.clock.Sleep(ctx, idle); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) idle(ctx context.Context) {
	h.mux.SetChannels(h.settings.PublicChannel, h.settings.PublicChannel)
	packet, err := h.mux.Receive(ctx, ChannelPublic)
	if err != nil || !IsCommand(packet) {
		return
	}
	h.handleStray(DecodeCommand(packet))
}
