package classradio

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType tags a line the hub sends to its host.
type EventType string

const (
	EventDebug           EventType = "debug"
	EventNewDevice       EventType = "new_device"
	EventDeviceList      EventType = "device_list"
	EventDiscoveryStart  EventType = "discovery_start"
	EventDiscoveryEnd    EventType = "discovery_end"
	EventAnswer          EventType = "answer"
	EventQParamsSent     EventType = "qparams_sent"
	EventPollingComplete EventType = "polling_complete"
	EventPingResult      EventType = "ping_result"
	EventError           EventType = "error"
	EventWarning         EventType = "warning"
)

// DeviceInfo describes one device inside a device_list event.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Group    int    `json:"grupo,omitempty"`
	Role     string `json:"role,omitempty"`
}

// HostEvent is one JSON line from the hub to the host.
// Pointer fields are present whenever set, even when zero.
type HostEvent struct {
	Type       EventType    `json:"type"`
	Msg        string       `json:"msg,omitempty"`
	DeviceID   string       `json:"device_id,omitempty"`
	Group      int          `json:"grupo,omitempty"`
	Role       string       `json:"role,omitempty"`
	Answer     *string      `json:"answer,omitempty"`
	Total      *int         `json:"total,omitempty"`
	QType      QuestionType `json:"q_type,omitempty"`
	NumOptions int          `json:"num_options,omitempty"`
	Status     string       `json:"status,omitempty"`
	Devices    []DeviceInfo `json:"devices,omitempty"`
	Existing   string       `json:"existing,omitempty"`
	New        string       `json:"new,omitempty"`
}

// AnswerText returns the answer carried by the event, "" when absent.
func (e HostEvent) AnswerText() string {
	if e.Answer == nil {
		return ""
	}
	return *e.Answer
}

// ParseHostEvent decodes one event line.
func ParseHostEvent(line []byte) (HostEvent, error) {
	var ev HostEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return HostEvent{}, fmt.Errorf("%w: %v", ErrInvalidPacketFormat, err)
	}
	if ev.Type == "" {
		return HostEvent{}, fmt.Errorf("%w: missing event type", ErrInvalidPacketFormat)
	}
	return ev, nil
}

// HostCommandType names a request from the host to the hub.
type HostCommandType string

const (
	CommandQuestionParams HostCommandType = "question_params"
	CommandStartPoll      HostCommandType = "start_poll"
	CommandStartDiscovery HostCommandType = "start_discovery"
	CommandPingAll        HostCommandType = "ping_all"
)

// HostCommand is one JSON line from the host to the hub.
type HostCommand struct {
	Type       HostCommandType `json:"type"`
	QType      QuestionType    `json:"q_type,omitempty"`
	NumOptions int             `json:"num_options,omitempty"`
}

// ParseHostCommand strictly decodes a command line: unknown fields, unknown
// types and bad question parameters are rejected.
func ParseHostCommand(line []byte) (HostCommand, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()

	var cmd HostCommand
	if err := dec.Decode(&cmd); err != nil {
		return HostCommand{}, fmt.Errorf("%w: %v", ErrInvalidPacketFormat, err)
	}
	if dec.More() {
		return HostCommand{}, fmt.Errorf("%w: trailing data", ErrInvalidPacketFormat)
	}

	switch cmd.Type {
	case CommandStartPoll, CommandStartDiscovery, CommandPingAll:
		return cmd, nil
	case CommandQuestionParams:
		if cmd.QType != SingleChoice && cmd.QType != MultipleChoice {
			return HostCommand{}, fmt.Errorf("%w: question type %q", ErrInvalidPacketFormat, cmd.QType)
		}
		if cmd.NumOptions < 1 || cmd.NumOptions > len(Alphabet) {
			return HostCommand{}, fmt.Errorf("%w: %d options", ErrInvalidPacketFormat, cmd.NumOptions)
		}
		return cmd, nil
	default:
		return HostCommand{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// EventSink consumes hub events.
type EventSink interface {
	OnEvent(event HostEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event HostEvent)

func (f EventSinkFunc) OnEvent(event HostEvent) {
	f(event)
}

func ptr[T any](v T) *T {
	return &v
}
