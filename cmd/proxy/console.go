package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/exepirit/classradio/pkg/classradio"
)

const usage = "commands: discover | poll | ping | qparams <unica|multiple> <1-5>"

// parseConsole turns an operator line into a host command.
func parseConsole(line string) (classradio.HostCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return classradio.HostCommand{}, fmt.Errorf("empty command; %s", usage)
	}

	switch strings.ToLower(fields[0]) {
	case "discover", "discovery":
		return classradio.HostCommand{Type: classradio.CommandStartDiscovery}, nil
	case "poll":
		return classradio.HostCommand{Type: classradio.CommandStartPoll}, nil
	case "ping":
		return classradio.HostCommand{Type: classradio.CommandPingAll}, nil
	case "qparams", "question":
		if len(fields) != 3 {
			return classradio.HostCommand{}, fmt.Errorf("qparams needs a type and an option count; %s", usage)
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return classradio.HostCommand{}, fmt.Errorf("option count %q: %w", fields[2], err)
		}
		cmd := classradio.HostCommand{
			Type:       classradio.CommandQuestionParams,
			QType:      classradio.QuestionType(strings.ToLower(fields[1])),
			NumOptions: n,
		}
		if cmd.QType != classradio.SingleChoice && cmd.QType != classradio.MultipleChoice {
			return classradio.HostCommand{}, fmt.Errorf("question type %q; %s", fields[1], usage)
		}
		if n < 1 || n > len(classradio.Alphabet) {
			return classradio.HostCommand{}, fmt.Errorf("option count %d outside 1..%d", n, len(classradio.Alphabet))
		}
		return cmd, nil
	}
	return classradio.HostCommand{}, fmt.Errorf("unknown command %q; %s", fields[0], usage)
}

// formatEvent renders an event for the operator console.
func formatEvent(ev classradio.HostEvent) string {
	switch ev.Type {
	case classradio.EventNewDevice:
		return fmt.Sprintf("new device %s (group %d, role %s)", ev.DeviceID, ev.Group, ev.Role)
	case classradio.EventDeviceList:
		parts := make([]string, 0, len(ev.Devices))
		for _, d := range ev.Devices {
			parts = append(parts, fmt.Sprintf("%s=%d/%s", d.DeviceID, d.Group, d.Role))
		}
		return fmt.Sprintf("devices: %s", strings.Join(parts, " "))
	case classradio.EventDiscoveryEnd:
		if ev.Total != nil {
			return fmt.Sprintf("discovery finished, %d devices", *ev.Total)
		}
		return "discovery finished"
	case classradio.EventAnswer:
		answer := ev.AnswerText()
		if answer == "" {
			answer = "-"
		}
		return fmt.Sprintf("answer %s (group %d, role %s): %s", ev.DeviceID, ev.Group, ev.Role, answer)
	case classradio.EventQParamsSent:
		return fmt.Sprintf("question sent: %s, %d options", ev.QType, ev.NumOptions)
	case classradio.EventPingResult:
		return fmt.Sprintf("ping %s: %s", ev.DeviceID, ev.Status)
	case classradio.EventWarning:
		return fmt.Sprintf("warning: %s (existing %s, new %s)", ev.Msg, ev.Existing, ev.New)
	case classradio.EventError:
		return fmt.Sprintf("error: %s", ev.Msg)
	}
	if ev.Msg != "" {
		return fmt.Sprintf("%s: %s", ev.Type, ev.Msg)
	}
	return string(ev.Type)
}

// consolePrinter is the console's event subscriber.
type consolePrinter struct {
	w io.Writer
}

func (p consolePrinter) OnEvent(ev classradio.HostEvent) {
	fmt.Fprintln(p.w, formatEvent(ev))
}
