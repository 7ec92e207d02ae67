package classradio

import (
	"strconv"
	"strings"
)

// Verb is the leading token of a command message.
type Verb string

const (
	VerbReport    Verb = "REPORT"
	VerbID        Verb = "ID"
	VerbAck       Verb = "ACK"
	VerbPing      Verb = "PING"
	VerbPong      Verb = "PONG"
	VerbQParams   Verb = "QPARAMS"
	VerbPoll      Verb = "POLL"
	VerbAnswer    Verb = "ANSWER"
	VerbVote      Verb = "VOTE"
	VerbWarning   Verb = "WARNING"
	VerbIDLeader  Verb = "ID_LIDER"
	VerbAckLeader Verb = "ACK_LIDER"
	VerbIDVoter   Verb = "ID_VOTANTE"
	VerbAckVoter  Verb = "ACK_VOTANTE"
)

var knownVerbs = map[Verb]bool{
	VerbReport: true, VerbID: true, VerbAck: true, VerbPing: true, VerbPong: true,
	VerbQParams: true, VerbPoll: true, VerbAnswer: true, VerbVote: true, VerbWarning: true,
	VerbIDLeader: true, VerbAckLeader: true, VerbIDVoter: true, VerbAckVoter: true,
}

// Command is one decoded command-format message.
// The concrete types below are the only implementations.
type Command interface {
	Verb() Verb
	args() []string
}

type (
	// Report asks every unregistered device to identify itself.
	Report struct{}

	// Identify is a device's answer to REPORT. Group and Role are optional.
	Identify struct {
		DeviceID string
		Group    int
		Role     string
	}

	// Ack confirms the registration of a device.
	Ack struct{ DeviceID string }

	// Ping asks a device to prove it is alive.
	Ping struct{ DeviceID string }

	// Pong answers a Ping.
	Pong struct{ DeviceID string }

	// QParams announces a new question.
	QParams struct {
		Type       QuestionType
		NumOptions int
	}

	// Poll requests the current answer, addressed by DeviceID or by Group and Role.
	Poll struct {
		DeviceID string
		Group    int
		Role     string
	}

	// Answer carries the selected letters of a device.
	Answer struct {
		DeviceID string
		Group    int
		Role     string
		Options  []string
	}

	// Vote carries a single letter chosen by a device.
	Vote struct {
		DeviceID string
		Letter   string
	}

	// Warning reports an abnormal condition detected by a device.
	Warning struct {
		DeviceID string
		Reason   string
	}

	// LeaderID is sent by a group leader in answer to REPORT.
	LeaderID struct {
		DeviceID string
		Group    int
	}

	// LeaderAck confirms the registration of a group leader.
	LeaderAck struct{ DeviceID string }

	// VoterID is sent by a follower in answer to REPORT, addressed to its group leader.
	VoterID struct {
		DeviceID string
		Group    int
		Role     string
	}

	// VoterAck confirms a follower's registration with its leader.
	VoterAck struct{ DeviceID string }

	// Invalid is any message that could not be decoded.
	Invalid struct {
		Raw    string
		Reason string
	}
)

func (Report) Verb() Verb    { return VerbReport }
func (Identify) Verb() Verb  { return VerbID }
func (Ack) Verb() Verb       { return VerbAck }
func (Ping) Verb() Verb      { return VerbPing }
func (Pong) Verb() Verb      { return VerbPong }
func (QParams) Verb() Verb   { return VerbQParams }
func (Poll) Verb() Verb      { return VerbPoll }
func (Answer) Verb() Verb    { return VerbAnswer }
func (Vote) Verb() Verb      { return VerbVote }
func (Warning) Verb() Verb   { return VerbWarning }
func (LeaderID) Verb() Verb  { return VerbIDLeader }
func (LeaderAck) Verb() Verb { return VerbAckLeader }
func (VoterID) Verb() Verb   { return VerbIDVoter }
func (VoterAck) Verb() Verb  { return VerbAckVoter }
func (Invalid) Verb() Verb   { return "" }

func (Report) args() []string { return nil }

func (c Identify) args() []string {
	if c.Group == 0 && c.Role == "" {
		return []string{c.DeviceID}
	}
	return []string{c.DeviceID, strconv.Itoa(c.Group), c.Role}
}

func (c Ack) args() []string  { return []string{c.DeviceID} }
func (c Ping) args() []string { return []string{c.DeviceID} }
func (c Pong) args() []string { return []string{c.DeviceID} }

func (c QParams) args() []string {
	return []string{string(c.Type), strconv.Itoa(c.NumOptions)}
}

func (c Poll) args() []string {
	if c.DeviceID != "" {
		return []string{c.DeviceID}
	}
	return []string{strconv.Itoa(c.Group), c.Role}
}

func (c Answer) args() []string {
	opts := strings.Join(c.Options, ",")
	switch {
	case c.DeviceID != "" && c.Group != 0:
		return []string{c.DeviceID, strconv.Itoa(c.Group), c.Role, opts}
	case c.DeviceID != "":
		return []string{c.DeviceID, opts}
	case c.Group != 0:
		return []string{strconv.Itoa(c.Group), c.Role, opts}
	default:
		return []string{opts}
	}
}

func (c Vote) args() []string      { return []string{c.DeviceID, c.Letter} }
func (c Warning) args() []string   { return []string{c.DeviceID, c.Reason} }
func (c LeaderID) args() []string  { return []string{c.DeviceID, strconv.Itoa(c.Group)} }
func (c LeaderAck) args() []string { return []string{c.DeviceID} }

func (c VoterID) args() []string {
	return []string{c.DeviceID, strconv.Itoa(c.Group), c.Role}
}

func (c VoterAck) args() []string { return []string{c.DeviceID} }
func (c Invalid) args() []string  { return nil }

// EncodeCommand joins the verb and its arguments with colons.
// Arguments are not escaped: a colon inside an argument splits it on decode.
func EncodeCommand(c Command) []byte {
	if _, ok := c.(Invalid); ok {
		return nil
	}
	parts := append([]string{string(c.Verb())}, c.args()...)
	return []byte(strings.Join(parts, ":"))
}

// IsCommand reports whether raw starts with a known verb.
func IsCommand(raw []byte) bool {
	verb, _, _ := strings.Cut(string(raw), ":")
	return knownVerbs[Verb(verb)]
}

// DecodeCommand parses a command-format message. Malformed input yields Invalid.
func DecodeCommand(raw []byte) Command {
	s := string(raw)
	if s == "" {
		return Invalid{Raw: s, Reason: "empty"}
	}

	parts := strings.Split(s, ":")
	verb, args := Verb(parts[0]), parts[1:]
	invalid := func(reason string) Command {
		return Invalid{Raw: s, Reason: reason}
	}

	switch verb {
	case VerbReport:
		return Report{}

	case VerbID:
		switch len(args) {
		case 1:
			return Identify{DeviceID: args[0]}
		case 3:
			group, err := strconv.Atoi(args[1])
			if err != nil {
				return invalid("group is not a number")
			}
			return Identify{DeviceID: args[0], Group: group, Role: args[2]}
		}
		return invalid("ID expects 1 or 3 arguments")

	case VerbAck, VerbPing, VerbPong, VerbAckLeader, VerbAckVoter:
		if len(args) != 1 || args[0] == "" {
			return invalid(string(verb) + " expects a device id")
		}
		switch verb {
		case VerbAck:
			return Ack{DeviceID: args[0]}
		case VerbPing:
			return Ping{DeviceID: args[0]}
		case VerbPong:
			return Pong{DeviceID: args[0]}
		case VerbAckLeader:
			return LeaderAck{DeviceID: args[0]}
		default:
			return VoterAck{DeviceID: args[0]}
		}

	case VerbQParams:
		if len(args) != 2 {
			return invalid("QPARAMS expects type and option count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return invalid("option count is not a positive number")
		}
		return QParams{Type: QuestionType(args[0]), NumOptions: n}

	case VerbPoll:
		switch len(args) {
		case 1:
			return Poll{DeviceID: args[0]}
		case 2:
			group, err := strconv.Atoi(args[0])
			if err != nil {
				return invalid("group is not a number")
			}
			return Poll{Group: group, Role: args[1]}
		}
		return invalid("POLL expects a device id or group and role")

	case VerbAnswer:
		switch len(args) {
		case 1:
			return Answer{Options: splitOptions(args[0])}
		case 2:
			return Answer{DeviceID: args[0], Options: splitOptions(args[1])}
		case 3:
			group, err := strconv.Atoi(args[0])
			if err != nil {
				return invalid("group is not a number")
			}
			return Answer{Group: group, Role: args[1], Options: splitOptions(args[2])}
		case 4:
			group, err := strconv.Atoi(args[1])
			if err != nil {
				return invalid("group is not a number")
			}
			return Answer{DeviceID: args[0], Group: group, Role: args[2], Options: splitOptions(args[3])}
		}
		return invalid("ANSWER expects 1 to 4 arguments")

	case VerbVote:
		if len(args) != 2 {
			return invalid("VOTE expects device id and letter")
		}
		return Vote{DeviceID: args[0], Letter: args[1]}

	case VerbWarning:
		if len(args) < 2 {
			return invalid("WARNING expects device id and reason")
		}
		return Warning{DeviceID: args[0], Reason: strings.Join(args[1:], ":")}

	case VerbIDLeader:
		if len(args) != 2 {
			return invalid("ID_LIDER expects device id and group")
		}
		group, err := strconv.Atoi(args[1])
		if err != nil {
			return invalid("group is not a number")
		}
		return LeaderID{DeviceID: args[0], Group: group}

	case VerbIDVoter:
		if len(args) != 3 {
			return invalid("ID_VOTANTE expects device id, group and role")
		}
		group, err := strconv.Atoi(args[1])
		if err != nil {
			return invalid("group is not a number")
		}
		return VoterID{DeviceID: args[0], Group: group, Role: args[2]}
	}

	return invalid("unknown verb")
}

func splitOptions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
