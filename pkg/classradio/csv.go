package classradio

import (
	"slices"
	"strconv"
	"strings"
)

// CommaSentinel replaces literal commas inside CSV payloads.
// A payload that already contains the sentinel comes back with commas in its place.
const CommaSentinel = "_coma_"

// DecodeStatus is the outcome of decoding a CSV message.
type DecodeStatus int

const (
	StatusValid DecodeStatus = iota
	StatusEmpty
	StatusMalformed
	StatusVersionMismatch
	StatusGroupMismatch
	StatusFiltered
	// StatusRoleClone means the sender claims the receiver's own role in the receiver's group.
	StatusRoleClone
)

func (s DecodeStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusEmpty:
		return "empty"
	case StatusMalformed:
		return "malformed"
	case StatusVersionMismatch:
		return "version_mismatch"
	case StatusGroupMismatch:
		return "group_mismatch"
	case StatusFiltered:
		return "filtered"
	case StatusRoleClone:
		return "role_clone"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Context is the sender/receiver side of the CSV format.
// When Version is empty the wire format has three fields, otherwise four.
type Context struct {
	Version string
	Group   int
	Role    string
}

// Decoded is a CSV message after validation.
type Decoded struct {
	Status  DecodeStatus
	Group   int
	Origin  string
	Payload string
}

// Valid reports whether the message passed every check.
func (d Decoded) Valid() bool {
	return d.Status == StatusValid
}

// Encode builds a CSV message carrying payload from this context.
// It returns ErrNotEncodable when group or role is unset.
func (c Context) Encode(payload string) ([]byte, error) {
	if c.Group <= 0 || c.Role == "" {
		return nil, ErrNotEncodable
	}

	fields := make([]string, 0, 4)
	if c.Version != "" {
		fields = append(fields, c.Version)
	}
	fields = append(fields,
		strconv.Itoa(c.Group),
		c.Role,
		strings.ReplaceAll(payload, ",", CommaSentinel),
	)
	return []byte(strings.Join(fields, ",")), nil
}

// Decode parses raw and validates it against this context.
// Checks run in order: arity, version, group, origin role. The first failure
// decides the status. An empty validOrigins accepts every role.
func (c Context) Decode(raw []byte, validOrigins []string) Decoded {
	if len(raw) == 0 {
		return Decoded{Status: StatusEmpty}
	}

	arity := 3
	if c.Version != "" {
		arity = 4
	}
	fields := strings.Split(string(raw), ",")
	if len(fields) != arity {
		return Decoded{Status: StatusMalformed}
	}
	if c.Version != "" {
		if fields[0] != c.Version {
			return Decoded{Status: StatusVersionMismatch}
		}
		fields = fields[1:]
	}

	group, err := strconv.Atoi(fields[0])
	if err != nil {
		return Decoded{Status: StatusMalformed}
	}
	msg := Decoded{
		Group:   group,
		Origin:  fields[1],
		Payload: strings.ReplaceAll(fields[2], CommaSentinel, ","),
	}

	if c.Group != 0 && group != c.Group {
		msg.Status = StatusGroupMismatch
		return msg
	}
	if len(validOrigins) > 0 && !slices.Contains(validOrigins, msg.Origin) {
		if msg.Origin == c.Role {
			msg.Status = StatusRoleClone
		} else {
			msg.Status = StatusFiltered
		}
		return msg
	}
	msg.Status = StatusValid
	return msg
}
